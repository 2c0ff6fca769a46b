package activity

import (
	"context"

	"go.uber.org/zap"

	domain "github.com/tokenledger/activity-service/internal/domain/activity"
	"github.com/tokenledger/activity-service/internal/infrastructure/cache"
	"github.com/tokenledger/activity-service/internal/service/analytics"
)

// InvalidatingStore decorates a Store so every flush that lands in the
// database bumps the cache generations feeding the read paths. Queries and
// aggregates can then never serve data older than the last completed flush
// plus one cache round trip.
type InvalidatingStore struct {
	Store
	cache  *cache.QueryCache
	logger *zap.Logger
}

func NewInvalidatingStore(store Store, queryCache *cache.QueryCache, logger *zap.Logger) *InvalidatingStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InvalidatingStore{Store: store, cache: queryCache, logger: logger}
}

func (s *InvalidatingStore) StoreBatch(ctx context.Context, events []*domain.Event) (int, error) {
	n, err := s.Store.StoreBatch(ctx, events)
	if err != nil || n == 0 || s.cache == nil {
		return n, err
	}

	for _, group := range []string{QueryCacheGroup, analytics.CacheGroup} {
		if invErr := s.cache.Invalidate(ctx, group); invErr != nil {
			// Stale entries age out via TTL; a failed invalidation costs
			// freshness, not correctness.
			s.logger.Warn("cache invalidation failed",
				zap.String("group", group),
				zap.Error(invErr))
		}
	}
	return n, nil
}

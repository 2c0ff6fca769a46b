package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/tokenledger/activity-service/internal/domain/activity"
	"github.com/tokenledger/activity-service/internal/domain/errors"
	"github.com/tokenledger/activity-service/internal/infrastructure/cache"
)

// CacheGroup is the invalidation group all analytics results live under.
// The ingest pipeline bumps this group when a flush lands, so aggregates
// never outlive the data they summarize by more than one cache round trip.
const CacheGroup = "analytics"

const (
	// MaxPeriodDays bounds the analytics lookback window
	MaxPeriodDays = 365

	// DefaultPeriodDays is used when the caller passes zero
	DefaultPeriodDays = 7

	// maxScanEvents bounds how many events one aggregation will pull
	maxScanEvents = 100_000

	// healthWindow is the event lookback feeding the health score
	healthWindow = time.Hour

	// healthTTL keeps the health score fresher than general analytics
	healthTTL = 30 * time.Second
)

// EventReader is the slice of the store the aggregator needs.
type EventReader interface {
	QueryWindow(ctx context.Context, from, to time.Time, limit int) ([]*activity.Event, error)
}

// LiveSource supplies pipeline-level metrics the store cannot.
type LiveSource interface {
	Live() LiveMetrics
}

// Service assembles dashboard analytics from stored events, memoized
// through the query cache.
type Service struct {
	reader EventReader
	cache  *cache.QueryCache
	live   LiveSource
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates an analytics service. cache may be nil, in which case
// every call recomputes.
func NewService(reader EventReader, queryCache *cache.QueryCache, live LiveSource, ttl time.Duration) (*Service, error) {
	if reader == nil {
		return nil, errors.NewValidationError("MISSING_READER", "event reader is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		reader: reader,
		cache:  queryCache,
		live:   live,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// GetComprehensiveAnalytics builds the full metrics payload for the last
// periodDays days. Results are cached per period length.
func (s *Service) GetComprehensiveAnalytics(ctx context.Context, periodDays int) (*MetricsData, error) {
	if periodDays == 0 {
		periodDays = DefaultPeriodDays
	}
	if periodDays < 0 || periodDays > MaxPeriodDays {
		return nil, errors.NewValidationError("INVALID_PERIOD",
			fmt.Sprintf("period must be between 1 and %d days", MaxPeriodDays))
	}

	key := fmt.Sprintf("comprehensive:%d", periodDays)
	compute := func(ctx context.Context) (*MetricsData, error) {
		return s.assemble(ctx, periodDays)
	}

	if s.cache == nil {
		return compute(ctx)
	}
	return cache.GetOrCompute(ctx, s.cache, CacheGroup, key, s.ttl, compute)
}

// GetSystemHealthScore scores the last hour of activity against live
// pipeline state.
func (s *Service) GetSystemHealthScore(ctx context.Context) (*HealthScore, error) {
	compute := func(ctx context.Context) (*HealthScore, error) {
		to := s.now().UTC()
		events, err := s.reader.QueryWindow(ctx, to.Add(-healthWindow), to, maxScanEvents)
		if err != nil {
			return nil, errors.NewInternalError("failed to load events for health score").WithCause(err)
		}

		var live LiveMetrics
		if s.live != nil {
			live = s.live.Live()
		}
		score := ComputeHealthScore(events, live)
		return &score, nil
	}

	if s.cache == nil {
		return compute(ctx)
	}
	return cache.GetOrCompute(ctx, s.cache, CacheGroup, "health", healthTTL, compute)
}

func (s *Service) assemble(ctx context.Context, periodDays int) (*MetricsData, error) {
	to := s.now().UTC()
	from := to.AddDate(0, 0, -periodDays)

	events, err := s.reader.QueryWindow(ctx, from, to, maxScanEvents)
	if err != nil {
		return nil, errors.NewInternalError("failed to load events for analytics").WithCause(err)
	}

	return &MetricsData{
		PeriodDays:   periodDays,
		From:         from,
		To:           to,
		Summary:      ComputeSummary(events),
		Trends:       ComputeTrends(events),
		Performance:  ComputePerformance(events),
		TopActions:   ComputeTopActions(events, TopActionsLimit),
		UserActivity: ComputeUserActivity(events, TopUsersLimit),
	}, nil
}

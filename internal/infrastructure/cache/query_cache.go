package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokenledger/activity-service/internal/domain/errors"
)

// QueryCache serves repeated analytic queries from Redis with a short TTL.
// It holds copies keyed by query fingerprint, never authoritative state, so
// losing it costs staleness bounded by the TTL and nothing else.
//
// Invalidation uses a per-group generation counter: bumping the counter
// orphans every key written under the old generation, which then ages out
// by TTL. A compute racing an invalidation writes into the old generation
// and is never read again, so invalidated data cannot be resurrected.
type QueryCache struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	ttlJitter time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// QueryCacheConfig holds tuning for the query cache.
type QueryCacheConfig struct {
	KeyPrefix string        // namespace for all keys (default: "activity")
	TTLJitter time.Duration // randomized TTL spread against stampede (default: 30s)
}

func DefaultQueryCacheConfig() *QueryCacheConfig {
	return &QueryCacheConfig{
		KeyPrefix: "activity",
		TTLJitter: 30 * time.Second,
	}
}

func NewQueryCache(client *redis.Client, logger *zap.Logger, cfg *QueryCacheConfig) (*QueryCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		cfg = DefaultQueryCacheConfig()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "activity"
	}

	return &QueryCache{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
		ttlJitter: cfg.TTLJitter,
	}, nil
}

// GetOrCompute returns the cached value for (group, key) when fresh,
// otherwise invokes compute, stores the result, and returns it. Redis
// failures degrade to computing directly: the cache is never a correctness
// boundary.
func GetOrCompute[T any](ctx context.Context, c *QueryCache, group, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	var zero T

	gen, err := c.generation(ctx, group)
	if err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache generation lookup failed, computing directly",
			zap.String("group", group), zap.Error(err))
		return compute(ctx)
	}

	fullKey := c.entryKey(group, gen, key)

	data, err := c.client.Get(ctx, fullKey).Bytes()
	switch {
	case err == nil:
		var value T
		if unmarshalErr := json.Unmarshal(data, &value); unmarshalErr == nil {
			c.hits.Add(1)
			return value, nil
		}
		// Corrupt entry: fall through to recompute.
		c.errs.Add(1)
	case err != redis.Nil:
		c.errs.Add(1)
		c.logger.Warn("cache read failed, computing directly",
			zap.String("key", fullKey), zap.Error(err))
		return compute(ctx)
	}

	c.misses.Add(1)

	value, err := compute(ctx)
	if err != nil {
		return zero, err
	}

	data, err = json.Marshal(value)
	if err != nil {
		return zero, errors.NewInternalError("failed to marshal cache value").WithCause(err)
	}
	if err := c.client.Set(ctx, fullKey, data, c.addJitter(ttl)).Err(); err != nil {
		c.errs.Add(1)
		c.logger.Warn("cache write failed", zap.String("key", fullKey), zap.Error(err))
	}

	return value, nil
}

// Invalidate orphans every entry in the group by bumping its generation.
func (c *QueryCache) Invalidate(ctx context.Context, group string) error {
	if err := c.client.Incr(ctx, c.generationKey(group)).Err(); err != nil {
		c.errs.Add(1)
		return errors.NewInternalError("failed to invalidate cache group").WithCause(err)
	}
	return nil
}

// Clear removes every key under this cache's namespace.
func (c *QueryCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+":*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 500 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return errors.NewInternalError("failed to clear cache").WithCause(err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return errors.NewInternalError("failed to scan cache keys").WithCause(err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return errors.NewInternalError("failed to clear cache").WithCause(err)
		}
	}
	return nil
}

// Size reports the number of live entries under this cache's namespace,
// generation counters excluded.
func (c *QueryCache) Size(ctx context.Context) (int64, error) {
	var n int64
	iter := c.client.Scan(ctx, 0, c.keyPrefix+":v:*", 500).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, errors.NewInternalError("failed to scan cache keys").WithCause(err)
	}
	return n, nil
}

// Metrics returns cumulative hit/miss/error counts.
func (c *QueryCache) Metrics() (hits, misses, errs int64) {
	return c.hits.Load(), c.misses.Load(), c.errs.Load()
}

func (c *QueryCache) generation(ctx context.Context, group string) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(group)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (c *QueryCache) generationKey(group string) string {
	return fmt.Sprintf("%s:gen:%s", c.keyPrefix, group)
}

func (c *QueryCache) entryKey(group string, gen int64, key string) string {
	return fmt.Sprintf("%s:v:%s:%d:%s", c.keyPrefix, group, gen, key)
}

func (c *QueryCache) addJitter(ttl time.Duration) time.Duration {
	if c.ttlJitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(c.ttlJitter)))
}

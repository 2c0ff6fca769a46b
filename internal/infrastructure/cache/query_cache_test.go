package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCache(t *testing.T) (*QueryCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cache, err := NewQueryCache(client, zaptest.NewLogger(t), &QueryCacheConfig{
		KeyPrefix: "test",
		TTLJitter: 0,
	})
	require.NoError(t, err)
	return cache, mr
}

func TestGetOrComputeInvokesComputeOncePerTTL(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	}

	v, err := GetOrCompute(ctx, cache, "stats", "k1", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = GetOrCompute(ctx, cache, "stats", "k1", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	assert.Equal(t, 1, calls, "second call within TTL must be a cache hit")

	hits, misses, _ := cache.Metrics()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestGetOrComputeRecomputesAfterExpiry(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) (string, error) {
		calls++
		return "value", nil
	}

	_, err := GetOrCompute(ctx, cache, "stats", "k1", time.Minute, compute)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = GetOrCompute(ctx, cache, "stats", "k1", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) (int, error) {
		calls++
		return calls, nil
	}

	first, err := GetOrCompute(ctx, cache, "stats", "k1", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	require.NoError(t, cache.Invalidate(ctx, "stats"))

	second, err := GetOrCompute(ctx, cache, "stats", "k1", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, second)
	assert.Equal(t, 2, calls, "invalidate must force a recompute")
}

func TestInvalidateIsScopedToGroup(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	statsCalls, healthCalls := 0, 0
	_, err := GetOrCompute(ctx, cache, "stats", "k", time.Minute, func(ctx context.Context) (int, error) {
		statsCalls++
		return 1, nil
	})
	require.NoError(t, err)
	_, err = GetOrCompute(ctx, cache, "health", "k", time.Minute, func(ctx context.Context) (int, error) {
		healthCalls++
		return 1, nil
	})
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx, "stats"))

	_, err = GetOrCompute(ctx, cache, "stats", "k", time.Minute, func(ctx context.Context) (int, error) {
		statsCalls++
		return 1, nil
	})
	require.NoError(t, err)
	_, err = GetOrCompute(ctx, cache, "health", "k", time.Minute, func(ctx context.Context) (int, error) {
		healthCalls++
		return 1, nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, statsCalls)
	assert.Equal(t, 1, healthCalls, "other groups keep their entries")
}

func TestClearRemovesEverything(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		_, err := GetOrCompute(ctx, cache, "stats", key, time.Minute, func(ctx context.Context) (string, error) {
			return "v", nil
		})
		require.NoError(t, err)
	}

	size, err := cache.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	require.NoError(t, cache.Clear(ctx))

	size, err = cache.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestGetOrComputeDegradesWhenRedisDown(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	mr.Close()

	v, err := GetOrCompute(ctx, cache, "stats", "k", time.Minute, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err, "cache failure must degrade to computing directly")
	assert.Equal(t, 7, v)
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, err := GetOrCompute(ctx, cache, "stats", "k", time.Minute, func(ctx context.Context) (int, error) {
		return 0, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
}

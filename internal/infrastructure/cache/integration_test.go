//go:build integration

package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap/zaptest"
)

func setupRedisCache(t *testing.T) *QueryCache {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	client := goredis.NewClient(&goredis.Options{
		Addr: strings.TrimPrefix(uri, "redis://"),
	})
	t.Cleanup(func() { _ = client.Close() })

	qc, err := NewQueryCache(client, zaptest.NewLogger(t), DefaultQueryCacheConfig())
	require.NoError(t, err)
	return qc
}

func TestQueryCacheAgainstRealRedis(t *testing.T) {
	qc := setupRedisCache(t)
	ctx := context.Background()

	computes := 0
	compute := func(context.Context) (string, error) {
		computes++
		return "payload", nil
	}

	got, err := GetOrCompute(ctx, qc, "activities", "k1", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, "payload", got)

	got, err = GetOrCompute(ctx, qc, "activities", "k1", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, "payload", got)
	assert.Equal(t, 1, computes, "second read should hit the cache")

	size, err := qc.Size(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, size, int64(1))

	// Bumping the group generation orphans the old entry.
	require.NoError(t, qc.Invalidate(ctx, "activities"))
	_, err = GetOrCompute(ctx, qc, "activities", "k1", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, computes)

	require.NoError(t, qc.Clear(ctx))
	size, err = qc.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

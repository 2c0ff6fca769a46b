//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tokenledger/activity-service/internal/domain/activity"
)

const eventsSchema = `
CREATE TABLE IF NOT EXISTS activity_events (
	id UUID PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	source TEXT NOT NULL,
	category TEXT NOT NULL,
	action TEXT NOT NULL,
	status TEXT NOT NULL,
	severity TEXT NOT NULL,
	entity_type TEXT,
	entity_id TEXT,
	user_id UUID,
	user_email TEXT,
	details TEXT,
	metadata JSONB,
	duration_ms BIGINT
);
CREATE INDEX IF NOT EXISTS idx_activity_events_timestamp ON activity_events (timestamp DESC, id DESC);
`

func setupRepo(t *testing.T) (*ActivityRepository, func()) {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("activity_test"),
		postgres.WithUsername("activity"),
		postgres.WithPassword("activity"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort(nat.Port("5432/tcp")).WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, eventsSchema)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}
	return NewActivityRepository(pool), cleanup
}

func TestActivityRepository_StoreBatchAndQuery(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	events := make([]*activity.Event, 0, 20)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 20; i++ {
		e, err := activity.NewEvent(activity.SourceAPI, activity.CategoryData, "record_updated")
		require.NoError(t, err)
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if i%4 == 0 {
			e.Status = activity.StatusFailure
			e.Severity = activity.SeverityWarning
		} else {
			e.Status = activity.StatusSuccess
		}
		events = append(events, e)
	}

	written, err := repo.StoreBatch(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 20, written)

	// Re-storing the same batch is a no-op thanks to ON CONFLICT.
	written, err = repo.StoreBatch(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 0, written)

	page, total, err := repo.Query(ctx, activity.Filter{Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, int64(20), total)
	require.Len(t, page, 5)
	// Default order is newest first.
	assert.True(t, page[0].Timestamp.After(page[4].Timestamp))

	failures, total, err := repo.Query(ctx, activity.Filter{
		Statuses: []activity.Status{activity.StatusFailure},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, failures, 5)
}

func TestActivityRepository_QueryWindow(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	var events []*activity.Event
	for i := 0; i < 10; i++ {
		e, err := activity.NewEvent(activity.SourceSystem, activity.CategorySystem, "tick")
		require.NoError(t, err)
		e.Timestamp = now.Add(time.Duration(-i) * time.Hour)
		events = append(events, e)
	}
	_, err := repo.StoreBatch(ctx, events)
	require.NoError(t, err)

	window, err := repo.QueryWindow(ctx, now.Add(-3*time.Hour-time.Minute), now.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Len(t, window, 4)
	// Window scans come back oldest first.
	for i := 1; i < len(window); i++ {
		assert.True(t, window[i].Timestamp.After(window[i-1].Timestamp))
	}
}

func TestActivityRepository_DeleteOlderThan(t *testing.T) {
	repo, cleanup := setupRepo(t)
	defer cleanup()
	ctx := context.Background()

	now := time.Now().UTC()
	var events []*activity.Event
	for i := 0; i < 12; i++ {
		e, err := activity.NewEvent(activity.SourceSystem, activity.CategorySystem, "tick")
		require.NoError(t, err)
		e.Timestamp = now.AddDate(0, 0, -i*10)
		events = append(events, e)
	}
	_, err := repo.StoreBatch(ctx, events)
	require.NoError(t, err)

	cutoff := now.AddDate(0, 0, -45)

	pending, err := repo.CountOlderThan(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), pending)

	// Batches smaller than the backlog need multiple passes.
	var deleted int64
	for {
		n, err := repo.DeleteOlderThan(ctx, cutoff, 3)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		deleted += n
	}
	assert.Equal(t, int64(7), deleted)

	_, total, err := repo.Query(ctx, activity.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
}

//go:build integration

package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newMigrator(t *testing.T) *migrate.Migrate {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("activity_migrate_test"),
		postgres.WithUsername("activity"),
		postgres.WithPassword("activity"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort(nat.Port("5432/tcp")).WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	require.NoError(t, err)

	dir := filepath.Join("..", "..", "..", "migrations")
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	require.NoError(t, err)
	return m
}

func TestMigrationsUpAndDown(t *testing.T) {
	m := newMigrator(t)

	_, _, err := m.Version()
	require.True(t, errors.Is(err, migrate.ErrNilVersion))

	require.NoError(t, m.Up())

	version, dirty, err := m.Version()
	require.NoError(t, err)
	require.False(t, dirty)
	require.Greater(t, version, uint(0))

	// Running up again is a no-op.
	require.True(t, errors.Is(m.Up(), migrate.ErrNoChange))

	require.NoError(t, m.Down())
	_, _, err = m.Version()
	require.True(t, errors.Is(err, migrate.ErrNilVersion))
}

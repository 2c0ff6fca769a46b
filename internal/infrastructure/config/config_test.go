package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Ingest.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Ingest.FlushInterval)
	assert.Equal(t, 10_000, cfg.Ingest.MaxQueueSize)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "activity", cfg.Cache.KeyPrefix)
	assert.Equal(t, 3.0, cfg.Anomaly.ZScoreThreshold)
	assert.Equal(t, 100, cfg.Security.RateLimit.RequestsPerSecond)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
environment: production
server:
  port: 9090
ingest:
  batch_size: 250
redis:
  url: redis.internal:6379
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 250, cfg.Ingest.BatchSize)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.URL)
	// Untouched keys keep their defaults.
	assert.Equal(t, 10_000, cfg.Ingest.MaxQueueSize)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o644))

	t.Setenv("ACTIVITY_SERVER_PORT", "7070")
	t.Setenv("ACTIVITY_ENVIRONMENT", "staging")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "staging", cfg.Environment)
}

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Ingest     IngestConfig     `koanf:"ingest"`
	Cache      CacheConfig      `koanf:"cache"`
	Anomaly    AnomalyConfig    `koanf:"anomaly"`
	Export     ExportConfig     `koanf:"export"`
	Security   SecurityConfig   `koanf:"security"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type TelemetryConfig struct {
	Enabled      bool          `koanf:"enabled"`
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	SamplingRate float64       `koanf:"sampling_rate"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
}

// IngestConfig tunes the event queue. BatchSize and FlushInterval defaults
// follow the documented pipeline targets but are configuration, not
// guarantees.
type IngestConfig struct {
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
	MaxQueueSize  int           `koanf:"max_queue_size"`
	FlushRetries  int           `koanf:"flush_retries"`
	RetryBaseWait time.Duration `koanf:"retry_base_wait"`
	FlushTimeout  time.Duration `koanf:"flush_timeout"`
	DrainTimeout  time.Duration `koanf:"drain_timeout"`
	MetricsWindow time.Duration `koanf:"metrics_window"`
}

type CacheConfig struct {
	TTL       time.Duration `koanf:"ttl"`
	TTLJitter time.Duration `koanf:"ttl_jitter"`
	KeyPrefix string        `koanf:"key_prefix"`
}

type AnomalyConfig struct {
	Window           time.Duration `koanf:"window"`
	BaselineWindow   time.Duration `koanf:"baseline_window"`
	ZScoreThreshold  float64       `koanf:"z_score_threshold"`
	AuthFailureLimit int           `koanf:"auth_failure_limit"`
}

type ExportConfig struct {
	Directory   string `koanf:"directory"`
	DownloadURL string `koanf:"download_url"`
	RedactPII   bool   `koanf:"redact_pii"`
}

type SecurityConfig struct {
	JWTSecret   string        `koanf:"jwt_secret"`
	TokenExpiry time.Duration `koanf:"token_expiry"`

	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

// Load reads configuration in three layers: struct defaults, an optional
// YAML file, then ACTIVITY_* environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MinIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL: "localhost:6379",
		},
		Telemetry: TelemetryConfig{
			SamplingRate: 0.1,
			BatchTimeout: 5 * time.Second,
		},
		Ingest: IngestConfig{
			BatchSize:     500,
			FlushInterval: 5 * time.Second,
			MaxQueueSize:  10_000,
			FlushRetries:  3,
			RetryBaseWait: 100 * time.Millisecond,
			FlushTimeout:  5 * time.Second,
			DrainTimeout:  30 * time.Second,
			MetricsWindow: time.Minute,
		},
		Cache: CacheConfig{
			TTL:       5 * time.Minute,
			TTLJitter: 30 * time.Second,
			KeyPrefix: "activity",
		},
		Anomaly: AnomalyConfig{
			Window:           15 * time.Minute,
			BaselineWindow:   24 * time.Hour,
			ZScoreThreshold:  3.0,
			AuthFailureLimit: 5,
		},
		Export: ExportConfig{
			Directory:   os.TempDir(),
			DownloadURL: "/downloads",
		},
		Security: SecurityConfig{
			TokenExpiry: 24 * time.Hour,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = "configs/config.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("ACTIVITY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "ACTIVITY_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

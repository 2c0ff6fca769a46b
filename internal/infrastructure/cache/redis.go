package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokenledger/activity-service/internal/infrastructure/config"
)

// NewRedisClient opens a Redis connection and verifies it is reachable.
func NewRedisClient(cfg *config.RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.URL,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis client initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB))

	return client, nil
}

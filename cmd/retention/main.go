// Command retention deletes activity events older than the retention
// window. It removes rows in bounded batches so a large backlog never turns
// into one long-running delete.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tokenledger/activity-service/internal/infrastructure/config"
	"github.com/tokenledger/activity-service/internal/infrastructure/database"
	"github.com/tokenledger/activity-service/internal/infrastructure/telemetry"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	days       = flag.Int("days", 90, "Delete events older than this many days")
	batchSize  = flag.Int("batch", 1000, "Rows deleted per batch")
	dryRun     = flag.Bool("dry-run", false, "Report what would be deleted without deleting")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, &cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := database.NewActivityRepository(pool)
	cutoff := time.Now().UTC().AddDate(0, 0, -*days)

	if err := sweep(ctx, logger, repo, cutoff, *batchSize, *dryRun); err != nil {
		logger.Error("retention sweep failed", "error", err)
		os.Exit(1)
	}
}

func sweep(ctx context.Context, logger *slog.Logger, repo *database.ActivityRepository, cutoff time.Time, batchSize int, dryRun bool) error {
	if dryRun {
		total, err := repo.CountOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		logger.Info("dry run",
			slog.Time("cutoff", cutoff),
			slog.Int64("events_to_delete", total))
		return nil
	}

	var deleted int64
	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("sweep interrupted", slog.Int64("deleted", deleted))
			return err
		}
		n, err := repo.DeleteOlderThan(ctx, cutoff, batchSize)
		if err != nil {
			return err
		}
		deleted += n
		if n == 0 {
			break
		}
		logger.Debug("batch deleted", slog.Int64("rows", n))
	}

	logger.Info("retention sweep complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("deleted", deleted))
	return nil
}

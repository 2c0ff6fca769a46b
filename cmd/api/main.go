package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tokenledger/activity-service/internal/api/rest"
	"github.com/tokenledger/activity-service/internal/infrastructure/cache"
	"github.com/tokenledger/activity-service/internal/infrastructure/config"
	"github.com/tokenledger/activity-service/internal/infrastructure/database"
	"github.com/tokenledger/activity-service/internal/infrastructure/telemetry"
	"github.com/tokenledger/activity-service/internal/metrics"
	"github.com/tokenledger/activity-service/internal/service/activity"
	"github.com/tokenledger/activity-service/internal/service/analytics"
	"github.com/tokenledger/activity-service/internal/service/anomaly"
	"github.com/tokenledger/activity-service/internal/service/compliance"
	"github.com/tokenledger/activity-service/internal/service/export"
	"github.com/tokenledger/activity-service/internal/service/ingest"
)

const serviceName = "activity-service"

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)

	zapLogger, err := newZapLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync() //nolint:errcheck

	ctx := context.Background()

	provider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  30 * time.Second,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	registry, err := metrics.NewRegistry(serviceName)
	if err != nil {
		log.Fatalf("Failed to initialize metrics registry: %v", err)
	}

	pool, err := database.Connect(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, zapLogger)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	queryCache, err := cache.NewQueryCache(redisClient, zapLogger, &cache.QueryCacheConfig{
		KeyPrefix: cfg.Cache.KeyPrefix,
		TTLJitter: cfg.Cache.TTLJitter,
	})
	if err != nil {
		log.Fatalf("Failed to initialize query cache: %v", err)
	}

	repo := database.NewActivityRepository(pool)
	store := activity.NewInvalidatingStore(repo, queryCache, zapLogger)

	queue, err := ingest.NewQueue(ingest.Config{
		BatchSize:     cfg.Ingest.BatchSize,
		FlushInterval: cfg.Ingest.FlushInterval,
		MaxQueueSize:  cfg.Ingest.MaxQueueSize,
		FlushRetries:  cfg.Ingest.FlushRetries,
		RetryBaseWait: cfg.Ingest.RetryBaseWait,
		FlushTimeout:  cfg.Ingest.FlushTimeout,
		DrainTimeout:  cfg.Ingest.DrainTimeout,
		MetricsWindow: cfg.Ingest.MetricsWindow,
	}, zapLogger, store, registry)
	if err != nil {
		log.Fatalf("Failed to initialize ingest queue: %v", err)
	}

	live := &queueLiveSource{queue: queue, maxQueueSize: cfg.Ingest.MaxQueueSize}

	analyticsSvc, err := analytics.NewService(repo, queryCache, live, cfg.Cache.TTL)
	if err != nil {
		log.Fatalf("Failed to initialize analytics service: %v", err)
	}

	detector, err := anomaly.NewDetector(anomaly.Config{
		Window:           cfg.Anomaly.Window,
		BaselineWindow:   cfg.Anomaly.BaselineWindow,
		ZScoreThreshold:  cfg.Anomaly.ZScoreThreshold,
		AuthFailureLimit: cfg.Anomaly.AuthFailureLimit,
	}, repo, zapLogger, registry)
	if err != nil {
		log.Fatalf("Failed to initialize anomaly detector: %v", err)
	}

	complianceSvc, err := compliance.NewService(repo, zapLogger)
	if err != nil {
		log.Fatalf("Failed to initialize compliance service: %v", err)
	}

	exportSvc, err := export.NewService(export.Config{
		Directory:   cfg.Export.Directory,
		DownloadURL: cfg.Export.DownloadURL,
		RedactPII:   cfg.Export.RedactPII,
	}, repo, zapLogger, registry)
	if err != nil {
		log.Fatalf("Failed to initialize export service: %v", err)
	}

	svc, err := activity.NewService(activity.Options{
		Logger:       zapLogger,
		Store:        store,
		Queue:        queue,
		Cache:        queryCache,
		Analytics:    analyticsSvc,
		Anomaly:      detector,
		Compliance:   complianceSvc,
		Export:       exportSvc,
		Registry:     registry,
		QueryTTL:     cfg.Cache.TTL,
		MaxQueueSize: cfg.Ingest.MaxQueueSize,
	})
	if err != nil {
		log.Fatalf("Failed to assemble activity service: %v", err)
	}

	svc.Start(ctx)

	stopPublisher := make(chan struct{})
	go publishQueueMetrics(queue, stopPublisher)

	auth := rest.NewAuthMiddleware(cfg.Security.JWTSecret, serviceName)
	handler := rest.NewHandler(svc, logger, auth)
	server := rest.NewServer(rest.ServerConfig{
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		RateLimitRPS: cfg.Security.RateLimit.RequestsPerSecond,
		RateBurst:    cfg.Security.RateLimit.BurstSize,
	}, logger, handler, MetricsHandler(), InstrumentHTTPHandler)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server error: %v", err)
		}
		return
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	}

	close(stopPublisher)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("queue drain failed on shutdown", "error", err)
		os.Exit(1)
	}
}

// queueLiveSource feeds the health score's load and pipeline-error factors
// from the running queue.
type queueLiveSource struct {
	queue        *ingest.Queue
	maxQueueSize int
}

func (s *queueLiveSource) Live() analytics.LiveMetrics {
	m := s.queue.Metrics()
	return analytics.LiveMetrics{
		FlushErrorRate: m.ErrorRate,
		QueueSize:      m.QueueSize,
		MaxQueueSize:   s.maxQueueSize,
	}
}

func newZapLogger(environment string) (*zap.Logger, error) {
	if environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

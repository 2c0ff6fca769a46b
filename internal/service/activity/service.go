package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	domain "github.com/tokenledger/activity-service/internal/domain/activity"
	"github.com/tokenledger/activity-service/internal/domain/errors"
	"github.com/tokenledger/activity-service/internal/infrastructure/cache"
	"github.com/tokenledger/activity-service/internal/metrics"
	"github.com/tokenledger/activity-service/internal/service/analytics"
	"github.com/tokenledger/activity-service/internal/service/anomaly"
	"github.com/tokenledger/activity-service/internal/service/compliance"
	"github.com/tokenledger/activity-service/internal/service/export"
	"github.com/tokenledger/activity-service/internal/service/ingest"
)

// QueryCacheGroup is the invalidation group for paged activity queries.
const QueryCacheGroup = "activities"

// Store is the durable event store the facade composes.
type Store interface {
	StoreBatch(ctx context.Context, events []*domain.Event) (int, error)
	Query(ctx context.Context, filter domain.Filter) ([]*domain.Event, int64, error)
	QueryWindow(ctx context.Context, from, to time.Time, limit int) ([]*domain.Event, error)
}

// Page is one page of activity, with the total independent of page size.
type Page struct {
	Activities []*domain.Event `json:"activities"`
	TotalCount int64           `json:"total_count"`
}

// Service is the single entry point the API layer talks to. It owns the
// ingest queue's lifecycle and the cache coherence between writes and the
// read paths.
type Service struct {
	logger    *zap.Logger
	store     Store
	queue     *ingest.Queue
	cache     *cache.QueryCache
	analytics *analytics.Service
	anomaly   *anomaly.Detector
	compl     *compliance.Service
	export    *export.Service
	registry  *metrics.Registry

	queryTTL     time.Duration
	maxQueueSize int
}

// Options carries the composed dependencies. Queue and Store are required;
// a nil cache disables memoization, nil sub-services disable their
// endpoints.
type Options struct {
	Logger       *zap.Logger
	Store        Store
	Queue        *ingest.Queue
	Cache        *cache.QueryCache
	Analytics    *analytics.Service
	Anomaly      *anomaly.Detector
	Compliance   *compliance.Service
	Export       *export.Service
	Registry     *metrics.Registry
	QueryTTL     time.Duration
	MaxQueueSize int
}

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.NewValidationError("MISSING_STORE", "store is required")
	}
	if opts.Queue == nil {
		return nil, errors.NewValidationError("MISSING_QUEUE", "ingest queue is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.QueryTTL <= 0 {
		opts.QueryTTL = 5 * time.Minute
	}
	return &Service{
		logger:       opts.Logger,
		store:        opts.Store,
		queue:        opts.Queue,
		cache:        opts.Cache,
		analytics:    opts.Analytics,
		anomaly:      opts.Anomaly,
		compl:        opts.Compliance,
		export:       opts.Export,
		registry:     opts.Registry,
		queryTTL:     opts.QueryTTL,
		maxQueueSize: opts.MaxQueueSize,
	}, nil
}

// Start brings up the background flusher.
func (s *Service) Start(ctx context.Context) {
	s.queue.Start(ctx)
	s.logger.Info("activity service started")
}

// Shutdown drains the queue and closes subscriptions. Buffered events are
// flushed within the queue's drain bound.
func (s *Service) Shutdown(ctx context.Context) error {
	err := s.queue.Shutdown(ctx)
	s.logger.Info("activity service stopped", zap.Error(err))
	return err
}

// LogActivity accepts an event and returns immediately. Pipeline failures
// are never surfaced here; they show up in GetQueueMetrics and operator
// metrics.
func (s *Service) LogActivity(event *domain.Event) {
	s.queue.Enqueue(event)
}

// GetActivities returns one page of stored activity matching the filter.
// Results are cached per filter fingerprint, so two filters differing only
// in time range or pagination never share an entry.
func (s *Service) GetActivities(ctx context.Context, filter domain.Filter) (*Page, error) {
	filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		if s.registry != nil {
			s.registry.QueryDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
		}
		s.publishCacheHitRate()
	}()

	compute := func(ctx context.Context) (*Page, error) {
		events, total, err := s.store.Query(ctx, filter)
		if err != nil {
			return nil, err
		}
		return &Page{Activities: events, TotalCount: total}, nil
	}

	if s.cache == nil {
		return compute(ctx)
	}
	return cache.GetOrCompute(ctx, s.cache, QueryCacheGroup, filter.Fingerprint(), s.queryTTL, compute)
}

// publishCacheHitRate feeds the observable gauge from the cache's
// cumulative counters.
func (s *Service) publishCacheHitRate() {
	if s.registry == nil || s.cache == nil {
		return
	}
	hits, misses, _ := s.cache.Metrics()
	if total := hits + misses; total > 0 {
		s.registry.SetCacheHitRate(float64(hits) / float64(total))
	}
}

// GetQueueMetrics reports pipeline state for the operations dashboard.
func (s *Service) GetQueueMetrics(ctx context.Context) (*ingest.QueueMetrics, error) {
	m := s.queue.Metrics()
	if s.cache != nil {
		size, err := s.cache.Size(ctx)
		if err != nil {
			s.logger.Warn("cache size unavailable", zap.Error(err))
		} else {
			m.CacheSize = size
		}
	}
	return &m, nil
}

// FlushQueue synchronously drains the ingest buffer. The bound comes from
// the caller's deadline or the queue's drain timeout.
func (s *Service) FlushQueue(ctx context.Context) error {
	return s.queue.Flush(ctx)
}

// ClearCache drops every cached query and aggregate.
func (s *Service) ClearCache(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Clear(ctx)
}

func (s *Service) GetComprehensiveAnalytics(ctx context.Context, periodDays int) (*analytics.MetricsData, error) {
	if s.analytics == nil {
		return nil, errors.NewInternalError("analytics is not configured")
	}
	return s.analytics.GetComprehensiveAnalytics(ctx, periodDays)
}

func (s *Service) GetSystemHealthScore(ctx context.Context) (*analytics.HealthScore, error) {
	if s.analytics == nil {
		return nil, errors.NewInternalError("analytics is not configured")
	}
	return s.analytics.GetSystemHealthScore(ctx)
}

func (s *Service) GetAnomalyDetection(ctx context.Context) (*anomaly.Result, error) {
	if s.anomaly == nil {
		return nil, errors.NewInternalError("anomaly detection is not configured")
	}
	return s.anomaly.Detect(ctx)
}

func (s *Service) GetComplianceReport(ctx context.Context, standard string, from, to time.Time) (*compliance.Report, error) {
	if s.compl == nil {
		return nil, errors.NewInternalError("compliance evaluation is not configured")
	}
	return s.compl.Evaluate(ctx, standard, from, to)
}

func (s *Service) ExportAuditData(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.export == nil {
		return nil, errors.NewInternalError("export is not configured")
	}
	return s.export.Export(ctx, req)
}

// Subscribe taps the live event feed for streaming consumers.
func (s *Service) Subscribe() (<-chan *domain.Event, func()) {
	return s.queue.Subscribe()
}

// Live implements analytics.LiveSource with current pipeline state.
func (s *Service) Live() analytics.LiveMetrics {
	m := s.queue.Metrics()
	return analytics.LiveMetrics{
		FlushErrorRate: m.ErrorRate,
		QueueSize:      m.QueueSize,
		MaxQueueSize:   s.maxQueueSize,
	}
}

package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the pipeline metrics for the activity service. Counters
// are driven by the ingest and query paths; gauges observe queue and cache
// state lazily on export.
type Registry struct {
	meter metric.Meter

	// Ingest pipeline
	EventsEnqueued     metric.Int64Counter
	EventsDropped      metric.Int64Counter
	FlushSuccessTotal  metric.Int64Counter
	FlushFailureTotal  metric.Int64Counter
	FlushDuration      metric.Float64Histogram
	FlushBatchSize     metric.Int64Histogram
	QueueDepth         metric.Int64ObservableGauge
	ProcessingRate     metric.Float64ObservableGauge

	// Query and cache
	QueryDuration metric.Float64Histogram
	CacheHitRate  metric.Float64ObservableGauge

	// Evaluators
	AnomaliesDetected metric.Int64Counter
	ExportsTotal      metric.Int64Counter

	// State fed by callbacks
	mu            sync.RWMutex
	queueDepth    int64
	processingRate float64
	cacheHitRate  float64
}

// NewRegistry creates a metrics registry on the named meter.
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}

	if err := r.initIngestMetrics(); err != nil {
		return nil, err
	}
	if err := r.initQueryMetrics(); err != nil {
		return nil, err
	}
	if err := r.initEvaluatorMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initIngestMetrics() error {
	var err error

	r.EventsEnqueued, err = r.meter.Int64Counter(
		"activity.ingest.enqueued_total",
		metric.WithDescription("Total events accepted by the ingest queue"),
	)
	if err != nil {
		return err
	}

	r.EventsDropped, err = r.meter.Int64Counter(
		"activity.ingest.dropped_total",
		metric.WithDescription("Events evicted on queue overflow or lost after flush retries"),
	)
	if err != nil {
		return err
	}

	r.FlushSuccessTotal, err = r.meter.Int64Counter(
		"activity.ingest.flush_success_total",
		metric.WithDescription("Flush attempts that committed a batch"),
	)
	if err != nil {
		return err
	}

	r.FlushFailureTotal, err = r.meter.Int64Counter(
		"activity.ingest.flush_failure_total",
		metric.WithDescription("Flush attempts that failed after retries"),
	)
	if err != nil {
		return err
	}

	r.FlushDuration, err = r.meter.Float64Histogram(
		"activity.ingest.flush_duration",
		metric.WithDescription("Batch flush latency in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.FlushBatchSize, err = r.meter.Int64Histogram(
		"activity.ingest.flush_batch_size",
		metric.WithDescription("Events per flushed batch"),
		metric.WithExplicitBucketBoundaries(1, 10, 50, 100, 250, 500, 1000),
	)
	if err != nil {
		return err
	}

	r.QueueDepth, err = r.meter.Int64ObservableGauge(
		"activity.ingest.queue_depth",
		metric.WithDescription("Events buffered and not yet flushed"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.queueDepth)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.ProcessingRate, err = r.meter.Float64ObservableGauge(
		"activity.ingest.processing_rate",
		metric.WithDescription("Events flushed per second over the rolling window"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.processingRate)
			return nil
		}),
	)
	return err
}

func (r *Registry) initQueryMetrics() error {
	var err error

	r.QueryDuration, err = r.meter.Float64Histogram(
		"activity.query.duration",
		metric.WithDescription("Activity query latency in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return err
	}

	r.CacheHitRate, err = r.meter.Float64ObservableGauge(
		"activity.cache.hit_rate",
		metric.WithDescription("Fraction of analytic reads served from cache"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.cacheHitRate)
			return nil
		}),
	)
	return err
}

func (r *Registry) initEvaluatorMetrics() error {
	var err error

	r.AnomaliesDetected, err = r.meter.Int64Counter(
		"activity.anomaly.detected_total",
		metric.WithDescription("Anomalies produced by the evaluator"),
	)
	if err != nil {
		return err
	}

	r.ExportsTotal, err = r.meter.Int64Counter(
		"activity.export.total",
		metric.WithDescription("Audit data exports generated"),
	)
	return err
}

// SetQueueDepth updates the observed queue depth.
func (r *Registry) SetQueueDepth(depth int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queueDepth = depth
}

// SetProcessingRate updates the observed flush throughput.
func (r *Registry) SetProcessingRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processingRate = rate
}

// SetCacheHitRate updates the observed cache hit ratio.
func (r *Registry) SetCacheHitRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cacheHitRate = rate
}

// RecordAnomaly counts one detected anomaly of the given type.
func (r *Registry) RecordAnomaly(ctx context.Context, anomalyType string) {
	r.AnomaliesDetected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", anomalyType),
	))
}

// RecordExport counts one completed export in the given format.
func (r *Registry) RecordExport(ctx context.Context, format string) {
	r.ExportsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("format", format),
	))
}

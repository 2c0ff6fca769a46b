package ingest

import (
	"context"

	"github.com/tokenledger/activity-service/internal/domain/activity"
)

// StoreWriter is the durable sink for flushed batches.
type StoreWriter interface {
	StoreBatch(ctx context.Context, events []*activity.Event) (int, error)
}

// QueueMetrics is the operator-facing snapshot of pipeline state. It is
// recomputed on every read and never persisted.
type QueueMetrics struct {
	// QueueSize is the number of events buffered and not yet flushed.
	QueueSize int `json:"queue_size"`

	// CacheSize is the number of live read-cache entries; filled in by the
	// service facade, the queue itself reports zero.
	CacheSize int64 `json:"cache_size"`

	// ProcessingRate is events durably flushed per second over the rolling
	// window.
	ProcessingRate float64 `json:"processing_rate"`

	// ErrorRate is failed flush attempts divided by total flush attempts
	// over the rolling window. Event-level failures (status=failure) do not
	// count here; only pipeline write failures do.
	ErrorRate float64 `json:"error_rate"`

	// DroppedEvents counts events lost to overflow eviction or exhausted
	// flush retries since start.
	DroppedEvents int64 `json:"dropped_events"`
}

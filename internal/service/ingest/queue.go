package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tokenledger/activity-service/internal/domain/activity"
	"github.com/tokenledger/activity-service/internal/domain/errors"
	"github.com/tokenledger/activity-service/internal/metrics"
)

// Config tunes the ingest queue. Defaults mirror the documented pipeline
// targets; they are starting points, not guarantees.
type Config struct {
	BatchSize     int           // flush when the buffer reaches this size (default: 500)
	FlushInterval time.Duration // flush at least this often (default: 5s)
	MaxQueueSize  int           // overflow bound on the buffer (default: 10000)
	FlushRetries  int           // attempts per batch before dropping it (default: 3)
	RetryBaseWait time.Duration // first backoff delay (default: 100ms)
	FlushTimeout  time.Duration // per-attempt store write deadline (default: 5s)
	DrainTimeout  time.Duration // Flush() bound when the caller's ctx has none (default: 30s)
	MetricsWindow time.Duration // rolling window for rate metrics (default: 1m)
}

func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
		MaxQueueSize:  10_000,
		FlushRetries:  3,
		RetryBaseWait: 100 * time.Millisecond,
		FlushTimeout:  5 * time.Second,
		DrainTimeout:  30 * time.Second,
		MetricsWindow: time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.FlushRetries <= 0 {
		c.FlushRetries = d.FlushRetries
	}
	if c.RetryBaseWait <= 0 {
		c.RetryBaseWait = d.RetryBaseWait
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = d.FlushTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = d.DrainTimeout
	}
	if c.MetricsWindow <= 0 {
		c.MetricsWindow = d.MetricsWindow
	}
}

// Queue buffers activity events and flushes them to the store in batches.
// Enqueue never blocks on storage I/O and never surfaces errors to the
// producer; pipeline failures are visible only through Metrics().
//
// The queue exclusively owns unflushed events. A single mutex guards the
// buffer so batch swaps are atomic: no event lands in two batches, none is
// lost during a swap. Overflow policy is oldest-event eviction with a
// dropped counter; silent unbounded growth is not an option.
type Queue struct {
	cfg      Config
	logger   *zap.Logger
	store    StoreWriter
	registry *metrics.Registry

	mu     sync.Mutex
	buffer []*activity.Event

	flushMu sync.Mutex // serializes flush cycles (timer, threshold, drain)
	flushCh chan struct{}

	breaker *gobreaker.CircuitBreaker
	window  *flushWindow

	dropped atomic.Int64

	subMu   sync.Mutex
	subs    map[int]chan *activity.Event
	nextSub int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// NewQueue wires a queue against the given store. Call Start to begin the
// background flusher and Shutdown to drain on exit.
func NewQueue(cfg Config, logger *zap.Logger, store StoreWriter, registry *metrics.Registry) (*Queue, error) {
	if store == nil {
		return nil, errors.NewValidationError("MISSING_STORE", "store writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	q := &Queue{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		buffer:   make([]*activity.Event, 0, cfg.BatchSize),
		flushCh:  make(chan struct{}, 1),
		window:   newFlushWindow(cfg.MetricsWindow),
		subs:     make(map[int]chan *activity.Event),
	}

	q.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "activity-store",
		Interval: cfg.MetricsWindow,
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return q, nil
}

// Start launches the background flusher. Idempotent. The context must be
// in place before running flips: Enqueue reads q.ctx after observing the
// flag, so the store below publishes it.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running.Load() {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running.Store(true)
	q.wg.Add(1)
	go q.run()
}

// Enqueue accepts an event, fills missing optional fields with defaults,
// and returns immediately. Structurally valid events are never rejected.
func (q *Queue) Enqueue(event *activity.Event) {
	if event == nil || !q.running.Load() {
		return
	}
	event.Normalize()

	q.mu.Lock()
	if len(q.buffer) >= q.cfg.MaxQueueSize {
		// Evict the oldest buffered event rather than block the producer.
		copy(q.buffer, q.buffer[1:])
		q.buffer = q.buffer[:len(q.buffer)-1]
		q.dropped.Add(1)
		if q.registry != nil {
			q.registry.EventsDropped.Add(q.ctx, 1)
		}
	}
	q.buffer = append(q.buffer, event)
	size := len(q.buffer)
	q.mu.Unlock()

	if q.registry != nil {
		q.registry.EventsEnqueued.Add(q.ctx, 1)
		q.registry.SetQueueDepth(int64(size))
	}

	q.publish(event)

	if size >= q.cfg.BatchSize {
		select {
		case q.flushCh <- struct{}{}:
		default:
		}
	}
}

// Flush synchronously drains everything buffered, including events queued
// while the drain is running. It is the one caller-facing operation allowed
// to block, and it is always bounded: the config drain timeout applies when
// the caller's context carries no deadline.
func (q *Queue) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.DrainTimeout)
		defer cancel()
	}

	for {
		q.mu.Lock()
		remaining := len(q.buffer)
		q.mu.Unlock()
		if remaining == 0 {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return errors.NewInternalError("flush drain timed out").WithCause(err)
		}
		if err := q.flushOnce(ctx); err != nil {
			// The batch was dropped after retries; surface that to the
			// caller asking for a durability guarantee.
			return err
		}
	}
}

// Shutdown stops the flusher and drains the buffer within the drain bound.
func (q *Queue) Shutdown(ctx context.Context) error {
	if !q.running.CompareAndSwap(true, false) {
		return nil
	}
	q.cancel()
	q.wg.Wait()

	err := q.drainLocked(ctx)

	q.subMu.Lock()
	for id, ch := range q.subs {
		close(ch)
		delete(q.subs, id)
	}
	q.subMu.Unlock()

	return err
}

func (q *Queue) drainLocked(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.DrainTimeout)
		defer cancel()
	}
	for {
		q.mu.Lock()
		remaining := len(q.buffer)
		q.mu.Unlock()
		if remaining == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.NewInternalError("shutdown drain timed out").WithCause(err)
		}
		if err := q.flushOnce(ctx); err != nil {
			return err
		}
	}
}

// Metrics snapshots the queue's operational state.
func (q *Queue) Metrics() QueueMetrics {
	q.mu.Lock()
	size := len(q.buffer)
	q.mu.Unlock()

	rate, errRate := q.window.rates()
	return QueueMetrics{
		QueueSize:      size,
		ProcessingRate: rate,
		ErrorRate:      errRate,
		DroppedEvents:  q.dropped.Load(),
	}
}

// Subscribe registers a live event feed. Slow consumers lose events rather
// than slow down ingest. The returned cancel func must be called to release
// the subscription.
func (q *Queue) Subscribe() (<-chan *activity.Event, func()) {
	ch := make(chan *activity.Event, 64)

	q.subMu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch
	q.subMu.Unlock()

	cancel := func() {
		q.subMu.Lock()
		if existing, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(existing)
		}
		q.subMu.Unlock()
	}
	return ch, cancel
}

func (q *Queue) publish(event *activity.Event) {
	q.subMu.Lock()
	defer q.subMu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func (q *Queue) run() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			_ = q.flushOnce(context.Background())
		case <-q.flushCh:
			_ = q.flushOnce(context.Background())
		}
	}
}

// flushOnce swaps the buffer out atomically and writes the batch. On
// exhausted retries the batch is dropped, counted, and the error returned
// for drain callers; background callers ignore it by design since the
// producer's call already returned.
func (q *Queue) flushOnce(ctx context.Context) error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	if len(q.buffer) == 0 {
		q.mu.Unlock()
		return nil
	}
	batch := q.buffer
	if len(batch) > q.cfg.BatchSize {
		// Oversized backlog: take one batch worth, leave the rest for the
		// next cycle.
		q.buffer = batch[q.cfg.BatchSize:]
		batch = batch[:q.cfg.BatchSize]
	} else {
		q.buffer = make([]*activity.Event, 0, q.cfg.BatchSize)
	}
	q.mu.Unlock()

	start := time.Now()
	err := q.writeBatch(ctx, batch)
	elapsed := time.Since(start)

	if q.registry != nil {
		q.registry.FlushDuration.Record(ctx, float64(elapsed.Milliseconds()))
		q.registry.FlushBatchSize.Record(ctx, int64(len(batch)))
		q.mu.Lock()
		q.registry.SetQueueDepth(int64(len(q.buffer)))
		q.mu.Unlock()
	}

	if err != nil {
		q.window.record(false, 0)
		q.dropped.Add(int64(len(batch)))
		if q.registry != nil {
			q.registry.FlushFailureTotal.Add(ctx, 1)
			q.registry.EventsDropped.Add(ctx, int64(len(batch)))
		}
		q.logger.Error("dropping batch after exhausted flush retries",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return err
	}

	q.window.record(true, len(batch))
	if q.registry != nil {
		q.registry.FlushSuccessTotal.Add(ctx, 1)
		rate, _ := q.window.rates()
		q.registry.SetProcessingRate(rate)
	}
	return nil
}

// writeBatch pushes one batch through the circuit breaker with bounded
// exponential backoff. Permanent store errors are not retried.
func (q *Queue) writeBatch(ctx context.Context, batch []*activity.Event) error {
	_, err := q.breaker.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(uint(q.cfg.FlushRetries)),
			retry.Delay(q.cfg.RetryBaseWait),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
			retry.RetryIf(errors.IsRetryable),
		)
		return nil, r.Do(func() error {
			attemptCtx, cancel := context.WithTimeout(ctx, q.cfg.FlushTimeout)
			defer cancel()
			_, storeErr := q.store.StoreBatch(attemptCtx, batch)
			return storeErr
		})
	})
	return err
}

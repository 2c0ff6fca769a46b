package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tokenledger/activity-service/internal/domain/activity"
	apperrors "github.com/tokenledger/activity-service/internal/domain/errors"
	"github.com/tokenledger/activity-service/internal/metrics"
)

type memStore struct {
	mu      sync.Mutex
	events  []*activity.Event
	batches int
	fail    bool
}

func (s *memStore) StoreBatch(ctx context.Context, events []*activity.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, apperrors.NewTransientStoreError("store unavailable")
	}
	s.events = append(s.events, events...)
	s.batches++
	return len(events), nil
}

func (s *memStore) stored() []*activity.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*activity.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *memStore) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func (s *memStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func mustEvent(t *testing.T, source activity.Source, category activity.Category, action string) *activity.Event {
	t.Helper()
	ev, err := activity.NewEvent(source, category, action)
	require.NoError(t, err)
	return ev
}

func newTestQueue(t *testing.T, store *memStore, cfg Config) *Queue {
	t.Helper()
	if cfg.RetryBaseWait == 0 {
		cfg.RetryBaseWait = time.Millisecond
	}
	if cfg.FlushInterval == 0 {
		// long enough that the ticker never fires during a test
		cfg.FlushInterval = time.Hour
	}
	q, err := NewQueue(cfg, zap.NewNop(), store, nil)
	require.NoError(t, err)
	q.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return q
}

func TestQueueEnqueueThenFlushStoresEvents(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(t, store, Config{BatchSize: 100})

	for i := 0; i < 7; i++ {
		q.Enqueue(mustEvent(t, activity.SourceAPI, activity.CategoryAuth, "login"))
	}
	assert.Equal(t, 7, q.Metrics().QueueSize)

	require.NoError(t, q.Flush(context.Background()))

	assert.Len(t, store.stored(), 7)
	assert.Equal(t, 0, q.Metrics().QueueSize)
}

func TestQueueEnqueueNormalizesDefaults(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(t, store, Config{BatchSize: 10})

	ev := &activity.Event{Action: "deploy"}
	q.Enqueue(ev)
	require.NoError(t, q.Flush(context.Background()))

	stored := store.stored()
	require.Len(t, stored, 1)
	got := stored[0]
	assert.NotEqual(t, "", got.ID.String())
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, activity.SourceSystem, got.Source)
	assert.Equal(t, activity.StatusUnknown, got.Status)
	assert.Equal(t, activity.SeverityInfo, got.Severity)
}

func TestQueueBatchSizeTriggersBackgroundFlush(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(t, store, Config{BatchSize: 5})

	for i := 0; i < 5; i++ {
		q.Enqueue(mustEvent(t, activity.SourceAPI, activity.CategorySystem, "tick"))
	}

	require.Eventually(t, func() bool {
		return len(store.stored()) == 5
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, q.Metrics().QueueSize)
}

func TestQueueOverflowEvictsOldest(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(t, store, Config{BatchSize: 1000, MaxQueueSize: 3})

	actions := []string{"a", "b", "c", "d", "e"}
	for _, a := range actions {
		q.Enqueue(mustEvent(t, activity.SourceAPI, activity.CategorySystem, a))
	}

	m := q.Metrics()
	assert.Equal(t, 3, m.QueueSize)
	assert.Equal(t, int64(2), m.DroppedEvents)

	require.NoError(t, q.Flush(context.Background()))
	stored := store.stored()
	require.Len(t, stored, 3)
	assert.Equal(t, "c", stored[0].Action)
	assert.Equal(t, "e", stored[2].Action)
}

func TestQueueFlushFailureDropsBatchAndRaisesErrorRate(t *testing.T) {
	store := &memStore{fail: true}
	q := newTestQueue(t, store, Config{BatchSize: 100, FlushRetries: 2})

	q.Enqueue(mustEvent(t, activity.SourceAPI, activity.CategorySystem, "doomed"))
	err := q.Flush(context.Background())
	require.Error(t, err)

	m := q.Metrics()
	assert.Equal(t, 0, m.QueueSize)
	assert.Equal(t, int64(1), m.DroppedEvents)
	assert.Greater(t, m.ErrorRate, 0.0)

	// recovery: later events still flow once the store is back
	store.setFail(false)
	q.Enqueue(mustEvent(t, activity.SourceAPI, activity.CategorySystem, "survivor"))
	require.NoError(t, q.Flush(context.Background()))
	require.Len(t, store.stored(), 1)
	assert.Equal(t, "survivor", store.stored()[0].Action)
}

func TestQueueFlushDrainsBacklogLargerThanBatch(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(t, store, Config{BatchSize: 4, MaxQueueSize: 100, FlushInterval: time.Hour})

	// fill past one batch without letting the threshold flush win the race
	q.mu.Lock()
	for i := 0; i < 10; i++ {
		ev := mustEvent(t, activity.SourceAPI, activity.CategorySystem, "bulk")
		ev.Normalize()
		q.buffer = append(q.buffer, ev)
	}
	q.mu.Unlock()

	require.NoError(t, q.Flush(context.Background()))
	assert.Len(t, store.stored(), 10)
	assert.GreaterOrEqual(t, store.batchCount(), 3)
}

func TestQueueShutdownDrains(t *testing.T) {
	store := &memStore{}
	q, err := NewQueue(Config{BatchSize: 100, FlushInterval: time.Hour, RetryBaseWait: time.Millisecond}, zap.NewNop(), store, nil)
	require.NoError(t, err)
	q.Start(context.Background())

	q.Enqueue(mustEvent(t, activity.SourceAPI, activity.CategorySystem, "final"))
	require.NoError(t, q.Shutdown(context.Background()))
	assert.Len(t, store.stored(), 1)

	// enqueue after shutdown is a no-op
	q.Enqueue(mustEvent(t, activity.SourceAPI, activity.CategorySystem, "late"))
	assert.Len(t, store.stored(), 1)
}

func TestQueueEnqueueRacingStart(t *testing.T) {
	store := &memStore{}
	registry, err := metrics.NewRegistry("ingest-test")
	require.NoError(t, err)
	q, err := NewQueue(Config{BatchSize: 1000, MaxQueueSize: 1000, FlushInterval: time.Hour, RetryBaseWait: time.Millisecond}, zap.NewNop(), store, registry)
	require.NoError(t, err)

	events := make([]*activity.Event, 100)
	for i := range events {
		events[i] = mustEvent(t, activity.SourceAPI, activity.CategorySystem, "tick")
	}

	// An Enqueue racing Start either sees the queue not yet running and
	// drops the event, or sees a fully initialized queue context. Either
	// way every accepted event must drain cleanly.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, ev := range events {
			q.Enqueue(ev)
		}
	}()
	q.Start(context.Background())
	wg.Wait()

	require.NoError(t, q.Shutdown(context.Background()))
	assert.LessOrEqual(t, len(store.stored()), len(events))
}

func TestQueueSubscribeReceivesLiveEvents(t *testing.T) {
	store := &memStore{}
	q := newTestQueue(t, store, Config{BatchSize: 100})

	ch, cancel := q.Subscribe()
	defer cancel()

	q.Enqueue(mustEvent(t, activity.SourceAPI, activity.CategoryAuth, "login"))

	select {
	case ev := <-ch:
		assert.Equal(t, "login", ev.Action)
	case <-time.After(time.Second):
		t.Fatal("expected a live event on the subscription channel")
	}
}

func TestFlushWindowRates(t *testing.T) {
	w := newFlushWindow(time.Minute)
	base := time.Unix(1_700_000_000, 0)
	now := base
	w.now = func() time.Time { return now }

	w.record(true, 100)
	now = base.Add(10 * time.Second)
	w.record(true, 100)
	now = base.Add(20 * time.Second)
	w.record(false, 0)

	rate, errRate := w.rates()
	assert.InDelta(t, 10.0, rate, 0.01) // 200 events over 20s
	assert.InDelta(t, 1.0/3.0, errRate, 0.001)

	// samples age out of the window
	now = base.Add(2 * time.Minute)
	rate, errRate = w.rates()
	assert.Equal(t, 0.0, rate)
	assert.Equal(t, 0.0, errRate)
}

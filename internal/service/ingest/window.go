package ingest

import (
	"sync"
	"time"
)

type flushSample struct {
	at     time.Time
	ok     bool
	events int
}

// flushWindow keeps per-attempt flush outcomes for a rolling interval and
// derives the processing and error rates from them. Error rate counts flush
// attempts, not individual events: one failed batch of 500 and one failed
// batch of 5 weigh the same.
type flushWindow struct {
	mu      sync.Mutex
	span    time.Duration
	samples []flushSample
	now     func() time.Time
}

func newFlushWindow(span time.Duration) *flushWindow {
	return &flushWindow{span: span, now: time.Now}
}

func (w *flushWindow) record(ok bool, events int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, flushSample{at: w.now(), ok: ok, events: events})
	w.prune(w.now())
}

// rates returns events/sec over the window and failed/total flush attempts.
func (w *flushWindow) rates() (processing float64, errRate float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)
	if len(w.samples) == 0 {
		return 0, 0
	}

	var events, failed int
	for _, s := range w.samples {
		if s.ok {
			events += s.events
		} else {
			failed++
		}
	}

	span := now.Sub(w.samples[0].at)
	if span < time.Second {
		span = time.Second
	}
	processing = float64(events) / span.Seconds()
	errRate = float64(failed) / float64(len(w.samples))
	return processing, errRate
}

func (w *flushWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

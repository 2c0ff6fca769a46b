package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tokenledger/activity-service/internal/service/ingest"
)

// Prometheus metrics for the activity API

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "activity",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "activity",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method"},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "activity",
			Subsystem: "ingest",
			Name:      "queue_depth",
			Help:      "Events buffered and not yet flushed",
		},
	)

	processingRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "activity",
			Subsystem: "ingest",
			Name:      "processing_rate",
			Help:      "Events durably flushed per second over the rolling window",
		},
	)

	pipelineErrorRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "activity",
			Subsystem: "ingest",
			Name:      "error_rate",
			Help:      "Failed flush attempts over total flush attempts",
		},
	)

	droppedEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "activity",
			Subsystem: "ingest",
			Name:      "dropped_events_total",
			Help:      "Events lost to overflow eviction or exhausted retries",
		},
	)
)

// MetricsHandler returns the Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// InstrumentHTTPHandler records request counts and latencies around a
// handler tree.
func InstrumentHTTPHandler(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler.ServeHTTP(wrapped, r)

		httpRequestsTotal.WithLabelValues(r.Method, statusCodeClass(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// publishQueueMetrics mirrors the queue snapshot into the Prometheus
// gauges on a fixed cadence.
func publishQueueMetrics(queue *ingest.Queue, stop <-chan struct{}) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m := queue.Metrics()
			queueDepth.Set(float64(m.QueueSize))
			processingRate.Set(m.ProcessingRate)
			pipelineErrorRate.Set(m.ErrorRate)
			droppedEvents.Set(float64(m.DroppedEvents))
		}
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func statusCodeClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

package telemetry

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// SetupLogger creates the service-wide structured logger. Output is JSON on
// stdout with trace/span identifiers injected from the request context.
func SetupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: logLevel == slog.LevelDebug,
	}

	return slog.New(&tracedHandler{
		Handler: slog.NewJSONHandler(os.Stdout, opts),
	})
}

// tracedHandler decorates log records with the active span's identifiers.
type tracedHandler struct {
	slog.Handler
}

func (h *tracedHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
		if span.SpanContext().IsSampled() {
			r.AddAttrs(slog.Bool("sampled", true))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *tracedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &tracedHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *tracedHandler) WithGroup(name string) slog.Handler {
	return &tracedHandler{Handler: h.Handler.WithGroup(name)}
}

// WithContext returns a logger carrying the context's trace attributes, for
// call sites that log outside a ctx-aware path.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}
	return logger.With(
		"trace_id", span.SpanContext().TraceID().String(),
		"span_id", span.SpanContext().SpanID().String(),
	)
}

package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ServerConfig sizes the HTTP listener.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimitRPS int
	RateBurst    int
}

// Server hosts the REST surface.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer assembles the mux with the shared middleware stack. metrics,
// when non-nil, is mounted at /metrics outside the versioned API. extra
// middleware wraps inside the stack, closest to the mux.
func NewServer(cfg ServerConfig, logger *slog.Logger, handler *Handler, metrics http.Handler, extra ...Middleware) *Server {
	mux := http.NewServeMux()

	rateLimit := RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateBurst)
	handler.RegisterRoutes(mux, rateLimit)

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	stack := append([]Middleware{
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
	}, extra...)
	root := Chain(stack...)(mux)

	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Start blocks until the listener stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	domain "github.com/tokenledger/activity-service/internal/domain/activity"
	"github.com/tokenledger/activity-service/internal/domain/errors"
	"github.com/tokenledger/activity-service/internal/service/activity"
	"github.com/tokenledger/activity-service/internal/service/export"
)

// Handler exposes the activity service over HTTP.
type Handler struct {
	svc      *activity.Service
	logger   *slog.Logger
	validate *validator.Validate
	auth     *AuthMiddleware
	stream   *StreamHandler
}

func NewHandler(svc *activity.Service, logger *slog.Logger, auth *AuthMiddleware) *Handler {
	return &Handler{
		svc:      svc,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		auth:     auth,
		stream:   NewStreamHandler(svc, logger),
	}
}

// RegisterRoutes wires every endpoint under /api/v1. Mutating and admin
// routes sit behind bearer auth; read routes are open to the dashboards.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, rateLimit Middleware) {
	open := Chain(rateLimit)
	protected := Chain(rateLimit, h.auth.Middleware())

	mux.Handle("GET /api/v1/activities", open(http.HandlerFunc(h.handleGetActivities)))
	mux.Handle("POST /api/v1/activities", protected(http.HandlerFunc(h.handleLogActivity)))
	mux.Handle("GET /api/v1/activities/stream", open(http.HandlerFunc(h.stream.ServeHTTP)))

	mux.Handle("GET /api/v1/metrics/queue", open(http.HandlerFunc(h.handleQueueMetrics)))
	mux.Handle("POST /api/v1/queue/flush", protected(http.HandlerFunc(h.handleFlushQueue)))
	mux.Handle("DELETE /api/v1/cache", protected(http.HandlerFunc(h.handleClearCache)))

	mux.Handle("GET /api/v1/analytics", open(http.HandlerFunc(h.handleAnalytics)))
	mux.Handle("GET /api/v1/analytics/health", open(http.HandlerFunc(h.handleHealthScore)))
	mux.Handle("GET /api/v1/anomalies", open(http.HandlerFunc(h.handleAnomalies)))
	mux.Handle("GET /api/v1/compliance/{standard}", open(http.HandlerFunc(h.handleComplianceReport)))
	mux.Handle("POST /api/v1/export", protected(http.HandlerFunc(h.handleExport)))

	mux.HandleFunc("GET /healthz", h.handleHealthz)
}

func (h *Handler) handleLogActivity(w http.ResponseWriter, r *http.Request) {
	var req logActivityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, h.logger, r,
			errors.NewValidationError("INVALID_REQUEST", err.Error()))
		return
	}

	event, err := req.toEvent()
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	// Fire and forget: the queue owns the event from here.
	h.svc.LogActivity(event)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "id": event.ID})
}

func (h *Handler) handleGetActivities(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	page, err := h.svc.GetActivities(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) handleQueueMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetQueueMetrics(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleFlushQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.FlushQueue(r.Context()); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flushed": true})
}

func (h *Handler) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context()); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

func (h *Handler) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	periodDays, err := parseIntParam(r.URL.Query(), "period_days")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	md, err := h.svc.GetComprehensiveAnalytics(r.Context(), periodDays)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (h *Handler) handleHealthScore(w http.ResponseWriter, r *http.Request) {
	hs, err := h.svc.GetSystemHealthScore(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hs)
}

func (h *Handler) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.GetAnomalyDetection(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	standard := r.PathValue("standard")

	q := r.URL.Query()
	from, err := parseTimeParam(q, "from")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	to, err := parseTimeParam(q, "to")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	// default to the trailing 30 days
	end := time.Now().UTC()
	if to != nil {
		end = *to
	}
	start := end.AddDate(0, 0, -30)
	if from != nil {
		start = *from
	}

	report, err := h.svc.GetComplianceReport(r.Context(), standard, start, end)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, h.logger, r,
			errors.NewValidationError("INVALID_REQUEST", err.Error()))
		return
	}

	filter := domain.Filter{
		From:       req.From,
		To:         req.To,
		EntityType: req.Filter.EntityType,
		EntityID:   req.Filter.EntityID,
		UserID:     req.Filter.UserID,
		Search:     req.Filter.Search,
	}
	for _, s := range req.Filter.Sources {
		filter.Sources = append(filter.Sources, domain.ParseSource(s))
	}
	for _, s := range req.Filter.Categories {
		filter.Categories = append(filter.Categories, domain.ParseCategory(s))
	}
	for _, s := range req.Filter.Statuses {
		filter.Statuses = append(filter.Statuses, domain.ParseStatus(s))
	}
	for _, s := range req.Filter.Severities {
		filter.Severities = append(filter.Severities, domain.ParseSeverity(s))
	}

	result, err := h.svc.ExportAuditData(r.Context(), export.Request{
		Format:    export.Format(req.Format),
		Filter:    filter,
		RedactPII: req.RedactPII,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/tokenledger/activity-service/internal/domain/errors"
)

type errorResponse struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// writeError maps the domain error taxonomy onto HTTP. Unknown errors
// become opaque 500s so internals never leak to the dashboard.
func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.StatusCode >= 500 {
			logger.ErrorContext(r.Context(), "request failed",
				slog.String("path", r.URL.Path),
				slog.String("code", appErr.Code),
				slog.Any("error", err))
		}
		resp := errorResponse{}
		resp.Error.Code = appErr.Code
		resp.Error.Message = appErr.Message
		resp.Error.Details = appErr.Details
		writeJSON(w, appErr.StatusCode, resp)
		return
	}

	logger.ErrorContext(r.Context(), "request failed",
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
	writeJSONError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	resp := errorResponse{}
	resp.Error.Code = code
	resp.Error.Message = message
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

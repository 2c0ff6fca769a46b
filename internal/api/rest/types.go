package rest

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokenledger/activity-service/internal/domain/activity"
	"github.com/tokenledger/activity-service/internal/domain/errors"
)

// logActivityRequest is the ingest payload. Optional enum fields default
// during normalization; unknown enum values are preserved, not rejected.
type logActivityRequest struct {
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
	Source     string          `json:"source,omitempty" validate:"omitempty,max=64"`
	Category   string          `json:"category,omitempty" validate:"omitempty,max=64"`
	Action     string          `json:"action" validate:"required,max=256"`
	Status     string          `json:"status,omitempty" validate:"omitempty,max=32"`
	Severity   string          `json:"severity,omitempty" validate:"omitempty,max=32"`
	EntityType string          `json:"entity_type,omitempty" validate:"omitempty,max=128"`
	EntityID   string          `json:"entity_id,omitempty" validate:"omitempty,max=256"`
	UserID     *uuid.UUID      `json:"user_id,omitempty"`
	UserEmail  *string         `json:"user_email,omitempty" validate:"omitempty,email"`
	Details    string          `json:"details,omitempty" validate:"omitempty,max=4096"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	DurationMs *int64          `json:"duration_ms,omitempty" validate:"omitempty,gte=0"`
}

func (r *logActivityRequest) toEvent() (*activity.Event, error) {
	e := &activity.Event{
		Source:     activity.ParseSource(r.Source),
		Category:   activity.ParseCategory(r.Category),
		Action:     r.Action,
		Status:     activity.ParseStatus(r.Status),
		Severity:   activity.ParseSeverity(r.Severity),
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		UserID:     r.UserID,
		UserEmail:  r.UserEmail,
		Details:    r.Details,
		Duration:   r.DurationMs,
	}
	if r.Timestamp != nil {
		e.Timestamp = *r.Timestamp
	}
	if len(r.Metadata) > 0 {
		md, err := activity.DecodeMetadata(r.Metadata)
		if err != nil {
			return nil, errors.NewValidationError("INVALID_METADATA", "metadata is not valid").WithCause(err)
		}
		e.Metadata = md
	}
	return e, nil
}

// exportRequest selects what gets exported and how.
type exportRequest struct {
	Format string     `json:"format" validate:"omitempty,oneof=csv json"`
	From   *time.Time `json:"from,omitempty"`
	To     *time.Time `json:"to,omitempty"`
	Filter struct {
		Sources    []string `json:"sources,omitempty"`
		Categories []string `json:"categories,omitempty"`
		Statuses   []string `json:"statuses,omitempty"`
		Severities []string `json:"severities,omitempty"`
		EntityType string   `json:"entity_type,omitempty"`
		EntityID   string   `json:"entity_id,omitempty"`
		UserID     string   `json:"user_id,omitempty"`
		Search     string   `json:"search,omitempty"`
	} `json:"filter"`
	RedactPII bool `json:"redact_pii,omitempty"`
}

// parseFilter builds an activity filter from query parameters. Timestamps
// are RFC 3339 at the boundary.
func parseFilter(q url.Values) (activity.Filter, error) {
	var f activity.Filter

	var err error
	if f.From, err = parseTimeParam(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTimeParam(q, "to"); err != nil {
		return f, err
	}

	for _, s := range splitParam(q, "source") {
		f.Sources = append(f.Sources, activity.ParseSource(s))
	}
	for _, s := range splitParam(q, "category") {
		f.Categories = append(f.Categories, activity.ParseCategory(s))
	}
	for _, s := range splitParam(q, "status") {
		f.Statuses = append(f.Statuses, activity.ParseStatus(s))
	}
	for _, s := range splitParam(q, "severity") {
		f.Severities = append(f.Severities, activity.ParseSeverity(s))
	}

	f.EntityType = q.Get("entity_type")
	f.EntityID = q.Get("entity_id")
	f.UserID = q.Get("user_id")
	f.Search = q.Get("search")
	f.SortBy = q.Get("sort_by")
	f.SortDir = activity.SortDirection(q.Get("sort_dir"))

	if f.Page, err = parseIntParam(q, "page"); err != nil {
		return f, err
	}
	if f.Limit, err = parseIntParam(q, "limit"); err != nil {
		return f, err
	}
	return f, nil
}

func parseTimeParam(q url.Values, name string) (*time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_TIMESTAMP",
			name+" must be an RFC 3339 timestamp")
	}
	return &t, nil
}

func parseIntParam(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.NewValidationError("INVALID_PARAMETER",
			name+" must be a non-negative integer")
	}
	return n, nil
}

func splitParam(q url.Values, name string) []string {
	var out []string
	for _, raw := range q[name] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewValidationError("INVALID_BODY", "request body is not valid JSON").WithCause(err)
	}
	return nil
}

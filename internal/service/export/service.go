package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tokenledger/activity-service/internal/domain/activity"
	"github.com/tokenledger/activity-service/internal/domain/errors"
	"github.com/tokenledger/activity-service/internal/metrics"
)

// Format selects the file encoding of an export.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

const redactedEmail = "[REDACTED]"

// exportPageLimit is how many events one store round trip pulls.
const exportPageLimit = 500

// Request describes one export run. The filter's time range bounds the
// exported set.
type Request struct {
	Format    Format
	Filter    activity.Filter
	RedactPII bool
}

// Result points at the produced file.
type Result struct {
	Success     bool   `json:"success"`
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
	RecordCount int64  `json:"record_count"`
}

// EventQuerier is the slice of the store the exporter needs.
type EventQuerier interface {
	Query(ctx context.Context, filter activity.Filter) ([]*activity.Event, int64, error)
}

// Config locates the export target.
type Config struct {
	Directory   string
	DownloadURL string
	RedactPII   bool // force redaction regardless of the request
}

// Service writes filtered activity to downloadable CSV or JSON files.
type Service struct {
	cfg      Config
	querier  EventQuerier
	logger   *zap.Logger
	registry *metrics.Registry
	now      func() time.Time
}

func NewService(cfg Config, querier EventQuerier, logger *zap.Logger, registry *metrics.Registry) (*Service, error) {
	if querier == nil {
		return nil, errors.NewValidationError("MISSING_QUERIER", "event querier is required")
	}
	if cfg.Directory == "" {
		cfg.Directory = os.TempDir()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{cfg: cfg, querier: querier, logger: logger, registry: registry, now: time.Now}, nil
}

// Export pulls every event matching the request's filter, pages through
// the store, and writes one file. An empty result set still produces a
// well-formed file: CSV gets its header row, JSON an empty array.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	switch req.Format {
	case FormatCSV, FormatJSON:
	case "":
		req.Format = FormatCSV
	default:
		return nil, errors.NewValidationError("INVALID_FORMAT",
			fmt.Sprintf("unsupported export format %q", req.Format))
	}

	filter := req.Filter
	filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	redact := req.RedactPII || s.cfg.RedactPII

	filename := fmt.Sprintf("activity-export-%s.%s",
		s.now().UTC().Format("20060102-150405"), req.Format)
	path := filepath.Join(s.cfg.Directory, filename)

	f, err := os.Create(path)
	if err != nil {
		return nil, errors.NewInternalError("failed to create export file").WithCause(err)
	}
	defer f.Close()

	var count int64
	switch req.Format {
	case FormatCSV:
		count, err = s.writeCSV(ctx, f, filter, redact)
	case FormatJSON:
		count, err = s.writeJSON(ctx, f, filter, redact)
	}
	if err != nil {
		os.Remove(path)
		return nil, err
	}

	if s.registry != nil {
		s.registry.RecordExport(ctx, string(req.Format))
	}
	s.logger.Info("export complete",
		zap.String("filename", filename),
		zap.String("format", string(req.Format)),
		zap.Int64("records", count))

	return &Result{
		Success:     true,
		Filename:    filename,
		DownloadURL: s.cfg.DownloadURL + "/" + filename,
		RecordCount: count,
	}, nil
}

var csvHeader = []string{
	"id", "timestamp", "source", "category", "action", "status", "severity",
	"entity_type", "entity_id", "user_id", "user_email", "details",
	"duration_ms", "amount", "currency",
}

func (s *Service) writeCSV(ctx context.Context, f *os.File, filter activity.Filter, redact bool) (int64, error) {
	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return 0, errors.NewInternalError("failed to write export header").WithCause(err)
	}

	count, err := s.forEach(ctx, filter, func(e *activity.Event) error {
		return w.Write(csvRow(e, redact))
	})
	if err != nil {
		return 0, err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return 0, errors.NewInternalError("failed to flush export file").WithCause(err)
	}
	return count, nil
}

func (s *Service) writeJSON(ctx context.Context, f *os.File, filter activity.Filter, redact bool) (int64, error) {
	if _, err := f.WriteString("[\n"); err != nil {
		return 0, errors.NewInternalError("failed to write export file").WithCause(err)
	}

	enc := json.NewEncoder(f)
	first := true
	count, err := s.forEach(ctx, filter, func(e *activity.Event) error {
		if !first {
			if _, err := f.WriteString(",\n"); err != nil {
				return err
			}
		}
		first = false
		return enc.Encode(exportRecord(e, redact))
	})
	if err != nil {
		return 0, errors.NewInternalError("failed to write export file").WithCause(err)
	}

	if _, err := f.WriteString("]\n"); err != nil {
		return 0, errors.NewInternalError("failed to write export file").WithCause(err)
	}
	return count, nil
}

// forEach pages through the store until the filter's result set is
// exhausted.
func (s *Service) forEach(ctx context.Context, filter activity.Filter, fn func(*activity.Event) error) (int64, error) {
	filter.Page = 1
	filter.Limit = exportPageLimit

	var count int64
	for {
		events, total, err := s.querier.Query(ctx, filter)
		if err != nil {
			return 0, errors.NewInternalError("failed to query events for export").WithCause(err)
		}
		for _, e := range events {
			if err := fn(e); err != nil {
				return 0, errors.NewInternalError("failed to write export record").WithCause(err)
			}
			count++
		}
		if len(events) == 0 || count >= total {
			return count, nil
		}
		filter.Page++
	}
}

func csvRow(e *activity.Event, redact bool) []string {
	var userID, userEmail string
	if e.UserID != nil {
		userID = e.UserID.String()
	}
	if e.UserEmail != nil {
		userEmail = *e.UserEmail
		if redact {
			userEmail = redactedEmail
		}
	}

	var duration string
	if e.Duration != nil {
		duration = strconv.FormatInt(*e.Duration, 10)
	}

	var amount, currency string
	if fm, ok := e.Metadata.(activity.FinancialMetadata); ok {
		if d, err := decimal.NewFromString(fm.Amount); err == nil {
			amount = d.StringFixed(2)
		} else {
			amount = fm.Amount
		}
		currency = fm.Currency
	}

	return []string{
		e.ID.String(),
		e.Timestamp.UTC().Format(time.RFC3339),
		string(e.Source),
		string(e.Category),
		e.Action,
		string(e.Status),
		string(e.Severity),
		e.EntityType,
		e.EntityID,
		userID,
		userEmail,
		e.Details,
		duration,
		amount,
		currency,
	}
}

func exportRecord(e *activity.Event, redact bool) *activity.Event {
	if !redact || e.UserEmail == nil {
		return e
	}
	clone := *e
	redacted := redactedEmail
	clone.UserEmail = &redacted
	return &clone
}

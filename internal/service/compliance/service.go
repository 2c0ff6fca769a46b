package compliance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tokenledger/activity-service/internal/domain/activity"
	"github.com/tokenledger/activity-service/internal/domain/errors"
)

const maxScanEvents = 100_000

// EventReader is the slice of the store the evaluator needs.
type EventReader interface {
	QueryWindow(ctx context.Context, from, to time.Time, limit int) ([]*activity.Event, error)
}

// Service evaluates registered compliance standards over stored activity.
type Service struct {
	reader    EventReader
	logger    *zap.Logger
	standards map[string]standard
	now       func() time.Time
}

func NewService(reader EventReader, logger *zap.Logger) (*Service, error) {
	if reader == nil {
		return nil, errors.NewValidationError("MISSING_READER", "event reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		reader:    reader,
		logger:    logger,
		standards: registeredStandards(),
		now:       time.Now,
	}, nil
}

// Standards lists the registered standard identifiers.
func (s *Service) Standards() []string {
	out := make([]string, 0, len(s.standards))
	for id := range s.standards {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Evaluate runs every requirement of the named standard against the events
// in [from, to) and scores the result.
func (s *Service) Evaluate(ctx context.Context, standardID string, from, to time.Time) (*Report, error) {
	std, ok := s.standards[strings.ToLower(standardID)]
	if !ok {
		return nil, errors.NewValidationError("UNKNOWN_STANDARD", "unknown compliance standard").
			WithDetails(map[string]interface{}{
				"standard":  standardID,
				"available": s.Standards(),
			})
	}
	if !from.Before(to) {
		return nil, errors.NewValidationError("INVALID_PERIOD", "from must be before to")
	}

	events, err := s.reader.QueryWindow(ctx, from, to, maxScanEvents)
	if err != nil {
		return nil, errors.NewInternalError("failed to load events for compliance evaluation").WithCause(err)
	}

	w := newWindow(events)
	results := make([]RequirementResult, 0, len(std.requirements))
	issues := make([]Issue, 0)
	recommendations := make([]string, 0)
	for _, req := range std.requirements {
		status, evidence := req.check(w)
		results = append(results, RequirementResult{
			ID:          req.id,
			Name:        req.name,
			Description: req.description,
			Status:      status,
			Evidence:    evidence,
		})
		if status == StatusCompliant {
			continue
		}
		severity := "medium"
		if status == StatusNonCompliant {
			severity = "high"
		}
		issues = append(issues, Issue{
			Severity:    severity,
			Description: fmt.Sprintf("%s (%s): %s", req.name, req.id, evidence),
			Remediation: req.remediation,
		})
		recommendations = append(recommendations, req.remediation)
	}

	report := &Report{
		Standard:        std.id,
		StandardName:    std.name,
		From:            from.UTC(),
		To:              to.UTC(),
		GeneratedAt:     s.now().UTC(),
		EventsSeen:      len(events),
		Score:           score(results),
		Requirements:    results,
		Issues:          issues,
		Recommendations: recommendations,
	}

	s.logger.Info("compliance report generated",
		zap.String("standard", std.id),
		zap.Int("score", report.Score),
		zap.Int("events", len(events)))
	return report, nil
}

// score weighs compliant requirements fully and partial ones at half,
// scaled to 100 and rounded.
func score(results []RequirementResult) int {
	if len(results) == 0 {
		return 0
	}
	var weighted float64
	for _, r := range results {
		switch r.Status {
		case StatusCompliant:
			weighted++
		case StatusPartial:
			weighted += 0.5
		}
	}
	return int(math.Round(weighted / float64(len(results)) * 100))
}

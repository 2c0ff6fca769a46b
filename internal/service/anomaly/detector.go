package anomaly

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tokenledger/activity-service/internal/domain/activity"
	"github.com/tokenledger/activity-service/internal/domain/errors"
	"github.com/tokenledger/activity-service/internal/metrics"
)

// Config tunes the detection rules.
type Config struct {
	Window                time.Duration
	BaselineWindow        time.Duration
	ZScoreThreshold       float64
	AuthFailureLimit      int
	SecurityCriticalLimit int
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.BaselineWindow <= 0 {
		c.BaselineWindow = DefaultBaselineWindow
	}
	if c.ZScoreThreshold <= 0 {
		c.ZScoreThreshold = DefaultZScoreThreshold
	}
	if c.AuthFailureLimit <= 0 {
		c.AuthFailureLimit = DefaultAuthFailureLimit
	}
	if c.SecurityCriticalLimit <= 0 {
		c.SecurityCriticalLimit = DefaultSecurityCriticalLimit
	}
}

// EventReader is the slice of the store the detector needs.
type EventReader interface {
	QueryWindow(ctx context.Context, from, to time.Time, limit int) ([]*activity.Event, error)
}

const maxScanEvents = 100_000

// Detector runs rule-based and statistical anomaly detection over recent
// activity against a trailing baseline.
type Detector struct {
	cfg      Config
	reader   EventReader
	logger   *zap.Logger
	registry *metrics.Registry
	now      func() time.Time
}

func NewDetector(cfg Config, reader EventReader, logger *zap.Logger, registry *metrics.Registry) (*Detector, error) {
	if reader == nil {
		return nil, errors.NewValidationError("MISSING_READER", "event reader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Detector{
		cfg:      cfg,
		reader:   reader,
		logger:   logger,
		registry: registry,
		now:      time.Now,
	}, nil
}

// Detect pulls the recent window and its trailing baseline from the store
// and runs every rule. An empty result is a valid outcome, not an error.
func (d *Detector) Detect(ctx context.Context) (*Result, error) {
	to := d.now().UTC()
	from := to.Add(-d.cfg.Window)
	baseFrom := from.Add(-d.cfg.BaselineWindow)

	recent, err := d.reader.QueryWindow(ctx, from, to, maxScanEvents)
	if err != nil {
		return nil, errors.NewInternalError("failed to load recent events").WithCause(err)
	}
	baseline, err := d.reader.QueryWindow(ctx, baseFrom, from, maxScanEvents)
	if err != nil {
		return nil, errors.NewInternalError("failed to load baseline events").WithCause(err)
	}

	result := d.Evaluate(recent, baseline, from, to)

	for _, a := range result.Anomalies {
		if d.registry != nil {
			d.registry.RecordAnomaly(ctx, a.Type)
		}
		d.logger.Warn("anomaly detected",
			zap.String("type", a.Type),
			zap.Int("confidence", a.Confidence),
			zap.String("actor", a.Actor))
	}
	return result, nil
}

// Evaluate runs the rules over an already-loaded window. Exposed for tests
// and for callers that bring their own event sets.
func (d *Detector) Evaluate(recent, baseline []*activity.Event, from, to time.Time) *Result {
	result := &Result{
		WindowFrom:  from,
		WindowTo:    to,
		EventsSeen:  len(recent),
		GeneratedAt: d.now().UTC(),
		Anomalies:   []Anomaly{},
		Patterns:    []Pattern{},
	}

	result.Anomalies = append(result.Anomalies, d.checkAuthFailures(recent, to)...)
	result.Anomalies = append(result.Anomalies, d.checkSecurityCriticals(recent, to)...)
	result.Anomalies = append(result.Anomalies, d.checkRates(recent, baseline, to)...)
	result.Anomalies = append(result.Anomalies, d.checkOffHoursAdmin(recent, to)...)
	result.Patterns = detectPatterns(recent)

	return result
}

// checkAuthFailures flags actors with too many failed auth events in the
// window.
func (d *Detector) checkAuthFailures(recent []*activity.Event, to time.Time) []Anomaly {
	failures := make(map[string]int)
	for _, e := range recent {
		if e.Category != activity.CategoryAuth || !e.IsFailure() {
			continue
		}
		failures[actorKey(e)]++
	}

	var out []Anomaly
	for actor, n := range failures {
		if n < d.cfg.AuthFailureLimit {
			continue
		}
		out = append(out, Anomaly{
			ID:       uuid.New(),
			Type:     TypeUnauthorizedAccess,
			Severity: activity.SeverityWarning,
			Description: fmt.Sprintf("%d failed authentication attempts from %s within %s",
				n, actor, d.cfg.Window),
			Confidence:       confidence(float64(n), float64(d.cfg.AuthFailureLimit)),
			DetectedAt:       to,
			Actor:            actor,
			AffectedEntities: []string{actor},
			Evidence:         map[string]any{"failed_attempts": n, "window": d.cfg.Window.String()},
		})
	}
	sortAnomalies(out)
	return out
}

// checkSecurityCriticals flags a burst of critical security events.
func (d *Detector) checkSecurityCriticals(recent []*activity.Event, to time.Time) []Anomaly {
	n := 0
	seen := make(map[string]struct{})
	var entities []string
	for _, e := range recent {
		if e.Category != activity.CategorySecurity || e.Severity != activity.SeverityCritical {
			continue
		}
		n++
		if e.EntityID == "" {
			continue
		}
		if _, ok := seen[e.EntityID]; !ok {
			seen[e.EntityID] = struct{}{}
			entities = append(entities, e.EntityID)
		}
	}
	if n < d.cfg.SecurityCriticalLimit {
		return nil
	}
	sort.Strings(entities)
	return []Anomaly{{
		ID:       uuid.New(),
		Type:     TypeSecurityBreach,
		Severity: activity.SeverityCritical,
		Description: fmt.Sprintf("%d critical security events within %s",
			n, d.cfg.Window),
		Confidence:       confidence(float64(n), float64(d.cfg.SecurityCriticalLimit)),
		DetectedAt:       to,
		AffectedEntities: entities,
		Evidence:         map[string]any{"critical_events": n},
	}}
}

// checkRates compares the current window's event rate and error rate
// against per-window buckets of the trailing baseline.
func (d *Detector) checkRates(recent, baseline []*activity.Event, to time.Time) []Anomaly {
	counts, errRates := bucketBaseline(baseline, d.cfg.Window)
	var out []Anomaly

	if z, ok := zScore(float64(len(recent)), counts); ok && z >= d.cfg.ZScoreThreshold {
		out = append(out, Anomaly{
			ID:       uuid.New(),
			Type:     TypeSystemOverload,
			Severity: activity.SeverityCritical,
			Description: fmt.Sprintf("event rate %.1f standard deviations above the trailing baseline (%d events in window)",
				z, len(recent)),
			Confidence: confidence(z, d.cfg.ZScoreThreshold),
			DetectedAt: to,
			Evidence:   map[string]any{"z_score": round2(z), "events": len(recent)},
		})
	}

	if z, ok := zScore(errorRate(recent), errRates); ok && z >= d.cfg.ZScoreThreshold {
		out = append(out, Anomaly{
			ID:       uuid.New(),
			Type:     TypePerformanceDegradation,
			Severity: activity.SeverityWarning,
			Description: fmt.Sprintf("error rate %.1f standard deviations above the trailing baseline",
				z),
			Confidence: confidence(z, d.cfg.ZScoreThreshold),
			DetectedAt: to,
			Evidence:   map[string]any{"z_score": round2(z), "error_rate": round2(errorRate(recent))},
		})
	}
	return out
}

// checkOffHoursAdmin flags user management activity during off hours.
func (d *Detector) checkOffHoursAdmin(recent []*activity.Event, to time.Time) []Anomaly {
	byActor := make(map[string]int)
	for _, e := range recent {
		if e.Category != activity.CategoryUserManagement || !e.HasActor() {
			continue
		}
		h := e.Timestamp.UTC().Hour()
		if h >= OffHoursStart && h < OffHoursEnd {
			byActor[actorKey(e)]++
		}
	}

	var out []Anomaly
	for actor, n := range byActor {
		out = append(out, Anomaly{
			ID:       uuid.New(),
			Type:     TypeUnusualActivity,
			Severity: activity.SeverityNotice,
			Description: fmt.Sprintf("%d administrative actions by %s during off hours (%02d:00-%02d:00 UTC)",
				n, actor, OffHoursStart, OffHoursEnd),
			Confidence:       confidence(float64(n), 1),
			DetectedAt:       to,
			Actor:            actor,
			AffectedEntities: []string{actor},
			Evidence:         map[string]any{"actions": n},
		})
	}
	sortAnomalies(out)
	return out
}

// detectPatterns reports notable but non-anomalous structure: actions that
// dominate the window.
func detectPatterns(recent []*activity.Event) []Pattern {
	if len(recent) < DominantActionMinEvents {
		return []Pattern{}
	}

	byAction := make(map[string]int64)
	for _, e := range recent {
		byAction[e.Action]++
	}

	out := []Pattern{}
	for action, n := range byAction {
		share := float64(n) / float64(len(recent))
		if share >= DominantActionShare {
			out = append(out, Pattern{
				Name:        "dominant_action",
				Description: fmt.Sprintf("action %q accounts for %.0f%% of recent activity", action, share*100),
				Occurrences: n,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].Description < out[j].Description
	})
	return out
}

// confidence maps deviation beyond threshold onto 0..100, monotonically.
// Firing exactly at threshold yields the base confidence; twice the
// threshold yields the cap.
func confidence(deviation, threshold float64) int {
	if threshold <= 0 || deviation < threshold {
		return 0
	}
	c := ConfidenceBase + int(math.Round(ConfidenceSpan*(deviation-threshold)/threshold))
	if c > 100 {
		c = 100
	}
	return c
}

func actorKey(e *activity.Event) string {
	switch {
	case e.UserID != nil:
		return e.UserID.String()
	case e.UserEmail != nil:
		return *e.UserEmail
	case e.EntityID != "":
		return e.EntityID
	default:
		return "unknown"
	}
}

// bucketBaseline slices the baseline into window-sized buckets and returns
// the per-bucket event counts and error rates.
func bucketBaseline(baseline []*activity.Event, window time.Duration) (counts, errRates []float64) {
	if len(baseline) == 0 {
		return nil, nil
	}

	var min, max time.Time
	for _, e := range baseline {
		ts := e.Timestamp.UTC()
		if min.IsZero() || ts.Before(min) {
			min = ts
		}
		if ts.After(max) {
			max = ts
		}
	}

	n := int(max.Sub(min)/window) + 1
	total := make([]float64, n)
	failed := make([]float64, n)
	for _, e := range baseline {
		i := int(e.Timestamp.UTC().Sub(min) / window)
		total[i]++
		if e.IsFailure() {
			failed[i]++
		}
	}

	errRates = make([]float64, n)
	for i := range total {
		if total[i] > 0 {
			errRates[i] = failed[i] / total[i]
		}
	}
	return total, errRates
}

// zScore needs at least four baseline buckets and nonzero variance to say
// anything meaningful.
func zScore(current float64, samples []float64) (float64, bool) {
	if len(samples) < 4 {
		return 0, false
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(len(samples))

	var variance float64
	for _, s := range samples {
		variance += (s - mean) * (s - mean)
	}
	variance /= float64(len(samples))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0, false
	}
	return (current - mean) / std, true
}

func errorRate(events []*activity.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	failed := 0
	for _, e := range events {
		if e.IsFailure() {
			failed++
		}
	}
	return float64(failed) / float64(len(events))
}

func sortAnomalies(out []Anomaly) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Actor < out[j].Actor
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

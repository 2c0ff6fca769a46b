package anomaly

import (
	"time"

	"github.com/google/uuid"

	"github.com/tokenledger/activity-service/internal/domain/activity"
)

// Anomaly types. BehavioralAnomaly and Other are reserved for rules that
// classify actor behavior shifts and signals no current rule names.
const (
	TypeUnauthorizedAccess     = "unauthorized_access"
	TypeSecurityBreach         = "security_breach"
	TypePerformanceDegradation = "performance_degradation"
	TypeSystemOverload         = "system_overload"
	TypeUnusualActivity        = "unusual_activity"
	TypeBehavioralAnomaly      = "behavioral_anomaly"
	TypeOther                  = "other"
)

// Anomaly is one derived signal that recent activity deviates from
// expected behavior. Confidence is 0..100 and grows monotonically with how
// far past its threshold the trigger fired.
type Anomaly struct {
	ID               uuid.UUID         `json:"id"`
	Type             string            `json:"type"`
	Severity         activity.Severity `json:"severity"`
	Description      string            `json:"description"`
	Confidence       int               `json:"confidence"`
	DetectedAt       time.Time         `json:"detected_at"`
	Actor            string            `json:"actor,omitempty"`
	AffectedEntities []string          `json:"affected_entities,omitempty"`
	Evidence         map[string]any    `json:"evidence,omitempty"`
}

// Pattern is a recurring structure in recent activity that is notable but
// not by itself anomalous.
type Pattern struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Occurrences int64  `json:"occurrences"`
}

// Result bundles one detection pass.
type Result struct {
	Anomalies   []Anomaly `json:"anomalies"`
	Patterns    []Pattern `json:"patterns"`
	WindowFrom  time.Time `json:"window_from"`
	WindowTo    time.Time `json:"window_to"`
	EventsSeen  int       `json:"events_seen"`
	GeneratedAt time.Time `json:"generated_at"`
}

package activity

import (
	"time"

	"github.com/google/uuid"

	"github.com/tokenledger/activity-service/internal/domain/errors"
)

// Event is one immutable activity record. The ID is assigned at ingest;
// Timestamp is the event time reported by the producer, not the ingest time.
// Display ordering is timestamp descending with ID as tie-break.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Source   Source   `json:"source"`
	Category Category `json:"category"`
	Action   string   `json:"action"`
	Status   Status   `json:"status"`
	Severity Severity `json:"severity"`

	// Subject of the action
	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`

	// Actor; nil for automated events
	UserID    *uuid.UUID `json:"user_id,omitempty"`
	UserEmail *string    `json:"user_email,omitempty"`

	Details  string   `json:"details,omitempty"`
	Metadata Metadata `json:"metadata,omitempty"`

	// Duration of the underlying operation in milliseconds, if measured
	Duration *int64 `json:"duration_ms,omitempty"`
}

// NewEvent builds an event for the given action, filling defaults.
func NewEvent(source Source, category Category, action string) (*Event, error) {
	if action == "" {
		return nil, errors.NewValidationError("MISSING_ACTION", "action is required")
	}

	e := &Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		Category:  category,
		Action:    action,
		Status:    StatusUnknown,
		Severity:  SeverityInfo,
	}
	e.Normalize()
	return e, nil
}

// Normalize fills structurally-valid-but-incomplete events with defaults.
// Ingest never rejects an event for a missing optional field.
func (e *Event) Normalize() {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	} else {
		e.Timestamp = e.Timestamp.UTC()
	}
	if e.Source == "" {
		e.Source = SourceSystem
	}
	if e.Category == "" {
		e.Category = CategorySystem
	}
	if e.Status == "" {
		e.Status = StatusUnknown
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
}

// Validate checks the invariants a persisted event must satisfy.
func (e *Event) Validate() error {
	if e.ID == uuid.Nil {
		return errors.NewValidationError("MISSING_ID", "event ID is required")
	}
	if e.Action == "" {
		return errors.NewValidationError("MISSING_ACTION", "action is required")
	}
	if e.Timestamp.IsZero() {
		return errors.NewValidationError("MISSING_TIMESTAMP", "timestamp is required")
	}
	if e.Duration != nil && *e.Duration < 0 {
		return errors.NewValidationError("NEGATIVE_DURATION", "duration cannot be negative")
	}
	return nil
}

// IsFailure reports whether the recorded action failed.
func (e *Event) IsFailure() bool {
	return e.Status == StatusFailure
}

// HasActor reports whether a user performed the action, as opposed to an
// automated producer.
func (e *Event) HasActor() bool {
	return e.UserID != nil
}

// Less orders events for display: newest first, ID as tie-break so the
// ordering is total even when producers report identical timestamps.
func Less(a, b *Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID.String() > b.ID.String()
}

package activity

import "strings"

// Source identifies the kind of producer that emitted an event. Unknown
// values from newer producers are preserved as-is rather than rejected.
type Source string

const (
	SourceUser        Source = "user"
	SourceSystem      Source = "system"
	SourceIntegration Source = "integration"
	SourceDatabase    Source = "database"
	SourceAPI         Source = "api"
	SourceBlockchain  Source = "blockchain"
)

var knownSources = map[Source]bool{
	SourceUser:        true,
	SourceSystem:      true,
	SourceIntegration: true,
	SourceDatabase:    true,
	SourceAPI:         true,
	SourceBlockchain:  true,
}

// ParseSource normalizes a raw source string. Values outside the known set
// are carried through untouched so events from future producers survive.
func ParseSource(s string) Source {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	if src == "" {
		return SourceSystem
	}
	return src
}

func (s Source) Known() bool { return knownSources[s] }

func (s Source) String() string { return string(s) }

// Category classifies what part of the platform an event belongs to.
type Category string

const (
	CategoryAuth           Category = "auth"
	CategoryData           Category = "data"
	CategorySystem         Category = "system"
	CategoryIntegration    Category = "integration"
	CategoryCompliance     Category = "compliance"
	CategoryFinancial      Category = "financial"
	CategorySecurity       Category = "security"
	CategoryBlockchain     Category = "blockchain"
	CategoryUserManagement Category = "user_management"
)

var knownCategories = map[Category]bool{
	CategoryAuth:           true,
	CategoryData:           true,
	CategorySystem:         true,
	CategoryIntegration:    true,
	CategoryCompliance:     true,
	CategoryFinancial:      true,
	CategorySecurity:       true,
	CategoryBlockchain:     true,
	CategoryUserManagement: true,
}

func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return CategorySystem
	}
	return c
}

func (c Category) Known() bool { return knownCategories[c] }

func (c Category) String() string { return string(c) }

// Status is the outcome of the recorded action.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"

	// StatusUnknown fills in when a producer omitted the status field.
	StatusUnknown Status = "unknown"
)

var knownStatuses = map[Status]bool{
	StatusSuccess:   true,
	StatusFailure:   true,
	StatusPending:   true,
	StatusCancelled: true,
	StatusUnknown:   true,
}

func ParseStatus(s string) Status {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return StatusUnknown
	}
	return st
}

func (s Status) Known() bool { return knownStatuses[s] }

func (s Status) String() string { return string(s) }

// Severity ranks how much an operator should care about an event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityNotice   Severity = "notice"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityLevels = map[Severity]int{
	SeverityInfo:     0,
	SeverityNotice:   1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev == "" {
		return SeverityInfo
	}
	return sev
}

func (s Severity) Known() bool {
	_, ok := severityLevels[s]
	return ok
}

// Level returns the numeric rank for ordering comparisons. Unknown
// severities rank as info.
func (s Severity) Level() int { return severityLevels[s] }

// IsAtLeast reports whether this severity is at or above the given one.
func (s Severity) IsAtLeast(other Severity) bool {
	return s.Level() >= other.Level()
}

func (s Severity) String() string { return string(s) }

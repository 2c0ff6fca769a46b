package compliance

import "time"

// RequirementStatus is the verdict for one compliance requirement.
type RequirementStatus string

const (
	StatusCompliant    RequirementStatus = "compliant"
	StatusPartial      RequirementStatus = "partial"
	StatusNonCompliant RequirementStatus = "non_compliant"
)

// Standard identifiers accepted by Evaluate.
const (
	StandardSOC2      = "soc2"
	StandardISO27001  = "iso27001"
	StandardFinancial = "financial_controls"
)

// RequirementResult is one evaluated requirement inside a report.
// Evidence holds the counts the check derived its verdict from.
type RequirementResult struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Status      RequirementStatus `json:"status"`
	Evidence    string            `json:"evidence,omitempty"`
}

// Issue is one finding raised by a degraded requirement.
type Issue struct {
	Severity    string `json:"severity"` // high for non_compliant, medium for partial
	Description string `json:"description"`
	Remediation string `json:"remediation"`
}

// Report is the outcome of evaluating one standard over one period.
// Score is (compliant + 0.5*partial) / total requirements, scaled to 100
// and rounded to the nearest integer.
type Report struct {
	Standard        string              `json:"standard"`
	StandardName    string              `json:"standard_name"`
	From            time.Time           `json:"from"`
	To              time.Time           `json:"to"`
	GeneratedAt     time.Time           `json:"generated_at"`
	EventsSeen      int                 `json:"events_seen"`
	Score           int                 `json:"score"`
	Requirements    []RequirementResult `json:"requirements"`
	Issues          []Issue             `json:"issues"`
	Recommendations []string            `json:"recommendations"`
}

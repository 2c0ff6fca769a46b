package compliance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tokenledger/activity-service/internal/domain/activity"
)

// Check ratio thresholds. A requirement degrades to partial past the first
// bound and to non-compliant past the second.
const (
	// AuthFailureRatioOK is the failed-auth share considered normal
	AuthFailureRatioOK = 0.05

	// AuthFailureRatioPartial is the failed-auth share still tolerable
	AuthFailureRatioPartial = 0.15

	// ErrorRatioOK is the overall event failure share considered healthy
	ErrorRatioOK = 0.05

	// ErrorRatioPartial is the overall failure share still tolerable
	ErrorRatioPartial = 0.15
)

// checkFunc evaluates one requirement against the period's events.
type checkFunc func(w *window) (RequirementStatus, string)

// requirement is one named, checkable rule belonging to a standard.
// remediation is the operator guidance surfaced when the check degrades.
type requirement struct {
	id          string
	name        string
	description string
	remediation string
	check       checkFunc
}

// standard is a fixed list of requirements under one identifier.
type standard struct {
	id           string
	name         string
	requirements []requirement
}

// window holds derived views of the evaluation period's events, computed
// once and shared across checks.
type window struct {
	events    []*activity.Event
	financial []*activity.Event
	approvals map[string]bool // entity IDs with an approval event
}

func newWindow(events []*activity.Event) *window {
	w := &window{events: events, approvals: make(map[string]bool)}
	for _, e := range events {
		if e.Category == activity.CategoryFinancial {
			if strings.Contains(strings.ToLower(e.Action), "approv") {
				if e.EntityID != "" {
					w.approvals[e.EntityID] = true
				}
				continue
			}
			w.financial = append(w.financial, e)
		}
	}
	return w
}

func registeredStandards() map[string]standard {
	return map[string]standard{
		StandardSOC2: {
			id:   StandardSOC2,
			name: "SOC 2 Type II",
			requirements: []requirement{
				{
					id:          "CC6.1",
					name:        "Logical access controls",
					description: "Authentication failures stay within the expected ratio",
					remediation: "Investigate the source of failed authentication attempts and tighten lockout policies",
					check:       checkAuthFailureRatio,
				},
				{
					id:          "CC7.2",
					name:        "Security incident monitoring",
					description: "Critical security events are followed by a remediation event",
					remediation: "Close out critical security events with a recorded remediation action",
					check:       checkSecurityRemediation,
				},
				{
					id:          "CC8.1",
					name:        "Change management",
					description: "System configuration changes are attributable to an actor",
					remediation: "Require an authenticated actor on every configuration change path",
					check:       checkChangeAttribution,
				},
				{
					id:          "A1.2",
					name:        "Availability commitments",
					description: "Overall event failure ratio stays within the expected bound",
					remediation: "Investigate the dominant failure sources and restore the error ratio to its expected bound",
					check:       checkErrorRatio,
				},
			},
		},
		StandardISO27001: {
			id:   StandardISO27001,
			name: "ISO/IEC 27001",
			requirements: []requirement{
				{
					id:          "A.9",
					name:        "Access control",
					description: "Authentication failures stay within the expected ratio",
					remediation: "Investigate the source of failed authentication attempts and tighten lockout policies",
					check:       checkAuthFailureRatio,
				},
				{
					id:          "A.12.4",
					name:        "Logging and monitoring",
					description: "The period has a continuous audit trail",
					remediation: "Verify producers are emitting events and the ingest pipeline is healthy",
					check:       checkAuditTrail,
				},
				{
					id:          "A.16",
					name:        "Incident management",
					description: "Critical security events are followed by a remediation event",
					remediation: "Close out critical security events with a recorded remediation action",
					check:       checkSecurityRemediation,
				},
			},
		},
		StandardFinancial: {
			id:   StandardFinancial,
			name: "Financial Controls",
			requirements: []requirement{
				{
					id:          "FIN-1",
					name:        "Transaction approval",
					description: "Every financial transaction has an associated approval",
					remediation: "Record an approval reference or approval event for every financial transaction",
					check:       checkFinancialApprovals,
				},
				{
					id:          "FIN-2",
					name:        "Amount integrity",
					description: "Financial amounts are well-formed non-negative decimals",
					remediation: "Reject financial events whose amount is missing, malformed, or negative at ingest",
					check:       checkFinancialAmounts,
				},
				{
					id:          "FIN-3",
					name:        "Actor attribution",
					description: "Every financial transaction is attributable to an actor",
					remediation: "Require an authenticated actor on every financial transaction path",
					check:       checkFinancialAttribution,
				},
			},
		},
	}
}

func checkAuthFailureRatio(w *window) (RequirementStatus, string) {
	var total, failed int
	for _, e := range w.events {
		if e.Category != activity.CategoryAuth {
			continue
		}
		total++
		if e.IsFailure() {
			failed++
		}
	}
	if total == 0 {
		return StatusCompliant, "no authentication events in period"
	}

	ratio := float64(failed) / float64(total)
	detail := fmt.Sprintf("%d of %d authentication events failed (%.1f%%)", failed, total, ratio*100)
	switch {
	case ratio <= AuthFailureRatioOK:
		return StatusCompliant, detail
	case ratio <= AuthFailureRatioPartial:
		return StatusPartial, detail
	default:
		return StatusNonCompliant, detail
	}
}

// checkSecurityRemediation wants every critical security event answered by
// a later successful security event.
func checkSecurityRemediation(w *window) (RequirementStatus, string) {
	var criticals, remediated int
	for _, e := range w.events {
		if e.Category != activity.CategorySecurity || e.Severity != activity.SeverityCritical {
			continue
		}
		criticals++
		for _, r := range w.events {
			if r.Category == activity.CategorySecurity &&
				r.Status == activity.StatusSuccess &&
				r.Timestamp.After(e.Timestamp) {
				remediated++
				break
			}
		}
	}
	if criticals == 0 {
		return StatusCompliant, "no critical security events in period"
	}

	detail := fmt.Sprintf("%d of %d critical security events remediated", remediated, criticals)
	switch {
	case remediated == criticals:
		return StatusCompliant, detail
	case remediated > 0:
		return StatusPartial, detail
	default:
		return StatusNonCompliant, detail
	}
}

func checkChangeAttribution(w *window) (RequirementStatus, string) {
	var changes, attributed int
	for _, e := range w.events {
		if e.Category != activity.CategorySystem && e.Category != activity.CategoryUserManagement {
			continue
		}
		changes++
		if e.HasActor() {
			attributed++
		}
	}
	if changes == 0 {
		return StatusCompliant, "no system changes in period"
	}

	detail := fmt.Sprintf("%d of %d change events carry an actor", attributed, changes)
	ratio := float64(attributed) / float64(changes)
	switch {
	case attributed == changes:
		return StatusCompliant, detail
	case ratio >= 0.5:
		return StatusPartial, detail
	default:
		return StatusNonCompliant, detail
	}
}

func checkErrorRatio(w *window) (RequirementStatus, string) {
	if len(w.events) == 0 {
		return StatusCompliant, "no events in period"
	}
	failed := 0
	for _, e := range w.events {
		if e.IsFailure() {
			failed++
		}
	}
	ratio := float64(failed) / float64(len(w.events))
	detail := fmt.Sprintf("%d of %d events failed (%.1f%%)", failed, len(w.events), ratio*100)
	switch {
	case ratio <= ErrorRatioOK:
		return StatusCompliant, detail
	case ratio <= ErrorRatioPartial:
		return StatusPartial, detail
	default:
		return StatusNonCompliant, detail
	}
}

// checkAuditTrail treats an empty period as a gap: a system under audit is
// expected to produce at least its own heartbeat events.
func checkAuditTrail(w *window) (RequirementStatus, string) {
	if len(w.events) == 0 {
		return StatusNonCompliant, "no events recorded in period"
	}
	return StatusCompliant, fmt.Sprintf("%d events recorded in period", len(w.events))
}

// checkFinancialApprovals accepts an inline approval reference or a
// separate approval event for the same entity.
func checkFinancialApprovals(w *window) (RequirementStatus, string) {
	if len(w.financial) == 0 {
		return StatusCompliant, "no financial transactions in period"
	}

	approved := 0
	for _, e := range w.financial {
		if fm, ok := e.Metadata.(activity.FinancialMetadata); ok && fm.ApprovalID != "" {
			approved++
			continue
		}
		if e.EntityID != "" && w.approvals[e.EntityID] {
			approved++
		}
	}

	detail := fmt.Sprintf("%d of %d financial transactions approved", approved, len(w.financial))
	switch {
	case approved == len(w.financial):
		return StatusCompliant, detail
	case approved > 0:
		return StatusPartial, detail
	default:
		return StatusNonCompliant, detail
	}
}

func checkFinancialAmounts(w *window) (RequirementStatus, string) {
	if len(w.financial) == 0 {
		return StatusCompliant, "no financial transactions in period"
	}

	valid := 0
	for _, e := range w.financial {
		fm, ok := e.Metadata.(activity.FinancialMetadata)
		if !ok {
			continue
		}
		amount, err := decimal.NewFromString(fm.Amount)
		if err == nil && !amount.IsNegative() {
			valid++
		}
	}

	detail := fmt.Sprintf("%d of %d financial transactions carry a valid amount", valid, len(w.financial))
	switch {
	case valid == len(w.financial):
		return StatusCompliant, detail
	case valid > 0:
		return StatusPartial, detail
	default:
		return StatusNonCompliant, detail
	}
}

func checkFinancialAttribution(w *window) (RequirementStatus, string) {
	if len(w.financial) == 0 {
		return StatusCompliant, "no financial transactions in period"
	}

	attributed := 0
	for _, e := range w.financial {
		if e.HasActor() {
			attributed++
		}
	}

	detail := fmt.Sprintf("%d of %d financial transactions carry an actor", attributed, len(w.financial))
	switch {
	case attributed == len(w.financial):
		return StatusCompliant, detail
	case attributed > 0:
		return StatusPartial, detail
	default:
		return StatusNonCompliant, detail
	}
}

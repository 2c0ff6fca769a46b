package anomaly

import "time"

// Rule thresholds
const (
	// DefaultAuthFailureLimit is how many failed auth events from one actor
	// inside the window trigger unauthorized_access
	DefaultAuthFailureLimit = 5

	// DefaultSecurityCriticalLimit is how many critical security events
	// inside the window trigger security_breach
	DefaultSecurityCriticalLimit = 3

	// DefaultZScoreThreshold is how many standard deviations from the
	// trailing baseline the current window must sit before the statistical
	// rules fire
	DefaultZScoreThreshold = 3.0
)

// Window defaults
const (
	// DefaultWindow is the recent-activity window the rules inspect
	DefaultWindow = 15 * time.Minute

	// DefaultBaselineWindow is the trailing period the statistical rules
	// compare against
	DefaultBaselineWindow = 24 * time.Hour
)

// Off-hours boundaries in UTC; administrative activity inside them is
// flagged as unusual
const (
	OffHoursStart = 0 // midnight
	OffHoursEnd   = 6
)

// Confidence scaling
const (
	// ConfidenceBase is assigned when a trigger fires exactly at threshold
	ConfidenceBase = 60

	// ConfidenceSpan is distributed across deviation beyond threshold
	ConfidenceSpan = 40
)

// Pattern detection
const (
	// DominantActionShare is the fraction of the window one action must
	// hold to be reported as a pattern
	DominantActionShare = 0.2

	// DominantActionMinEvents avoids flagging dominance in tiny windows
	DominantActionMinEvents = 10
)

package analytics

// Health score factor weights. They sum to 1.0; the score is the weighted
// combination scaled to 0..100.
const (
	// WeightErrorRate weighs freedom from failures (1 - errorRate)
	WeightErrorRate = 0.40

	// WeightLatency weighs inverse response time, capped at LatencyCeilingMs
	WeightLatency = 0.25

	// WeightLoad weighs inverse queue load (1 - queueSize/maxQueueSize)
	WeightLoad = 0.15

	// WeightCompliance weighs the share of events that completed successfully
	WeightCompliance = 0.20
)

// LatencyCeilingMs caps the latency factor: average durations at or above
// this contribute zero, zero duration contributes full weight.
const LatencyCeilingMs = 1000.0

// Status bucket boundaries for the health score
const (
	// StatusExcellentMin is the minimum score labeled excellent
	StatusExcellentMin = 90

	// StatusGoodMin is the minimum score labeled good
	StatusGoodMin = 75

	// StatusWarningMin is the minimum score labeled warning; below is critical
	StatusWarningMin = 50
)

// Leaderboard sizes
const (
	// TopActionsLimit caps the most-frequent-actions table
	TopActionsLimit = 10

	// TopUsersLimit caps the most-active-users table
	TopUsersLimit = 10
)

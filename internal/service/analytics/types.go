package analytics

import "time"

// Summary aggregates one time-bounded event set.
type Summary struct {
	TotalEvents int64   `json:"total_events"`
	SuccessRate float64 `json:"success_rate"`
	ErrorRate   float64 `json:"error_rate"`
	UniqueUsers int64   `json:"unique_users"`
}

// TimeBucket is one point in a daily or hourly series.
type TimeBucket struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// DistributionBucket is one slice of a source or category breakdown.
// Percentages across a distribution always sum to exactly 100.
type DistributionBucket struct {
	Name       string `json:"name"`
	Count      int64  `json:"count"`
	Percentage int    `json:"percentage"`
}

// Trends carries the time series and distributions for the dashboard charts.
type Trends struct {
	Daily                []TimeBucket         `json:"daily"`
	Hourly               []TimeBucket         `json:"hourly"`
	SourceDistribution   []DistributionBucket `json:"source_distribution"`
	CategoryDistribution []DistributionBucket `json:"category_distribution"`
}

// Performance reports latency percentiles over measured event durations.
type Performance struct {
	AvgDurationMs float64 `json:"avg_duration_ms"`
	P50Ms         int64   `json:"p50_ms"`
	P95Ms         int64   `json:"p95_ms"`
	P99Ms         int64   `json:"p99_ms"`
	MeasuredCount int64   `json:"measured_count"`
}

// TopAction is one entry in the most-frequent-actions table.
type TopAction struct {
	Action string `json:"action"`
	Count  int64  `json:"count"`
}

// UserActivity is one entry in the most-active-users table.
type UserActivity struct {
	UserID     string `json:"user_id"`
	UserEmail  string `json:"user_email,omitempty"`
	EventCount int64  `json:"event_count"`
}

// MetricsData is the full analytics payload for one period.
type MetricsData struct {
	PeriodDays   int            `json:"period_days"`
	From         time.Time      `json:"from"`
	To           time.Time      `json:"to"`
	Summary      Summary        `json:"summary"`
	Trends       Trends         `json:"trends"`
	Performance  Performance    `json:"performance"`
	TopActions   []TopAction    `json:"top_actions"`
	UserActivity []UserActivity `json:"user_activity"`
}

// HealthFactor is one weighted input into the health score.
type HealthFactor struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`  // normalized 0..1, higher is healthier
	Weight float64 `json:"weight"` // fraction of the total score
}

// HealthScore summarizes operational quality as a single 0..100 number.
type HealthScore struct {
	Score   int            `json:"score"`
	Status  string         `json:"status"`
	Factors []HealthFactor `json:"factors"`
}

// LiveMetrics are the pipeline-level inputs to the health score that do not
// come from stored events.
type LiveMetrics struct {
	FlushErrorRate float64 // failed flush attempts / total attempts
	QueueSize      int
	MaxQueueSize   int
}

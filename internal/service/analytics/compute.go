package analytics

import (
	"fmt"
	"math"
	"sort"

	"github.com/tokenledger/activity-service/internal/domain/activity"
)

// ComputeSummary aggregates one event set. Empty input yields all zeros,
// never a division by zero.
func ComputeSummary(events []*activity.Event) Summary {
	if len(events) == 0 {
		return Summary{}
	}

	var success, failure int64
	users := make(map[string]struct{})
	for _, e := range events {
		switch e.Status {
		case activity.StatusSuccess:
			success++
		case activity.StatusFailure:
			failure++
		}
		if e.UserID != nil {
			users[e.UserID.String()] = struct{}{}
		}
	}

	total := int64(len(events))
	return Summary{
		TotalEvents: total,
		SuccessRate: float64(success) / float64(total),
		ErrorRate:   float64(failure) / float64(total),
		UniqueUsers: int64(len(users)),
	}
}

// ComputeTrends buckets events into daily and hourly series and builds
// source and category distributions. Distribution percentages sum to
// exactly 100 for any non-empty input, with the rounding remainder
// assigned to the largest bucket.
func ComputeTrends(events []*activity.Event) Trends {
	daily := make(map[string]int64)
	hourly := make(map[int]int64)
	bySource := make(map[string]int64)
	byCategory := make(map[string]int64)

	for _, e := range events {
		ts := e.Timestamp.UTC()
		daily[ts.Format("2006-01-02")]++
		hourly[ts.Hour()]++
		bySource[string(e.Source)]++
		byCategory[string(e.Category)]++
	}

	return Trends{
		Daily:                sortedTimeBuckets(daily),
		Hourly:               hourlyBuckets(hourly),
		SourceDistribution:   distribution(bySource),
		CategoryDistribution: distribution(byCategory),
	}
}

// ComputePerformance derives latency percentiles from events that carry a
// measured duration. Events without one are excluded, not counted as zero.
func ComputePerformance(events []*activity.Event) Performance {
	var durations []int64
	var sum int64
	for _, e := range events {
		if e.Duration != nil {
			durations = append(durations, *e.Duration)
			sum += *e.Duration
		}
	}
	if len(durations) == 0 {
		return Performance{}
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	return Performance{
		AvgDurationMs: float64(sum) / float64(len(durations)),
		P50Ms:         percentile(durations, 50),
		P95Ms:         percentile(durations, 95),
		P99Ms:         percentile(durations, 99),
		MeasuredCount: int64(len(durations)),
	}
}

// ComputeTopActions returns the most frequent actions, highest count first,
// action name as tie-break so results are deterministic.
func ComputeTopActions(events []*activity.Event, limit int) []TopAction {
	counts := make(map[string]int64)
	for _, e := range events {
		counts[e.Action]++
	}

	out := make([]TopAction, 0, len(counts))
	for action, n := range counts {
		out = append(out, TopAction{Action: action, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Action < out[j].Action
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ComputeUserActivity returns the most active users. Automated events with
// no actor are skipped.
func ComputeUserActivity(events []*activity.Event, limit int) []UserActivity {
	type userAgg struct {
		email string
		count int64
	}
	byUser := make(map[string]*userAgg)
	for _, e := range events {
		if e.UserID == nil {
			continue
		}
		id := e.UserID.String()
		agg, ok := byUser[id]
		if !ok {
			agg = &userAgg{}
			byUser[id] = agg
		}
		agg.count++
		if agg.email == "" && e.UserEmail != nil {
			agg.email = *e.UserEmail
		}
	}

	out := make([]UserActivity, 0, len(byUser))
	for id, agg := range byUser {
		out = append(out, UserActivity{UserID: id, UserEmail: agg.email, EventCount: agg.count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventCount != out[j].EventCount {
			return out[i].EventCount > out[j].EventCount
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ComputeHealthScore combines event history and live pipeline state into a
// single 0..100 score. Weights are the documented constants; holding the
// other factors fixed, a higher flush error rate always yields a lower
// score.
func ComputeHealthScore(events []*activity.Event, live LiveMetrics) HealthScore {
	errFactor := clamp01(1 - live.FlushErrorRate)

	perf := ComputePerformance(events)
	latencyFactor := 1.0
	if perf.MeasuredCount > 0 {
		latencyFactor = clamp01(1 - perf.AvgDurationMs/LatencyCeilingMs)
	}

	loadFactor := 1.0
	if live.MaxQueueSize > 0 {
		loadFactor = clamp01(1 - float64(live.QueueSize)/float64(live.MaxQueueSize))
	}

	complianceFactor := 1.0
	summary := ComputeSummary(events)
	if summary.TotalEvents > 0 {
		complianceFactor = clamp01(1 - summary.ErrorRate)
	}

	weighted := errFactor*WeightErrorRate +
		latencyFactor*WeightLatency +
		loadFactor*WeightLoad +
		complianceFactor*WeightCompliance

	score := int(math.Round(weighted * 100))
	return HealthScore{
		Score:  score,
		Status: healthStatus(score),
		Factors: []HealthFactor{
			{Name: "error_rate", Value: errFactor, Weight: WeightErrorRate},
			{Name: "latency", Value: latencyFactor, Weight: WeightLatency},
			{Name: "load", Value: loadFactor, Weight: WeightLoad},
			{Name: "compliance", Value: complianceFactor, Weight: WeightCompliance},
		},
	}
}

func healthStatus(score int) string {
	switch {
	case score >= StatusExcellentMin:
		return "excellent"
	case score >= StatusGoodMin:
		return "good"
	case score >= StatusWarningMin:
		return "warning"
	default:
		return "critical"
	}
}

// distribution turns raw counts into buckets whose integer percentages sum
// to exactly 100. Each bucket gets its rounded share; the residual lands on
// the largest bucket.
func distribution(counts map[string]int64) []DistributionBucket {
	if len(counts) == 0 {
		return nil
	}

	var total int64
	for _, n := range counts {
		total += n
	}

	out := make([]DistributionBucket, 0, len(counts))
	for name, n := range counts {
		out = append(out, DistributionBucket{
			Name:       name,
			Count:      n,
			Percentage: int(math.Round(float64(n) * 100 / float64(total))),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})

	sum := 0
	for _, b := range out {
		sum += b.Percentage
	}
	out[0].Percentage += 100 - sum

	return out
}

func sortedTimeBuckets(counts map[string]int64) []TimeBucket {
	out := make([]TimeBucket, 0, len(counts))
	for label, n := range counts {
		out = append(out, TimeBucket{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// hourlyBuckets emits all 24 hours so charts have a stable x axis.
func hourlyBuckets(counts map[int]int64) []TimeBucket {
	out := make([]TimeBucket, 0, 24)
	for h := 0; h < 24; h++ {
		out = append(out, TimeBucket{Label: fmt.Sprintf("%02d:00", h), Count: counts[h]})
	}
	return out
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(float64(p)/100*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

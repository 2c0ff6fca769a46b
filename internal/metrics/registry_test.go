package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestRegistry(t *testing.T) (*Registry, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	r, err := NewRegistry("registry-test")
	require.NoError(t, err)
	return r, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRecordExportCountsPerFormat(t *testing.T) {
	r, reader := newTestRegistry(t)
	ctx := context.Background()

	r.RecordExport(ctx, "csv")
	r.RecordExport(ctx, "csv")
	r.RecordExport(ctx, "json")

	m, ok := collect(t, reader)["activity.export.total"]
	require.True(t, ok, "export counter must reach the reader")
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 2, "one series per format")
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
}

func TestRecordAnomalyCountsPerType(t *testing.T) {
	r, reader := newTestRegistry(t)

	r.RecordAnomaly(context.Background(), "unauthorized_access")

	m, ok := collect(t, reader)["activity.anomaly.detected_total"]
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

func TestQueryDurationAndCacheHitRateObserved(t *testing.T) {
	r, reader := newTestRegistry(t)

	r.QueryDuration.Record(context.Background(), 12)
	r.SetCacheHitRate(0.75)

	collected := collect(t, reader)

	hist, ok := collected["activity.query.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	gauge, ok := collected["activity.cache.hit_rate"].Data.(metricdata.Gauge[float64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, 0.75, gauge.DataPoints[0].Value)
}

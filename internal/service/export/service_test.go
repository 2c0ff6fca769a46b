package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tokenledger/activity-service/internal/domain/activity"
)

type stubQuerier struct {
	events []*activity.Event
}

func (q *stubQuerier) Query(ctx context.Context, filter activity.Filter) ([]*activity.Event, int64, error) {
	total := int64(len(q.events))
	start := (filter.Page - 1) * filter.Limit
	if start >= len(q.events) {
		return nil, total, nil
	}
	end := start + filter.Limit
	if end > len(q.events) {
		end = len(q.events)
	}
	return q.events[start:end], total, nil
}

func newService(t *testing.T, events []*activity.Event) *Service {
	t.Helper()
	svc, err := NewService(Config{Directory: t.TempDir(), DownloadURL: "/downloads"}, &stubQuerier{events: events}, zap.NewNop(), nil)
	require.NoError(t, err)
	return svc
}

func sampleEvent(email string) *activity.Event {
	actor := uuid.New()
	e := &activity.Event{
		ID:        uuid.New(),
		Timestamp: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Source:    activity.SourceAPI,
		Category:  activity.CategoryFinancial,
		Action:    "transfer",
		Status:    activity.StatusSuccess,
		Severity:  activity.SeverityInfo,
		UserID:    &actor,
		Metadata:  activity.FinancialMetadata{Amount: "19.9", Currency: "USD"},
	}
	if email != "" {
		e.UserEmail = &email
	}
	return e
}

func readCSV(t *testing.T, svc *Service, res *Result) [][]string {
	t.Helper()
	f, err := os.Open(filepath.Join(svc.cfg.Directory, res.Filename))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExportEmptySetYieldsHeaderOnlyCSV(t *testing.T) {
	svc := newService(t, nil)

	res, err := svc.Export(context.Background(), Request{Format: FormatCSV})
	require.NoError(t, err)
	assert.True(t, res.Success, "an empty result set is still a successful export")
	assert.Equal(t, int64(0), res.RecordCount)

	rows := readCSV(t, svc, res)
	require.Len(t, rows, 1, "empty export is a well-formed header-only file")
	assert.Equal(t, csvHeader, rows[0])
}

func TestExportCSVRecords(t *testing.T) {
	svc := newService(t, []*activity.Event{sampleEvent("alice@example.com")})

	res, err := svc.Export(context.Background(), Request{Format: FormatCSV})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.RecordCount)
	assert.Equal(t, "/downloads/"+res.Filename, res.DownloadURL)

	rows := readCSV(t, svc, res)
	require.Len(t, rows, 2)
	row := rows[1]
	assert.Equal(t, "transfer", row[4])
	assert.Equal(t, "alice@example.com", row[10])
	assert.Equal(t, "19.90", row[13], "amounts are normalized to two decimal places")
	assert.Equal(t, "USD", row[14])
}

func TestExportRedactsPII(t *testing.T) {
	svc := newService(t, []*activity.Event{sampleEvent("alice@example.com")})

	res, err := svc.Export(context.Background(), Request{Format: FormatCSV, RedactPII: true})
	require.NoError(t, err)

	rows := readCSV(t, svc, res)
	require.Len(t, rows, 2)
	assert.Equal(t, redactedEmail, rows[1][10])
}

func TestExportJSON(t *testing.T) {
	svc := newService(t, []*activity.Event{
		sampleEvent("alice@example.com"),
		sampleEvent(""),
	})

	res, err := svc.Export(context.Background(), Request{Format: FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RecordCount)

	raw, err := os.ReadFile(filepath.Join(svc.cfg.Directory, res.Filename))
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "transfer", decoded[0]["action"])
}

func TestExportJSONEmptySet(t *testing.T) {
	svc := newService(t, nil)

	res, err := svc.Export(context.Background(), Request{Format: FormatJSON})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(svc.cfg.Directory, res.Filename))
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Empty(t, decoded)
}

func TestExportPagesThroughLargeSets(t *testing.T) {
	var events []*activity.Event
	for i := 0; i < exportPageLimit+50; i++ {
		events = append(events, sampleEvent(""))
	}
	svc := newService(t, events)

	res, err := svc.Export(context.Background(), Request{Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, int64(exportPageLimit+50), res.RecordCount)

	rows := readCSV(t, svc, res)
	assert.Len(t, rows, exportPageLimit+51)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	svc := newService(t, nil)
	_, err := svc.Export(context.Background(), Request{Format: "xml"})
	require.Error(t, err)
}

package activity

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenledger/activity-service/internal/domain/errors"
)

func TestNewEvent(t *testing.T) {
	tests := []struct {
		name     string
		source   Source
		category Category
		action   string
		wantErr  bool
		errCode  string
	}{
		{
			name:     "valid user event",
			source:   SourceUser,
			category: CategoryAuth,
			action:   "login",
		},
		{
			name:     "valid blockchain event",
			source:   SourceBlockchain,
			category: CategoryBlockchain,
			action:   "token_minted",
		},
		{
			name:    "empty action rejected",
			source:  SourceUser,
			action:  "",
			wantErr: true,
			errCode: "MISSING_ACTION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := NewEvent(tt.source, tt.category, tt.action)

			if tt.wantErr {
				require.Error(t, err)
				var appErr *errors.AppError
				require.ErrorAs(t, err, &appErr)
				assert.Equal(t, tt.errCode, appErr.Code)
				return
			}

			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, event.ID)
			assert.False(t, event.Timestamp.IsZero())
			assert.Equal(t, tt.action, event.Action)
			assert.Equal(t, StatusUnknown, event.Status)
			assert.Equal(t, SeverityInfo, event.Severity)
		})
	}
}

func TestEventNormalizeFillsDefaults(t *testing.T) {
	e := &Event{Action: "sync"}
	e.Normalize()

	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Equal(t, SourceSystem, e.Source)
	assert.Equal(t, CategorySystem, e.Category)
	assert.Equal(t, StatusUnknown, e.Status)
	assert.Equal(t, SeverityInfo, e.Severity)
}

func TestEventNormalizePreservesProducerTimestamp(t *testing.T) {
	reported := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	e := &Event{Action: "batch_import", Timestamp: reported}
	e.Normalize()

	assert.True(t, e.Timestamp.Equal(reported))
}

func TestEventValidate(t *testing.T) {
	valid, err := NewEvent(SourceAPI, CategoryData, "record_updated")
	require.NoError(t, err)
	assert.NoError(t, valid.Validate())

	neg := int64(-5)
	valid.Duration = &neg
	err = valid.Validate()
	require.Error(t, err)
	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "NEGATIVE_DURATION", appErr.Code)
}

func TestLessOrdersNewestFirstWithIDTieBreak(t *testing.T) {
	now := time.Now().UTC()

	older := &Event{ID: uuid.New(), Timestamp: now.Add(-time.Minute)}
	newer := &Event{ID: uuid.New(), Timestamp: now}

	assert.True(t, Less(newer, older))
	assert.False(t, Less(older, newer))

	// Identical timestamps still order deterministically.
	a := &Event{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Timestamp: now}
	b := &Event{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Timestamp: now}
	assert.True(t, Less(b, a))
	assert.False(t, Less(a, b))
}

func TestParseEnumsPreserveUnknownValues(t *testing.T) {
	src := ParseSource("Webhook")
	assert.Equal(t, Source("webhook"), src)
	assert.False(t, src.Known())

	cat := ParseCategory("governance")
	assert.Equal(t, Category("governance"), cat)
	assert.False(t, cat.Known())

	assert.Equal(t, StatusUnknown, ParseStatus(""))
	assert.Equal(t, SeverityInfo, ParseSeverity(""))
	assert.True(t, ParseStatus("failure").Known())
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.IsAtLeast(SeverityWarning))
	assert.True(t, SeverityWarning.IsAtLeast(SeverityWarning))
	assert.False(t, SeverityInfo.IsAtLeast(SeverityNotice))

	// Unknown severities rank as info.
	assert.False(t, Severity("odd").IsAtLeast(SeverityNotice))
}

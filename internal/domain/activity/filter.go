package activity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tokenledger/activity-service/internal/domain/errors"
)

// Query cost bounds.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// SortDirection for query ordering.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// sortableColumns whitelists ORDER BY targets; anything else is rejected at
// validation so filter input can never reach SQL unchecked.
var sortableColumns = map[string]bool{
	"timestamp": true,
	"source":    true,
	"category":  true,
	"action":    true,
	"status":    true,
	"severity":  true,
}

// Filter narrows an activity query. Zero values mean "no constraint".
type Filter struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`

	Sources    []Source   `json:"sources,omitempty"`
	Categories []Category `json:"categories,omitempty"`
	Statuses   []Status   `json:"statuses,omitempty"`
	Severities []Severity `json:"severities,omitempty"`

	EntityType string `json:"entity_type,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`

	// Search matches case-insensitively against action and details.
	Search string `json:"search,omitempty"`

	SortBy  string        `json:"sort_by,omitempty"`
	SortDir SortDirection `json:"sort_dir,omitempty"`

	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// Normalize applies defaults and caps the page size.
func (f *Filter) Normalize() {
	if f.SortBy == "" {
		f.SortBy = "timestamp"
	}
	if f.SortDir == "" {
		f.SortDir = SortDesc
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
}

// Validate rejects filters that cannot be translated to a query.
func (f *Filter) Validate() error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return errors.NewValidationError("INVALID_TIME_RANGE", "to must not precede from")
	}
	if f.SortBy != "" && !sortableColumns[f.SortBy] {
		return errors.NewValidationError("INVALID_SORT_COLUMN",
			fmt.Sprintf("cannot sort by %q", f.SortBy))
	}
	if f.SortDir != "" && f.SortDir != SortAsc && f.SortDir != SortDesc {
		return errors.NewValidationError("INVALID_SORT_DIRECTION",
			"sort direction must be asc or desc")
	}
	return nil
}

// Offset converts page/limit to the row offset.
func (f *Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Fingerprint produces a stable cache key component for this filter.
// Filters that differ in any field, including the time range, fingerprint
// differently, so a 1h aggregate can never answer a 24h query.
func (f *Filter) Fingerprint() string {
	var b strings.Builder

	writeTime := func(label string, t *time.Time) {
		if t != nil {
			fmt.Fprintf(&b, "%s=%d;", label, t.UnixNano())
		}
	}
	writeTime("from", f.From)
	writeTime("to", f.To)

	writeList := func(label string, vals []string) {
		if len(vals) == 0 {
			return
		}
		sorted := append([]string(nil), vals...)
		sort.Strings(sorted)
		fmt.Fprintf(&b, "%s=%s;", label, strings.Join(sorted, ","))
	}
	writeList("src", toStrings(f.Sources))
	writeList("cat", toStrings(f.Categories))
	writeList("st", toStrings(f.Statuses))
	writeList("sev", toStrings(f.Severities))

	if f.EntityType != "" {
		fmt.Fprintf(&b, "etype=%s;", f.EntityType)
	}
	if f.EntityID != "" {
		fmt.Fprintf(&b, "eid=%s;", f.EntityID)
	}
	if f.UserID != "" {
		fmt.Fprintf(&b, "uid=%s;", f.UserID)
	}
	if f.Search != "" {
		fmt.Fprintf(&b, "q=%s;", strings.ToLower(f.Search))
	}
	fmt.Fprintf(&b, "sort=%s.%s;page=%d;limit=%d", f.SortBy, f.SortDir, f.Page, f.Limit)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:16])
}

func toStrings[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

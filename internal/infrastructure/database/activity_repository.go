package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/tokenledger/activity-service/internal/domain/activity"
	"github.com/tokenledger/activity-service/internal/domain/errors"
)

// ActivityRepository persists activity events in PostgreSQL. It is the only
// owner of durable event state; queries are side-effect-free and idempotent.
type ActivityRepository struct {
	db *pgxpool.Pool
}

func NewActivityRepository(db *pgxpool.Pool) *ActivityRepository {
	return &ActivityRepository{db: db}
}

const eventColumns = `
	id, timestamp, source, category, action, status, severity,
	entity_type, entity_id, user_id, user_email, details, metadata, duration_ms`

// StoreBatch writes a flushed batch in one multi-row INSERT so a batch is
// one round trip and one transaction: either the whole batch lands or none
// of it does. Returns the number of rows written.
func (r *ActivityRepository) StoreBatch(ctx context.Context, events []*activity.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO activity_events (` + eventColumns + `) VALUES `)

	args := make([]interface{}, 0, len(events)*14)
	for i, event := range events {
		if err := event.Validate(); err != nil {
			return 0, errors.NewPermanentStoreError(
				fmt.Sprintf("event %d failed validation", i)).WithCause(err)
		}

		metadataJSON, err := activity.EncodeMetadata(event.Metadata)
		if err != nil {
			return 0, errors.NewPermanentStoreError(
				fmt.Sprintf("event %d has unencodable metadata", i)).WithCause(err)
		}

		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 14
		sb.WriteString("(")
		for j := 1; j <= 14; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")

		args = append(args,
			event.ID,
			event.Timestamp,
			string(event.Source),
			string(event.Category),
			event.Action,
			string(event.Status),
			string(event.Severity),
			nullable(event.EntityType),
			nullable(event.EntityID),
			event.UserID,
			event.UserEmail,
			nullable(event.Details),
			metadataJSON,
			event.Duration,
		)
	}
	sb.WriteString(" ON CONFLICT (id) DO NOTHING")

	tag, err := r.db.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, ClassifyError(err)
	}

	return int(tag.RowsAffected()), nil
}

// Query returns the filtered, sorted page of events plus the total count
// matching the filter, independent of the page size.
func (r *ActivityRepository) Query(ctx context.Context, filter activity.Filter) ([]*activity.Event, int64, error) {
	filter.Normalize()
	if err := filter.Validate(); err != nil {
		return nil, 0, err
	}

	where, args := buildWhere(filter)

	total, err := r.count(ctx, where, args)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(
		`SELECT %s FROM activity_events %s ORDER BY %s %s, id DESC LIMIT $%d OFFSET $%d`,
		eventColumns, where, filter.SortBy, sortKeyword(filter.SortDir),
		len(args)+1, len(args)+2,
	)
	args = append(args, filter.Limit, filter.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, ClassifyError(err)
	}
	defer rows.Close()

	events := make([]*activity.Event, 0, filter.Limit)
	for rows.Next() {
		var (
			event        activity.Event
			source       string
			category     string
			status       string
			severity     string
			entityType   *string
			entityID     *string
			details      *string
			metadataJSON []byte
		)

		err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&source,
			&category,
			&event.Action,
			&status,
			&severity,
			&entityType,
			&entityID,
			&event.UserID,
			&event.UserEmail,
			&details,
			&metadataJSON,
			&event.Duration,
		)
		if err != nil {
			return nil, 0, errors.NewInternalError("failed to scan event row").WithCause(err)
		}

		event.Source = activity.Source(source)
		event.Category = activity.Category(category)
		event.Status = activity.Status(status)
		event.Severity = activity.Severity(severity)
		if entityType != nil {
			event.EntityType = *entityType
		}
		if entityID != nil {
			event.EntityID = *entityID
		}
		if details != nil {
			event.Details = *details
		}

		meta, err := activity.DecodeMetadata(metadataJSON)
		if err != nil {
			return nil, 0, errors.NewInternalError("failed to decode event metadata").WithCause(err)
		}
		event.Metadata = meta

		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, ClassifyError(err)
	}

	return events, total, nil
}

// QueryWindow is the convenience used by analytics and anomaly scans: every
// event in [from, to), oldest first, without pagination bookkeeping.
func (r *ActivityRepository) QueryWindow(ctx context.Context, from, to time.Time, limit int) ([]*activity.Event, error) {
	if limit <= 0 {
		limit = 10_000
	}
	filter := activity.Filter{
		From:    &from,
		To:      &to,
		SortBy:  "timestamp",
		SortDir: activity.SortAsc,
		Limit:   limit,
	}
	filter.Normalize()
	// Normalize caps Limit at the page maximum; window scans go wider.
	filter.Limit = limit

	where, args := buildWhere(filter)
	query := fmt.Sprintf(
		`SELECT %s FROM activity_events %s ORDER BY timestamp ASC, id ASC LIMIT $%d`,
		eventColumns, where, len(args)+1,
	)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, ClassifyError(err)
	}
	defer rows.Close()

	var events []*activity.Event
	for rows.Next() {
		var (
			event        activity.Event
			source       string
			category     string
			status       string
			severity     string
			entityType   *string
			entityID     *string
			details      *string
			metadataJSON []byte
		)
		err := rows.Scan(
			&event.ID, &event.Timestamp, &source, &category, &event.Action,
			&status, &severity, &entityType, &entityID, &event.UserID,
			&event.UserEmail, &details, &metadataJSON, &event.Duration,
		)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan event row").WithCause(err)
		}
		event.Source = activity.Source(source)
		event.Category = activity.Category(category)
		event.Status = activity.Status(status)
		event.Severity = activity.Severity(severity)
		if entityType != nil {
			event.EntityType = *entityType
		}
		if entityID != nil {
			event.EntityID = *entityID
		}
		if details != nil {
			event.Details = *details
		}
		meta, err := activity.DecodeMetadata(metadataJSON)
		if err != nil {
			return nil, errors.NewInternalError("failed to decode event metadata").WithCause(err)
		}
		event.Metadata = meta
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, ClassifyError(err)
	}

	return events, nil
}

// DeleteOlderThan removes events with a timestamp before cutoff, at most
// batchSize rows per call. Callers loop until it reports zero deletions so
// retention sweeps never hold long row locks.
func (r *ActivityRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	tag, err := r.db.Exec(ctx, `
		DELETE FROM activity_events
		WHERE id IN (
			SELECT id FROM activity_events
			WHERE timestamp < $1
			ORDER BY timestamp
			LIMIT $2
		)`, cutoff, batchSize)
	if err != nil {
		return 0, ClassifyError(err)
	}
	return tag.RowsAffected(), nil
}

// CountOlderThan reports how many events a retention sweep at cutoff would
// remove. Used for dry runs.
func (r *ActivityRepository) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM activity_events WHERE timestamp < $1", cutoff).Scan(&total)
	if err != nil {
		return 0, ClassifyError(err)
	}
	return total, nil
}

func (r *ActivityRepository) count(ctx context.Context, where string, args []interface{}) (int64, error) {
	var total int64
	query := "SELECT COUNT(*) FROM activity_events " + where
	if err := r.db.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, ClassifyError(err)
	}
	return total, nil
}

// buildWhere translates a validated filter into a WHERE clause. Sort columns
// are whitelisted by Filter.Validate, so only values reach the driver as
// parameters.
func buildWhere(filter activity.Filter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	arg := func(v interface{}) int {
		args = append(args, v)
		return len(args)
	}

	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", arg(*filter.From)))
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp < $%d", arg(*filter.To)))
	}
	if len(filter.Sources) > 0 {
		conditions = append(conditions,
			fmt.Sprintf("source = ANY($%d)", arg(pq.Array(asStrings(filter.Sources)))))
	}
	if len(filter.Categories) > 0 {
		conditions = append(conditions,
			fmt.Sprintf("category = ANY($%d)", arg(pq.Array(asStrings(filter.Categories)))))
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions,
			fmt.Sprintf("status = ANY($%d)", arg(pq.Array(asStrings(filter.Statuses)))))
	}
	if len(filter.Severities) > 0 {
		conditions = append(conditions,
			fmt.Sprintf("severity = ANY($%d)", arg(pq.Array(asStrings(filter.Severities)))))
	}
	if filter.EntityType != "" {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", arg(filter.EntityType)))
	}
	if filter.EntityID != "" {
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", arg(filter.EntityID)))
	}
	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", arg(filter.UserID)))
	}
	if filter.Search != "" {
		n := arg("%" + filter.Search + "%")
		conditions = append(conditions,
			fmt.Sprintf("(action ILIKE $%d OR details ILIKE $%d)", n, n))
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func sortKeyword(dir activity.SortDirection) string {
	if dir == activity.SortAsc {
		return "ASC"
	}
	return "DESC"
}

func asStrings[T ~string](vals []T) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

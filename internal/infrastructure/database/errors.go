package database

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	domainerrors "github.com/tokenledger/activity-service/internal/domain/errors"
)

// ClassifyError maps a raw store error onto the transient/permanent split.
// Only transient errors are worth retrying upstream.
func ClassifyError(err error) *domainerrors.AppError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domainerrors.NewTransientStoreError("store operation timed out").WithCause(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domainerrors.NewTransientStoreError("network failure reaching store").WithCause(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if isTransientPgCode(pgErr.Code) {
			return domainerrors.NewTransientStoreError("postgres reported a transient failure").
				WithCause(err).
				WithDetails(map[string]interface{}{"pg_code": pgErr.Code})
		}
		return domainerrors.NewPermanentStoreError("postgres rejected the statement").
			WithCause(err).
			WithDetails(map[string]interface{}{"pg_code": pgErr.Code})
	}

	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset") {
		return domainerrors.NewTransientStoreError("store connection failure").WithCause(err)
	}

	return domainerrors.NewPermanentStoreError("store operation failed").WithCause(err)
}

// isTransientPgCode covers connection loss (class 08), resource exhaustion
// (class 53), serialization/deadlock (40001, 40P01) and admin cancellation.
func isTransientPgCode(code string) bool {
	if strings.HasPrefix(code, "08") || strings.HasPrefix(code, "53") {
		return true
	}
	switch code {
	case "40001", "40P01", "57014", "57P03":
		return true
	}
	return false
}

// IsNotFound reports whether the error indicates a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

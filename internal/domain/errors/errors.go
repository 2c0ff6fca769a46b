package errors

import (
	"errors"
	"fmt"
)

// ErrorType partitions failures by how callers should react to them.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeTransient    ErrorType = "transient"
	ErrorTypePermanent    ErrorType = "permanent"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors

// NewValidationError marks a malformed request or filter. Never retried.
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// NewTransientStoreError marks a store failure worth retrying: network
// resets, timeouts, serialization conflicts.
func NewTransientStoreError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeTransient,
		Code:       "STORE_TRANSIENT",
		Message:    message,
		Retryable:  true,
		StatusCode: 503,
	}
}

// NewPermanentStoreError marks a store failure that retrying cannot fix:
// constraint violations, schema mismatches, malformed statements.
func NewPermanentStoreError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypePermanent,
		Code:       "STORE_PERMANENT",
		Message:    message,
		Retryable:  false,
		StatusCode: 500,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
		Retryable:  false,
		StatusCode: 401,
	}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       "FORBIDDEN",
		Message:    message,
		Retryable:  false,
		StatusCode: 403,
	}
}

func NewRateLimitError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeForbidden,
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    message,
		Retryable:  true,
		StatusCode: 429,
	}
}

// Predefined common errors
var (
	ErrInvalidInput    = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrEventNotFound   = NewNotFoundError("activity event")
	ErrUnknownStandard = NewValidationError("UNKNOWN_STANDARD", "Unknown compliance standard")
	ErrQueueClosed     = NewInternalError("ingest queue is shut down")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}

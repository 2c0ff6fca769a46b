package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := NewTransientStoreError("flush failed").WithCause(cause)

	assert.Equal(t, "flush failed: connection reset", err.Error())
	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsType(err, ErrorTypeTransient))
	assert.False(t, IsType(err, ErrorTypePermanent))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTransientStoreError("timeout")))
	assert.True(t, IsRetryable(NewInternalError("boom")))
	assert.False(t, IsRetryable(NewPermanentStoreError("constraint violation")))
	assert.False(t, IsRetryable(NewValidationError("BAD", "bad")))

	// Wrapped errors keep their classification.
	wrapped := Wrap(NewTransientStoreError("timeout"), "store batch")
	assert.True(t, IsRetryable(wrapped))

	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestStatusCodes(t *testing.T) {
	assert.Equal(t, 400, NewValidationError("X", "x").StatusCode)
	assert.Equal(t, 401, NewUnauthorizedError("x").StatusCode)
	assert.Equal(t, 403, NewForbiddenError("x").StatusCode)
	assert.Equal(t, 404, NewNotFoundError("thing").StatusCode)
	assert.Equal(t, 429, NewRateLimitError("x").StatusCode)
	assert.Equal(t, 503, NewTransientStoreError("x").StatusCode)
}

package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	base := NewContention("stock_records")
	wrapped := fmt.Errorf("reserve: %w", base)

	assert.True(t, IsContention(wrapped))
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.True(t, errors.Is(wrapped, &AppError{Code: CodeContention}))
	assert.False(t, errors.Is(wrapped, &AppError{Code: CodeNotFound}))
}

func TestOnlyContentionIsRetryable(t *testing.T) {
	cases := []error{
		NewInsufficientStock("p", "l", 5, 2),
		NewInvariantViolation("reserved exceeds on hand"),
		NewNotFound("backorder", "x"),
		NewValidation("bad"),
		errors.New("plain"),
	}
	for _, err := range cases {
		assert.False(t, IsRetryable(err), err.Error())
	}
}

func TestInsufficientStockDetails(t *testing.T) {
	err := NewInsufficientStock("prod-1", "", 10, 4)

	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus)
	assert.Equal(t, int64(10), err.Details["requested"])
	assert.Equal(t, int64(4), err.Details["available"])
	_, hasLocation := err.Details["location_id"]
	assert.False(t, hasLocation)

	err = NewInsufficientStock("prod-1", "loc-1", 10, 4)
	assert.Equal(t, "loc-1", err.Details["location_id"])
}

func TestWithCauseKeepsChain(t *testing.T) {
	cause := errors.New("pg: lock timeout")
	err := NewContention("stock_records").WithCause(cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "CONTENTION")
	assert.Contains(t, err.Error(), "lock timeout")
	assert.Equal(t, http.StatusServiceUnavailable, GetHTTPStatus(err))
	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(cause))
}

package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", InvalidState("record is terminal"))

	assert.Equal(t, ErrCodeInvalidState, CodeOf(wrapped))
	assert.Equal(t, ErrCodeInternal, CodeOf(fmt.Errorf("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.True(t, IsCode(wrapped, ErrCodeInvalidState))
	assert.False(t, IsCode(nil, ErrCodeInvalidState))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrCodeInternal, "ignored"))

	cause := fmt.Errorf("connection reset")
	err := Wrap(cause, ErrCodeInternal, "failed to load record")
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "failed to load record")
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNotFoundDetails(t *testing.T) {
	err := NotFound("approval_record", "r1")
	assert.Equal(t, "approval_record", err.Details["resource"])
	assert.Equal(t, "r1", err.Details["id"])
}

func TestHTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeNotFound:               http.StatusNotFound,
		ErrCodeInvalidState:           http.StatusBadRequest,
		ErrCodeInvalidInput:           http.StatusBadRequest,
		ErrCodeRoutingFailure:         http.StatusBadRequest,
		ErrCodePermissionDenied:       http.StatusForbidden,
		ErrCodeConcurrentModification: http.StatusConflict,
		ErrCodeInternal:               http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), code)
	}
}

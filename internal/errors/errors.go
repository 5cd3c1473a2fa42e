// Package errors defines the typed error taxonomy shared by the approval
// engine, its repositories and the transport adapters.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies an error for callers and transport mapping.
type ErrorCode string

const (
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeInvalidInput           ErrorCode = "INVALID_INPUT"
	ErrCodeInvalidState           ErrorCode = "INVALID_STATE"
	ErrCodePermissionDenied       ErrorCode = "PERMISSION_DENIED"
	ErrCodeRoutingFailure         ErrorCode = "ROUTING_FAILURE"
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
	ErrCodeInternal               ErrorCode = "INTERNAL"
)

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a key/value pair to the error and returns it.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates an error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps err with a code and message. A nil err yields nil.
func Wrap(err error, code ErrorCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// InvalidInput reports a malformed request field.
func InvalidInput(field, message string) *Error {
	return New(ErrCodeInvalidInput, message).WithDetail("field", field)
}

// InvalidState reports an action that is illegal for the current status.
func InvalidState(message string) *Error {
	return New(ErrCodeInvalidState, message)
}

// PermissionDenied reports an actor that may not perform the action.
func PermissionDenied(message string) *Error {
	return New(ErrCodePermissionDenied, message)
}

// RoutingFailure reports that no workflow template could be resolved.
func RoutingFailure(message string) *Error {
	return New(ErrCodeRoutingFailure, message)
}

// ConcurrentModification reports a lost optimistic-lock race.
func ConcurrentModification(resource, id string) *Error {
	return New(ErrCodeConcurrentModification,
		fmt.Sprintf("%s was modified concurrently; re-read and retry", resource)).
		WithDetail("resource", resource).
		WithDetail("id", id)
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeInternal when there is none.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// HTTPStatus maps an error code to its HTTP status class.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput, ErrCodeInvalidState, ErrCodeRoutingFailure:
		return http.StatusBadRequest
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	case ErrCodeConcurrentModification:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Is and As re-export the standard helpers so callers need a single import.
var (
	Is = stderrors.Is
	As = stderrors.As
)

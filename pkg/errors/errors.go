// Package errors defines the error taxonomy surfaced to tool callers.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in tool error payloads.
const (
	// CodeAuthRequired is returned when the caller must (re)authenticate:
	// missing or invalid bearer, unknown session, failed refresh.
	CodeAuthRequired = "AUTH_REQUIRED"

	// CodeValidation is returned when the request arguments are malformed
	// or violate a size limit.
	CodeValidation = "VALIDATION_ERROR"

	// CodeUpstream is returned when Microsoft Graph or the token endpoint
	// fails in a way the gateway cannot recover from.
	CodeUpstream = "UPSTREAM_ERROR"

	// CodeNotFound is returned when a referenced resource does not exist.
	CodeNotFound = "NOT_FOUND"

	// CodeConflict is returned when a request conflicts with existing state.
	CodeConflict = "CONFLICT"
)

// Error represents a gateway error with a stable code and an HTTP-aligned
// status. Messages never contain tokens, verifiers, or other secrets.
type Error struct {
	// Code is one of the Code* constants.
	Code string

	// Message is the human-readable description sent to the caller.
	Message string

	// Status is the HTTP status the code maps to.
	Status int

	// CorrelationID identifies the request that produced the error.
	CorrelationID string

	// Cause is the underlying error, kept for logs and unwrapping only.
	Cause error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCorrelationID returns a copy of the error carrying the given ID.
func (e *Error) WithCorrelationID(id string) *Error {
	clone := *e
	clone.CorrelationID = id
	return &clone
}

// Payload returns the wire representation of the error.
func (e *Error) Payload() map[string]any {
	inner := map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	if e.CorrelationID != "" {
		inner["correlation_id"] = e.CorrelationID
	}
	return map[string]any{"error": inner}
}

// New creates a new error with an explicit code and status.
func New(code, message string, status int, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Cause:   cause,
	}
}

// NewAuthRequiredError creates a new authentication required error.
func NewAuthRequiredError(message string, cause error) *Error {
	return New(CodeAuthRequired, message, http.StatusUnauthorized, cause)
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, cause error) *Error {
	return New(CodeValidation, message, http.StatusBadRequest, cause)
}

// NewPayloadTooLargeError creates a validation error for oversized payloads.
func NewPayloadTooLargeError(message string, cause error) *Error {
	return New(CodeValidation, message, http.StatusRequestEntityTooLarge, cause)
}

// NewUpstreamError creates a new upstream failure error.
func NewUpstreamError(message string, cause error) *Error {
	return New(CodeUpstream, message, http.StatusBadGateway, cause)
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(message string, cause error) *Error {
	return New(CodeNotFound, message, http.StatusNotFound, cause)
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, cause error) *Error {
	return New(CodeConflict, message, http.StatusConflict, cause)
}

// AsError normalizes any error into an *Error. Errors that are not part of
// the taxonomy become upstream errors with a generic message; the original
// error is preserved as the cause.
func AsError(err error) *Error {
	var gatewayErr *Error
	if errors.As(err, &gatewayErr) {
		return gatewayErr
	}
	return NewUpstreamError("Internal error", err)
}

// IsAuthRequired checks if the error is an authentication required error.
func IsAuthRequired(err error) bool {
	return hasCode(err, CodeAuthRequired)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return hasCode(err, CodeValidation)
}

// IsUpstream checks if the error is an upstream failure error.
func IsUpstream(err error) bool {
	return hasCode(err, CodeUpstream)
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool {
	return hasCode(err, CodeConflict)
}

func hasCode(err error, code string) bool {
	var gatewayErr *Error
	return errors.As(err, &gatewayErr) && gatewayErr.Code == code
}

// Package apperr defines the closed error taxonomy shared by every service
// package. The HTTP layer maps each Kind to a status code and response
// shape in one place instead of repeating errors.Is/errors.As chains per
// handler.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error taxonomy entries from the error handling design.
type Kind string

const (
	KindValidation    Kind = "validation_failed"
	KindUnauthorized  Kind = "unauthorized"
	KindForbidden     Kind = "forbidden"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindPayloadTooBig Kind = "payload_too_large"
	KindRateLimited   Kind = "rate_limited"
	KindInternal      Kind = "internal_error"
	KindUnavailable   Kind = "unavailable"
)

// FieldError is one entry in a validation failure's details list.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a typed service-layer error carrying enough information for the
// HTTP layer to render the correct status code and body without inspecting
// error strings.
type Error struct {
	Kind    Kind
	Message string
	Details []FieldError
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Validation constructs a validation_failed error with field details.
func Validation(message string, details ...FieldError) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// NotFound constructs a not_found error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Conflict constructs a conflict error.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// Unauthorized constructs an unauthorized error.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Forbidden constructs a forbidden error.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// TooLarge constructs a payload_too_large error.
func TooLarge(message string) *Error {
	return &Error{Kind: KindPayloadTooBig, Message: message}
}

// As extracts an *Error from err, if any wraps one.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

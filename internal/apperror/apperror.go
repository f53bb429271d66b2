// Package apperror defines the domain error taxonomy shared by the
// service and repository layers. Handlers translate these sentinels to
// HTTP status codes; nothing below the handler layer knows about HTTP.
package apperror

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation means the input is missing, malformed, or out of range.
	// The request is rejected with no state mutated.
	ErrValidation = errors.New("validation error")
	// ErrIdentityRequired means no authenticated identity and no device id
	// was supplied, so there is no user to attach the submission to.
	ErrIdentityRequired = errors.New("identity required")
	// ErrNameUnavailable means a display name is reserved or already held by
	// another user. Never surfaced to HTTP clients as a hard failure:
	// callers degrade to keeping the existing name.
	ErrNameUnavailable = errors.New("name unavailable")
)

// AppError pairs a sentinel with a human-readable message, and
// optionally the field that caused a validation failure.
type AppError struct {
	Err     error  // sentinel (ErrNotFound, ErrValidation, ...)
	Message string // human-readable error message
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func IdentityRequired() *AppError {
	return &AppError{
		Err:     ErrIdentityRequired,
		Message: "an authenticated session or a deviceId is required",
	}
}

func NameUnavailable(name string) *AppError {
	return &AppError{
		Err:     ErrNameUnavailable,
		Message: fmt.Sprintf("display name %q is not available", name),
	}
}

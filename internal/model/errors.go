package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record or cache entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBackendUnavailable is returned when the primary store cannot serve
	// a call. The adapter fails over to the fallback store when it sees it.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrTimeout is returned when the active store, with no further
	// fallback, does not answer within the deadline.
	ErrTimeout = errors.New("backend timeout")
)

// ValidationError reports malformed caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError is a shorthand used by the service layers.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

package history

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation references a visit id that does
// not exist. Callers are expected to branch on it with errors.Is.
var ErrNotFound = errors.New("visit not found")

// ValidationKind classifies a rejected input.
type ValidationKind string

const (
	InvalidURL        ValidationKind = "invalid_url"
	InvalidTimestamp  ValidationKind = "invalid_timestamp"
	InvalidTransition ValidationKind = "invalid_transition"
	InvalidDuration   ValidationKind = "invalid_duration"
	InvalidLimit      ValidationKind = "invalid_limit"
	InvalidQuery      ValidationKind = "invalid_query"
)

// ValidationError reports caller-fixable input. It is never retried.
type ValidationError struct {
	Kind   ValidationKind
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Reason)
}

// StorageError wraps a failure of the persistence layer. It is fatal to the
// operation in progress and surfaced verbatim; the original driver error is
// available via errors.Unwrap.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage reports whether err is (or wraps) a *StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func invalid(kind ValidationKind, field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

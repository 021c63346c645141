package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the data path.
var (
	// ErrUnmappedSensorType means no transport topic is configured for the
	// reading's sensor type. Configuration gap, never retried.
	ErrUnmappedSensorType = errors.New("no topic mapping for sensor type")

	// ErrPublishUnavailable is what callers see when the breaker rejects a
	// publish or the retry budget is exhausted.
	ErrPublishUnavailable = errors.New("publish unavailable")

	// ErrQueryValidation marks parameter-invariant violations detected
	// before any store access.
	ErrQueryValidation = errors.New("query validation failed")

	// ErrQueryExecution marks store-side failures. Not retried by the
	// query engine.
	ErrQueryExecution = errors.New("query execution failed")
)

// ValidationError reports a bad input field. Always the caller's fault,
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// TransientKind classifies transport failures that are worth retrying.
type TransientKind string

const (
	TransientServiceUnavailable TransientKind = "service_unavailable"
	TransientDeadlineExceeded   TransientKind = "deadline_exceeded"
	TransientInternal           TransientKind = "internal_error"
)

// TransientError wraps a transport failure classified as likely to succeed
// on retry. Only these kinds are retried by the retry policy.
type TransientError struct {
	Kind TransientKind
	Err  error
}

func NewTransientError(kind TransientKind, err error) *TransientError {
	return &TransientError{Kind: kind, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s: %v", e.Kind, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

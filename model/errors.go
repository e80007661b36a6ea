package model

import (
	"errors"
	"fmt"
)

// Error classes. Every error the coordinator handles carries exactly one.
const (
	// ErrRecoverable marks transient failures (timeouts, rate limits,
	// unreachable storage). Retried with backoff before escalating.
	ErrRecoverable = "RECOVERABLE"
	// ErrTerminal marks business or validation rejections. Never retried;
	// triggers compensation immediately.
	ErrTerminal = "TERMINAL"
	// ErrCompensation marks failures raised while undoing a completed step.
	// Logged; the reverse iteration continues.
	ErrCompensation = "COMPENSATION"
	// ErrConsistency marks an integrity finding: an artifact without a live
	// step record, or the reverse. Reported out-of-band, never raised mid-run.
	ErrConsistency = "CONSISTENCY_VIOLATION"
	// ErrBoundary marks an attempted storage access outside the calling
	// module's own namespace.
	ErrBoundary = "BOUNDARY_VIOLATION"

	ErrNotFound = "NOT_FOUND"
	ErrConflict = "CONFLICT"
)

// StepError is the structured error envelope used throughout the
// orchestrator. It implements the error interface and carries the class the
// coordinator dispatches on.
type StepError struct {
	Class   string `json:"class"`
	Step    string `json:"step,omitempty"`
	Message string `json:"message"`

	cause error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("%s: step %q: %s", e.Class, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

// Unwrap exposes the underlying cause, if any.
func (e *StepError) Unwrap() error {
	return e.cause
}

// NewRecoverableError returns a RECOVERABLE error for a step.
func NewRecoverableError(step, msg string, cause error) *StepError {
	return &StepError{Class: ErrRecoverable, Step: step, Message: msg, cause: cause}
}

// NewTerminalError returns a TERMINAL error for a step.
func NewTerminalError(step, msg string, cause error) *StepError {
	return &StepError{Class: ErrTerminal, Step: step, Message: msg, cause: cause}
}

// NewCompensationError returns a COMPENSATION error for a step.
func NewCompensationError(step, msg string, cause error) *StepError {
	return &StepError{Class: ErrCompensation, Step: step, Message: msg, cause: cause}
}

// NewConsistencyError returns a CONSISTENCY_VIOLATION error.
func NewConsistencyError(msg string) *StepError {
	return &StepError{Class: ErrConsistency, Message: msg}
}

// NewBoundaryError returns a BOUNDARY_VIOLATION error.
func NewBoundaryError(msg string) *StepError {
	return &StepError{Class: ErrBoundary, Message: msg}
}

// NewNotFoundError returns a NOT_FOUND error.
func NewNotFoundError(msg string) *StepError {
	return &StepError{Class: ErrNotFound, Message: msg}
}

// NewConflictError returns a CONFLICT error.
func NewConflictError(msg string) *StepError {
	return &StepError{Class: ErrConflict, Message: msg}
}

// Classify returns the error class, or ErrTerminal for errors that carry no
// envelope. Unclassified failures must not be retried blindly.
func Classify(err error) string {
	var se *StepError
	if errors.As(err, &se) {
		return se.Class
	}
	return ErrTerminal
}

// IsRecoverable reports whether err should be retried.
func IsRecoverable(err error) bool {
	return Classify(err) == ErrRecoverable
}

// IsNotFound reports whether err is a NOT_FOUND envelope.
func IsNotFound(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Class == ErrNotFound
}

// IsBoundary reports whether err is a BOUNDARY_VIOLATION envelope.
func IsBoundary(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Class == ErrBoundary
}

// IsConsistency reports whether err is a CONSISTENCY_VIOLATION envelope.
func IsConsistency(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Class == ErrConsistency
}

// IsConflict reports whether err is a CONFLICT envelope.
func IsConflict(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Class == ErrConflict
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass buckets command failures for retry and reporting decisions.
type ErrorClass string

const (
	// ClassValidation marks a structural or semantic precondition failure.
	// Never retried; state is untouched.
	ClassValidation ErrorClass = "validation"
	// ClassConflict marks a precondition invalidated by current state
	// (already called, already booked). Never retried.
	ClassConflict ErrorClass = "conflict"
	// ClassExecution marks a failure while reading or writing the store.
	// Retried when the underlying cause looks transient.
	ClassExecution ErrorClass = "execution"
	// ClassTimeout marks a command that exceeded its execution deadline.
	ClassTimeout ErrorClass = "timeout"
)

// Error is a classified command failure.
type Error struct {
	Class   ErrorClass
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func Validationf(format string, args ...any) error {
	return &Error{Class: ClassValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Class: ClassConflict, Message: fmt.Sprintf(format, args...)}
}

// Classify buckets any error produced by command execution.
// Unclassified errors are treated as execution failures.
func Classify(err error) ErrorClass {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	return ClassExecution
}

// Retryable reports whether a failed command may be re-dispatched.
// Validation and conflict failures are terminal; timeouts are retryable;
// execution failures are retryable only when they look transient.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassValidation, ClassConflict:
		return false
	case ClassTimeout:
		return true
	default:
		return transient(err)
	}
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"broken pipe",
	"unavailable",
	"temporarily",
	"too many connections",
}

func transient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

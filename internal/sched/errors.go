package sched

import (
	"errors"
	"fmt"
)

// Code categorizes scheduler errors.
type Code string

const (
	// CodeTimeout indicates a task exceeded its logical-step deadline or
	// its wall-clock limit.
	CodeTimeout Code = "TIMEOUT"

	// CodeCancelled indicates a task was cancelled before completing.
	CodeCancelled Code = "CANCELLED"

	// CodeClosed indicates a submission after the scheduler stopped
	// accepting work.
	CodeClosed Code = "SCHEDULER_CLOSED"
)

// Error is a structured scheduler error.
type Error struct {
	Code    Code
	Message string
	Task    int64
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Task != 0 {
		return fmt.Sprintf("%s: %s (task=%d)", e.Code, e.Message, e.Task)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

func hasCode(err error, code Code) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsTimeout returns true for deadline and wall-clock timeout errors.
func IsTimeout(err error) bool { return hasCode(err, CodeTimeout) }

// IsCancelled returns true for cancellation errors.
func IsCancelled(err error) bool { return hasCode(err, CodeCancelled) }

// IsClosed returns true for submissions to a stopped scheduler.
func IsClosed(err error) bool { return hasCode(err, CodeClosed) }

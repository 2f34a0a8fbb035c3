package eff

import (
	"errors"
	"fmt"
)

// RuntimeErrorCode categorizes interpreter errors.
type RuntimeErrorCode string

const (
	// ErrCodeOutOfGas indicates the gas budget was exhausted.
	ErrCodeOutOfGas RuntimeErrorCode = "OUT_OF_GAS"

	// ErrCodeUnhandledEffect indicates no scoped or registered handler,
	// and no core implementation, matched a performed effect.
	ErrCodeUnhandledEffect RuntimeErrorCode = "UNHANDLED_EFFECT"

	// ErrCodeIntentUnsatisfiable indicates intent compilation found no
	// assignment of handlers and resources meeting the constraints.
	ErrCodeIntentUnsatisfiable RuntimeErrorCode = "INTENT_UNSATISFIABLE"

	// ErrCodeCancelled indicates the context was cancelled at a
	// suspension point.
	ErrCodeCancelled RuntimeErrorCode = "CANCELLED"

	// ErrCodeBadExpr indicates a malformed expression tree.
	ErrCodeBadExpr RuntimeErrorCode = "BAD_EXPR"
)

// RuntimeError is a structured interpreter error.
type RuntimeError struct {
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// EffectType identifies the effect involved, when there is one.
	EffectType string

	// Constraint names the unmet constraint for unsatisfiable intents.
	Constraint string

	// Err is the wrapped cause, if any.
	Err error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.EffectType != "" {
		return fmt.Sprintf("%s: %s (effect=%s)", e.Code, e.Message, e.EffectType)
	}
	if e.Constraint != "" {
		return fmt.Sprintf("%s: %s (constraint=%s)", e.Code, e.Message, e.Constraint)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *RuntimeError) Unwrap() error { return e.Err }

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsOutOfGas returns true for gas exhaustion errors.
func IsOutOfGas(err error) bool { return hasCode(err, ErrCodeOutOfGas) }

// IsUnhandledEffect returns true for unhandled effect errors.
func IsUnhandledEffect(err error) bool { return hasCode(err, ErrCodeUnhandledEffect) }

// IsIntentUnsatisfiable returns true for intent compilation failures.
func IsIntentUnsatisfiable(err error) bool { return hasCode(err, ErrCodeIntentUnsatisfiable) }

// IsCancelled returns true for cancellation at a suspension point.
func IsCancelled(err error) bool { return hasCode(err, ErrCodeCancelled) }

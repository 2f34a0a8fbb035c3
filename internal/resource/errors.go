package resource

import (
	"errors"
	"fmt"

	"github.com/telic-run/telic/internal/ir"
)

// Code categorizes registry errors.
type Code string

const (
	// CodeAccessDenied indicates a capability does not grant the requested
	// right, or does not apply to the resource at all.
	CodeAccessDenied Code = "ACCESS_DENIED"

	// CodeRevoked indicates the capability, or one of its ancestors, has
	// been revoked.
	CodeRevoked Code = "CAPABILITY_REVOKED"

	// CodeResourceLocked indicates the resource is held by another guard.
	CodeResourceLocked Code = "RESOURCE_LOCKED"

	// CodeNotFound indicates the resource is unknown or already consumed.
	CodeNotFound Code = "RESOURCE_NOT_FOUND"

	// CodeConservationViolation indicates an effect's flows do not balance.
	CodeConservationViolation Code = "CONSERVATION_VIOLATION"

	// CodeNullifierCollision indicates a nullifier already exists for a
	// resource being consumed. Linearity is broken; the domain halts.
	CodeNullifierCollision Code = "NULLIFIER_COLLISION"

	// CodeStorageIo indicates the node store failed mid-commit. State on
	// disk can no longer be trusted; the domain halts.
	CodeStorageIo Code = "STORAGE_IO"

	// CodeHalted indicates the domain has already halted on a fatal error
	// and refuses further operations.
	CodeHalted Code = "DOMAIN_HALTED"
)

// Error is a structured registry error. Recoverable codes leave the registry
// usable; fatal codes mean the domain has halted.
type Error struct {
	Code       Code
	Message    string
	Resource   ir.ResourceID
	Capability ir.CapabilityID
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case !ir.IsZero(e.Resource) && !ir.IsZero(e.Capability):
		return fmt.Sprintf("%s: %s (resource=%s, capability=%s)",
			e.Code, e.Message, ir.ShortHex(e.Resource), ir.ShortHex(e.Capability))
	case !ir.IsZero(e.Resource):
		return fmt.Sprintf("%s: %s (resource=%s)", e.Code, e.Message, ir.ShortHex(e.Resource))
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Fatal reports whether the error halts the domain.
func (e *Error) Fatal() bool {
	switch e.Code {
	case CodeNullifierCollision, CodeStorageIo, CodeHalted:
		return true
	default:
		return false
	}
}

func errCode(err error) (Code, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Code, true
	}
	return "", false
}

// IsAccessDenied returns true for capability-rejection errors.
func IsAccessDenied(err error) bool {
	c, ok := errCode(err)
	return ok && c == CodeAccessDenied
}

// IsRevoked returns true for revoked-capability errors.
func IsRevoked(err error) bool {
	c, ok := errCode(err)
	return ok && c == CodeRevoked
}

// IsLocked returns true for lock-contention errors.
func IsLocked(err error) bool {
	c, ok := errCode(err)
	return ok && c == CodeResourceLocked
}

// IsNotFound returns true for unknown-or-consumed resource errors.
func IsNotFound(err error) bool {
	c, ok := errCode(err)
	return ok && c == CodeNotFound
}

// IsConservationViolation returns true for unbalanced-flow errors.
func IsConservationViolation(err error) bool {
	c, ok := errCode(err)
	return ok && c == CodeConservationViolation
}

// IsFatal returns true for errors that halt the domain.
func IsFatal(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Fatal()
	}
	return false
}

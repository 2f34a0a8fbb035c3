package smt

import (
	"errors"
	"fmt"
)

// StorageError wraps a node-store I/O failure. Storage failures are fatal for
// the owning domain: the single writer halts and refuses further commits.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying I/O error.
func (e *StorageError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ErrNodeMissing indicates a node referenced by a root is absent from the
// store. A missing node under a committed root means the store is corrupt.
var ErrNodeMissing = errors.New("smt: node missing from store")

// ErrPathCollision indicates two distinct keys hashed to the same 256-bit
// path, which is a SHA-256 collision and therefore an invariant violation.
var ErrPathCollision = errors.New("smt: key path collision")

// ErrProofInvalid indicates a proof failed verification. Recoverable:
// surfaced to the caller, the tree is untouched.
var ErrProofInvalid = errors.New("smt: proof verification failed")

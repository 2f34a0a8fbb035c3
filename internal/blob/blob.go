package blob

import (
	"context"
	"errors"
	"fmt"

	"github.com/telic-run/telic/internal/ir"
)

// Driver identifies a concrete blob backend.
type Driver string

const (
	// DriverMemory is the in-memory backend, used in tests.
	DriverMemory Driver = "memory"

	// DriverFilesystem stores blobs under a local directory.
	DriverFilesystem Driver = "fs"

	// DriverS3 stores blobs in an S3-compatible bucket.
	DriverS3 Driver = "s3"
)

// Ref is the content address of a stored blob.
type Ref ir.EntityID

// ComputeRef hashes blob bytes under the blob domain tag.
func ComputeRef(data []byte) Ref {
	return Ref(ir.HashWithTag(ir.TagBlob, data))
}

// ErrNotFound is returned when no blob exists for a ref.
var ErrNotFound = errors.New("blob: not found")

// Store holds opaque content-addressed proof artifacts: chain-call outputs,
// ZK proofs, anything the core treats as bytes. Writes are idempotent; the
// ref is always the hash of the content, so a second Put of the same bytes
// is a no-op and a Get can verify integrity on read.
type Store interface {
	// Put stores data and returns its ref.
	Put(ctx context.Context, data []byte) (Ref, error)

	// Get returns the bytes for a ref, or ErrNotFound.
	Get(ctx context.Context, ref Ref) ([]byte, error)

	// Has reports whether a ref is stored.
	Has(ctx context.Context, ref Ref) (bool, error)

	// Driver identifies the backend.
	Driver() Driver

	// Close releases backend resources.
	Close() error
}

// verify checks fetched bytes against their ref. Backends call it on every
// read so a corrupted object surfaces as an error instead of bad data.
func verify(ref Ref, data []byte) ([]byte, error) {
	if got := ComputeRef(data); got != ref {
		return nil, fmt.Errorf("blob: content mismatch for %s", ir.ShortHex(ref))
	}
	return data, nil
}

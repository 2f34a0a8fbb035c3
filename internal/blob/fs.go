package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/telic-run/telic/internal/ir"
)

// FilesystemStore lays blobs out under a root directory, sharded by the
// first two hex characters of the ref to keep directories small.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore creates the root directory if needed.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob: filesystem root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) path(ref Ref) string {
	hex := ir.Hex(ref)
	return filepath.Join(s.root, hex[:2], hex)
}

// Put implements Store. The write goes through a temp file and rename so a
// crash never leaves a partial blob at its final path.
func (s *FilesystemStore) Put(_ context.Context, data []byte) (Ref, error) {
	ref := ComputeRef(data)
	path := s.path(ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Ref{}, fmt.Errorf("blob: shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return Ref{}, fmt.Errorf("blob: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return Ref{}, fmt.Errorf("blob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return Ref{}, fmt.Errorf("blob: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return Ref{}, fmt.Errorf("blob: rename: %w", err)
	}
	return ref, nil
}

// Get implements Store.
func (s *FilesystemStore) Get(_ context.Context, ref Ref) ([]byte, error) {
	data, err := os.ReadFile(s.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blob: read: %w", err)
	}
	return verify(ref, data)
}

// Has implements Store.
func (s *FilesystemStore) Has(_ context.Context, ref Ref) (bool, error) {
	_, err := os.Stat(s.path(ref))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blob: stat: %w", err)
	}
	return true, nil
}

// Driver implements Store.
func (s *FilesystemStore) Driver() Driver { return DriverFilesystem }

// Close implements Store.
func (s *FilesystemStore) Close() error { return nil }

package blob

import (
	"context"
	"sync"
)

// MemoryStore keeps blobs in a map. Tests and ephemeral domains use it.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[Ref][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[Ref][]byte)}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, data []byte) (Ref, error) {
	ref := ComputeRef(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[ref]; !ok {
		s.blobs[ref] = append([]byte(nil), data...)
	}
	return ref, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, ref Ref) ([]byte, error) {
	s.mu.RLock()
	data, ok := s.blobs[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return verify(ref, append([]byte(nil), data...))
}

// Has implements Store.
func (s *MemoryStore) Has(_ context.Context, ref Ref) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[ref]
	return ok, nil
}

// Driver implements Store.
func (s *MemoryStore) Driver() Driver { return DriverMemory }

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

package smt

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// NodeStore persists tree nodes keyed by their hash. Nodes are immutable and
// content-addressed: a PutBatch that rewrites an existing hash with the same
// bytes is a no-op, and backends treat duplicate inserts as idempotent.
type NodeStore interface {
	// Get returns the node bytes for a hash, or ok=false if absent.
	Get(hash Hash) ([]byte, bool, error)

	// PutBatch writes a set of nodes atomically.
	PutBatch(nodes map[Hash][]byte) error

	// Close releases backend resources.
	Close() error
}

// Node record encodings stored in a NodeStore. The record is the hash
// preimage minus the domain prefix arithmetic: enough to re-expand the node,
// cheap to verify.

func encodeLeaf(key string, value []byte) []byte {
	buf := make([]byte, 0, 5+len(key)+len(value))
	buf = append(buf, prefixLeaf)
	var klen [4]byte
	binary.BigEndian.PutUint32(klen[:], uint32(len(key)))
	buf = append(buf, klen[:]...)
	buf = append(buf, key...)
	buf = append(buf, value...)
	return buf
}

func decodeLeaf(data []byte) (key string, value []byte, err error) {
	if len(data) < 5 || data[0] != prefixLeaf {
		return "", nil, fmt.Errorf("smt: malformed leaf record")
	}
	klen := int(binary.BigEndian.Uint32(data[1:5]))
	if len(data) < 5+klen {
		return "", nil, fmt.Errorf("smt: truncated leaf record")
	}
	return string(data[5 : 5+klen]), data[5+klen:], nil
}

func encodeInternal(left, right Hash, depth uint16) []byte {
	buf := make([]byte, 0, 1+64+2)
	buf = append(buf, prefixInternal)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	var d [2]byte
	binary.BigEndian.PutUint16(d[:], depth)
	buf = append(buf, d[:]...)
	return buf
}

func decodeInternal(data []byte) (left, right Hash, depth uint16, err error) {
	if len(data) != 67 || data[0] != prefixInternal {
		return Hash{}, Hash{}, 0, fmt.Errorf("smt: malformed internal record")
	}
	copy(left[:], data[1:33])
	copy(right[:], data[33:65])
	return left, right, binary.BigEndian.Uint16(data[65:67]), nil
}

func isLeafRecord(data []byte) bool {
	return len(data) > 0 && data[0] == prefixLeaf
}

// MemoryStore is the in-memory NodeStore used by tests and ephemeral domains.
type MemoryStore struct {
	mu    sync.RWMutex
	nodes map[Hash][]byte
}

// NewMemoryStore creates an empty in-memory node store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[Hash][]byte)}
}

// Get implements NodeStore.
func (m *MemoryStore) Get(hash Hash) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.nodes[hash]
	return data, ok, nil
}

// PutBatch implements NodeStore.
func (m *MemoryStore) PutBatch(nodes map[Hash][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for h, data := range nodes {
		m.nodes[h] = data
	}
	return nil
}

// Close implements NodeStore.
func (m *MemoryStore) Close() error { return nil }

// Len returns the number of stored nodes. Used in tests.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

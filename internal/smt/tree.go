package smt

import (
	"fmt"
	"sync"
)

// Op is one put in a batch.
type Op struct {
	Key   string
	Value []byte
}

// Tree is a sparse Merkle tree over a NodeStore. All mutation goes through
// Put/Batch, which never overwrite nodes: a batch builds new nodes along the
// changed paths and flips the root, so every historical root stays readable.
type Tree struct {
	mu    sync.RWMutex
	store NodeStore
	root  Hash
}

// NewTree creates an empty tree over the given store.
func NewTree(store NodeStore) *Tree {
	return &Tree{store: store, root: EmptyRoot()}
}

// LoadTree opens a tree pinned at a previously committed root.
func LoadTree(store NodeStore, root Hash) *Tree {
	return &Tree{store: store, root: root}
}

// Root returns the current root hash.
func (t *Tree) Root() Hash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Get returns the value stored under key, or ok=false if absent.
func (t *Tree) Get(key string) ([]byte, bool, error) {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	return getAt(t.store, nil, root, key)
}

// Put writes a single key and returns the new root. Equivalent to a
// one-element Batch.
func (t *Tree) Put(key string, value []byte) (Hash, error) {
	return t.Batch([]Op{{Key: key, Value: value}})
}

// Batch applies a sequence of puts as a single atomic commit producing one
// new root. Nothing is written to the store and the root is unchanged unless
// every op succeeds.
func (t *Tree) Batch(ops []Op) (Hash, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	staged := make(map[Hash][]byte)
	newRoot := t.root
	var err error
	for _, op := range ops {
		newRoot, err = insert(t.store, staged, newRoot, op.Key, op.Value)
		if err != nil {
			return t.root, err // staged nodes discarded, root unchanged
		}
	}

	if err := t.store.PutBatch(staged); err != nil {
		return t.root, &StorageError{Op: "batch put", Err: err}
	}
	t.root = newRoot
	return newRoot, nil
}

// Snapshot returns an immutable read view pinned at the current root.
func (t *Tree) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Snapshot{store: t.store, root: t.root}
}

// SnapshotAt returns a read view pinned at an arbitrary historical root.
func (t *Tree) SnapshotAt(root Hash) *Snapshot {
	return &Snapshot{store: t.store, root: root}
}

// loadNode reads a node from the staged overlay first, then the store.
func loadNode(store NodeStore, staged map[Hash][]byte, h Hash) ([]byte, bool, error) {
	if staged != nil {
		if data, ok := staged[h]; ok {
			return data, true, nil
		}
	}
	data, ok, err := store.Get(h)
	if err != nil {
		return nil, false, &StorageError{Op: "node get", Err: err}
	}
	return data, ok, nil
}

// insert walks the 256-bit path for key, rebuilding the internal nodes along
// it into staged, and returns the new subtree root. Iterative: descend
// collecting siblings, then fold back up.
func insert(store NodeStore, staged map[Hash][]byte, root Hash, key string, value []byte) (Hash, error) {
	path := keyPath(key)

	// Descend, recording the sibling hash at every level.
	siblings := make([]Hash, treeDepth)
	cur := root
	for d := 0; d < treeDepth; d++ {
		if cur == emptyHashes[d] {
			// Whole subtree empty: all remaining siblings are empty hashes.
			for rest := d; rest < treeDepth; rest++ {
				siblings[rest] = emptyHashes[rest+1]
			}
			cur = emptyHashes[treeDepth]
			break
		}
		data, ok, err := loadNode(store, staged, cur)
		if err != nil {
			return Hash{}, err
		}
		if !ok {
			return Hash{}, fmt.Errorf("%w: %s at depth %d", ErrNodeMissing, cur, d)
		}
		left, right, _, err := decodeInternal(data)
		if err != nil {
			return Hash{}, err
		}
		if pathBit(path, d) == 0 {
			siblings[d] = right
			cur = left
		} else {
			siblings[d] = left
			cur = right
		}
	}

	// cur is now the leaf slot. A non-empty slot must hold the same key;
	// anything else is a SHA-256 path collision.
	if cur != emptyHashes[treeDepth] {
		data, ok, err := loadNode(store, staged, cur)
		if err != nil {
			return Hash{}, err
		}
		if !ok {
			return Hash{}, fmt.Errorf("%w: leaf %s", ErrNodeMissing, cur)
		}
		existingKey, _, err := decodeLeaf(data)
		if err != nil {
			return Hash{}, err
		}
		if existingKey != key {
			return Hash{}, fmt.Errorf("%w: %q vs %q", ErrPathCollision, existingKey, key)
		}
	}

	// New leaf, then fold the path back up.
	leaf := hashLeaf(key, value)
	staged[leaf] = encodeLeaf(key, value)

	cur = leaf
	for d := treeDepth - 1; d >= 0; d-- {
		var left, right Hash
		if pathBit(path, d) == 0 {
			left, right = cur, siblings[d]
		} else {
			left, right = siblings[d], cur
		}
		parent := hashInternal(left, right, uint16(d))
		staged[parent] = encodeInternal(left, right, uint16(d))
		cur = parent
	}
	return cur, nil
}

// getAt reads key under an arbitrary root.
func getAt(store NodeStore, staged map[Hash][]byte, root Hash, key string) ([]byte, bool, error) {
	path := keyPath(key)
	cur := root
	for d := 0; d < treeDepth; d++ {
		if cur == emptyHashes[d] {
			return nil, false, nil
		}
		data, ok, err := loadNode(store, staged, cur)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, fmt.Errorf("%w: %s at depth %d", ErrNodeMissing, cur, d)
		}
		left, right, _, err := decodeInternal(data)
		if err != nil {
			return nil, false, err
		}
		if pathBit(path, d) == 0 {
			cur = left
		} else {
			cur = right
		}
	}
	if cur == emptyHashes[treeDepth] {
		return nil, false, nil
	}
	data, ok, err := loadNode(store, staged, cur)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("%w: leaf %s", ErrNodeMissing, cur)
	}
	leafKey, value, err := decodeLeaf(data)
	if err != nil {
		return nil, false, err
	}
	if leafKey != key {
		return nil, false, nil
	}
	return value, true, nil
}

// Snapshot is an immutable read view pinned at a root. Because nodes are
// content-addressed and never overwritten, every read through a snapshot sees
// exactly the state at that root regardless of later commits.
type Snapshot struct {
	store NodeStore
	root  Hash
}

// Root returns the pinned root.
func (s *Snapshot) Root() Hash { return s.root }

// Get returns the value stored under key at the pinned root.
func (s *Snapshot) Get(key string) ([]byte, bool, error) {
	return getAt(s.store, nil, s.root, key)
}

// Prove generates a membership proof for key at the pinned root.
func (s *Snapshot) Prove(key string) (Proof, error) {
	return proveAt(s.store, s.root, key)
}

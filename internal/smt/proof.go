package smt

import "fmt"

// Proof is a membership proof: the sibling hash at each of the 256 levels on
// the path from root to leaf, top-down. Verification recomputes the leaf hash
// and folds the siblings back up to the claimed root.
type Proof struct {
	Key      string
	Siblings [treeDepth]Hash
}

// Prove generates a membership proof for key at the current root.
func (t *Tree) Prove(key string) (Proof, error) {
	t.mu.RLock()
	root := t.root
	t.mu.RUnlock()
	return proveAt(t.store, root, key)
}

func proveAt(store NodeStore, root Hash, key string) (Proof, error) {
	path := keyPath(key)
	proof := Proof{Key: key}

	cur := root
	for d := 0; d < treeDepth; d++ {
		if cur == emptyHashes[d] {
			// Empty subtree: remaining siblings are the empty chain.
			for rest := d; rest < treeDepth; rest++ {
				proof.Siblings[rest] = emptyHashes[rest+1]
			}
			return proof, nil
		}
		data, ok, err := loadNode(store, nil, cur)
		if err != nil {
			return Proof{}, err
		}
		if !ok {
			return Proof{}, fmt.Errorf("%w: %s at depth %d", ErrNodeMissing, cur, d)
		}
		left, right, _, err := decodeInternal(data)
		if err != nil {
			return Proof{}, err
		}
		if pathBit(path, d) == 0 {
			proof.Siblings[d] = right
			cur = left
		} else {
			proof.Siblings[d] = left
			cur = right
		}
	}
	return proof, nil
}

// Verify checks a membership proof: does key=value hold under root?
// Verification is pure; it needs no store access.
func Verify(root Hash, key string, value []byte, proof Proof) bool {
	if proof.Key != key {
		return false
	}
	path := keyPath(key)
	cur := hashLeaf(key, value)
	for d := treeDepth - 1; d >= 0; d-- {
		if pathBit(path, d) == 0 {
			cur = hashInternal(cur, proof.Siblings[d], uint16(d))
		} else {
			cur = hashInternal(proof.Siblings[d], cur, uint16(d))
		}
	}
	return cur == root
}

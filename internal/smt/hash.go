package smt

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Hash is a 32-byte node or root hash.
type Hash [32]byte

// Hex returns the lowercase hex form.
func (h Hash) Hex() string { return hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// treeDepth is the number of internal levels: one bit of SHA-256(key) per
// level, leaves at depth 256.
const treeDepth = 256

// Node-kind prefixes inside hash preimages. They keep leaf and internal
// hashes in disjoint domains.
const (
	prefixLeaf     = 0x00
	prefixInternal = 0x01
)

// emptySentinel seeds the empty-subtree hash chain.
const emptySentinel = "telic/smt/empty/v1"

// emptyHashes[d] is the hash of a fully empty subtree rooted at depth d.
// emptyHashes[treeDepth] is the sentinel for an empty leaf slot.
var emptyHashes = buildEmptyHashes()

func buildEmptyHashes() [treeDepth + 1]Hash {
	var hs [treeDepth + 1]Hash
	hs[treeDepth] = sha256.Sum256([]byte(emptySentinel))
	for d := treeDepth - 1; d >= 0; d-- {
		hs[d] = hashInternal(hs[d+1], hs[d+1], uint16(d))
	}
	return hs
}

// EmptyRoot returns the root hash of an empty tree.
func EmptyRoot() Hash { return emptyHashes[0] }

// hashLeaf computes H(0x00 ‖ len(key) ‖ key ‖ value). The length prefix
// removes key/value boundary ambiguity.
func hashLeaf(key string, value []byte) Hash {
	h := sha256.New()
	h.Write([]byte{prefixLeaf})
	var klen [4]byte
	binary.BigEndian.PutUint32(klen[:], uint32(len(key)))
	h.Write(klen[:])
	h.Write([]byte(key))
	h.Write(value)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// hashInternal computes H(0x01 ‖ left ‖ right ‖ depth).
func hashInternal(left, right Hash, depth uint16) Hash {
	h := sha256.New()
	h.Write([]byte{prefixInternal})
	h.Write(left[:])
	h.Write(right[:])
	var d [2]byte
	binary.BigEndian.PutUint16(d[:], depth)
	h.Write(d[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// keyPath returns the 256-bit traversal path for a key.
func keyPath(key string) [32]byte {
	return sha256.Sum256([]byte(key))
}

// pathBit returns bit d of the path, MSB first. 0 descends left, 1 right.
func pathBit(path [32]byte, d int) int {
	return int(path[d/8]>>(7-uint(d%8))) & 1
}

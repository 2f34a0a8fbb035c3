package ir

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// EntityID is a 32-byte content hash. All entity identifiers are typed
// wrappers over EntityID so a ResourceID cannot be passed where a HandlerID
// is expected.
type EntityID [32]byte

// Typed identifier kinds. Each is a distinct type sharing the EntityID
// representation; conversion is always explicit.
type (
	ResourceID   EntityID
	EffectID     EntityID
	IntentID     EntityID
	HandlerID    EntityID
	DomainID     EntityID
	NodeID       EntityID
	EdgeID       EntityID
	ExprID       EntityID
	CapabilityID EntityID
	IdentityID   EntityID
	TegID        EntityID
)

// Nullifier is the deterministic hash emitted when a resource is consumed.
// Uniqueness of nullifiers across a domain's history is what enforces
// linearity.
type Nullifier EntityID

// id32 constrains the generic id helpers to the 32-byte identifier types.
type id32 interface {
	~[32]byte
}

// Hex returns the lowercase hex encoding of an identifier.
func Hex[T id32](id T) string {
	b := [32]byte(id)
	return hex.EncodeToString(b[:])
}

// ShortHex returns the first 8 hex characters, for log readability.
func ShortHex[T id32](id T) string {
	return Hex(id)[:8]
}

// IsZero reports whether the identifier is the all-zero value, which is the
// "absent" sentinel for optional references.
func IsZero[T id32](id T) bool {
	b := [32]byte(id)
	return b == [32]byte{}
}

// Compare orders two identifiers bytewise. Used wherever the data model
// requires a total order over ids (handler dispatch, canonical edge sort).
func Compare[T id32](a, b T) int {
	ab, bb := [32]byte(a), [32]byte(b)
	return bytes.Compare(ab[:], bb[:])
}

// ParseID decodes a 64-character hex string into an identifier.
func ParseID[T id32](s string) (T, error) {
	var id T
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse id: %w", err)
	}
	if len(raw) != 32 {
		return id, fmt.Errorf("parse id: expected 32 bytes, got %d", len(raw))
	}
	var b [32]byte
	copy(b[:], raw)
	return T(b), nil
}

// String implements fmt.Stringer with the full hex form.
func (id EntityID) String() string { return Hex(id) }

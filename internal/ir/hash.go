package ir

import (
	"crypto/sha256"
	"fmt"
)

// Domain-separation tags for content-addressed identity. The version suffix
// allows a future hash-algorithm migration without id collisions.
const (
	TagResource   = "telic/resource/v1"
	TagCapability = "telic/capability/v1"
	TagEffect     = "telic/effect/v1"
	TagIntent     = "telic/intent/v1"
	TagHandler    = "telic/handler/v1"
	TagDomain     = "telic/domain/v1"
	TagExpr       = "telic/expr/v1"
	TagEdge       = "telic/edge/v1"
	TagTeg        = "telic/teg/v1"
	TagNullifier  = "telic/nullifier/v1"
	TagIdentity   = "telic/identity/v1"
	TagBlob       = "telic/blob/v1"
)

// HashWithTag computes SHA-256 with domain separation:
// SHA256(tag ‖ 0x00 ‖ data). The null byte prevents tag/data boundary
// ambiguity.
func HashWithTag(tag string, data []byte) EntityID {
	h := sha256.New()
	h.Write([]byte(tag))
	h.Write([]byte{0x00})
	h.Write(data)
	var id EntityID
	copy(id[:], h.Sum(nil))
	return id
}

// hashObject canonicalizes obj and hashes it under tag.
func hashObject(tag string, obj Obj) (EntityID, error) {
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return EntityID{}, fmt.Errorf("%s: marshal: %w", tag, err)
	}
	return HashWithTag(tag, canonical), nil
}

// NewIdentityID derives an identity id from an external principal name.
// Identities are issued outside the core; the runtime only needs a stable,
// collision-resistant handle for them.
func NewIdentityID(name string) IdentityID {
	return IdentityID(HashWithTag(TagIdentity, []byte(name)))
}

// ComputeNullifier derives the nullifier emitted when a resource is consumed:
// H(resourceID ‖ authorizing capability id ‖ domain state root). The state
// root binds the nullifier to the history it was emitted under.
func ComputeNullifier(res ResourceID, authz CapabilityID, stateRoot EntityID) Nullifier {
	buf := make([]byte, 0, 96)
	buf = append(buf, res[:]...)
	buf = append(buf, authz[:]...)
	buf = append(buf, stateRoot[:]...)
	return Nullifier(HashWithTag(TagNullifier, buf))
}

package smt

import (
	"fmt"

	"github.com/telic-run/telic/internal/ir"
)

// Deterministic key layout for all persisted entity kinds. Keys are strings
// by construction; the value under a key is the canonical bytes of the
// entity.

// EffectKey is the SMT key for an effect node.
func EffectKey(id ir.EffectID) string {
	return "teg-effect-" + ir.Hex(id)
}

// ResourceKey is the SMT key for a resource node.
func ResourceKey(id ir.ResourceID) string {
	return "teg-resource-" + ir.Hex(id)
}

// IntentKey is the SMT key for an intent node.
func IntentKey(id ir.IntentID) string {
	return "teg-intent-" + ir.Hex(id)
}

// HandlerKey is the SMT key for a handler node.
func HandlerKey(id ir.HandlerID) string {
	return "teg-handler-" + ir.Hex(id)
}

// ExprKey is the SMT key for a pure expression body.
func ExprKey(id ir.ExprID) string {
	return "teg-expr-" + ir.Hex(id)
}

// GraphKey is the SMT key for a committed TEG's canonical encoding.
func GraphKey(id ir.TegID) string {
	return "teg-graph-" + ir.Hex(id)
}

// CapabilityKey is the SMT key for a capability record.
func CapabilityKey(id ir.CapabilityID) string {
	return "teg-capability-" + ir.Hex(id)
}

// NullifierKey is the SMT key recording a consumed resource's nullifier.
func NullifierKey(n ir.Nullifier) string {
	return "nullifier-" + ir.Hex(n)
}

// CrossDomainKey is the namespaced key for a reference into another domain.
func CrossDomainKey(target ir.DomainID, id ir.EntityID) string {
	return fmt.Sprintf("cross-domain-%s-%s", ir.Hex(target), ir.Hex(id))
}

package resource

import (
	"fmt"

	"github.com/telic-run/telic/internal/ir"
)

// Forest is the capability forest for one domain, indexed by capability id.
// Every non-root capability records its parent; revocation marks a single
// node and is interpreted transitively by walking toward the root.
//
// Not safe for concurrent use; the Registry's mutex serializes access.
type Forest struct {
	caps     map[ir.CapabilityID]ir.Capability
	children map[ir.CapabilityID][]ir.CapabilityID
	revoked  map[ir.CapabilityID]bool
}

// NewForest creates an empty forest.
func NewForest() *Forest {
	return &Forest{
		caps:     make(map[ir.CapabilityID]ir.Capability),
		children: make(map[ir.CapabilityID][]ir.CapabilityID),
		revoked:  make(map[ir.CapabilityID]bool),
	}
}

// Issue inserts a capability. Non-root capabilities must name an existing
// parent and carry a subset of the parent's grants.
func (f *Forest) Issue(c ir.Capability) error {
	if _, dup := f.caps[c.ID]; dup {
		return fmt.Errorf("issue capability: duplicate id %s", ir.ShortHex(c.ID))
	}
	if !ir.IsZero(c.Parent) {
		parent, ok := f.caps[c.Parent]
		if !ok {
			return fmt.Errorf("issue capability: unknown parent %s", ir.ShortHex(c.Parent))
		}
		if !c.Grants.Subset(parent.Grants) {
			return fmt.Errorf("issue capability: grants exceed parent")
		}
		f.children[c.Parent] = append(f.children[c.Parent], c.ID)
	}
	f.caps[c.ID] = c
	return nil
}

// Get returns a capability by id.
func (f *Forest) Get(id ir.CapabilityID) (ir.Capability, bool) {
	c, ok := f.caps[id]
	return c, ok
}

// IsRevoked reports whether the capability or any ancestor is revoked.
// Unknown ids are treated as revoked.
func (f *Forest) IsRevoked(id ir.CapabilityID) bool {
	for !ir.IsZero(id) {
		if f.revoked[id] {
			return true
		}
		c, ok := f.caps[id]
		if !ok {
			return true
		}
		id = c.Parent
	}
	return false
}

// Revoke marks a capability revoked. Descendants become revoked implicitly
// through the ancestor walk in IsRevoked, which makes revocation atomic over
// the whole subtree.
func (f *Forest) Revoke(id ir.CapabilityID) {
	f.revoked[id] = true
}

// IsAncestor reports whether anc is on the parent chain of id, or equal to
// it.
func (f *Forest) IsAncestor(anc, id ir.CapabilityID) bool {
	for !ir.IsZero(id) {
		if id == anc {
			return true
		}
		c, ok := f.caps[id]
		if !ok {
			return false
		}
		id = c.Parent
	}
	return false
}

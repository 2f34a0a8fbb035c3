package eff

import (
	"fmt"
	"sort"
	"sync"

	"github.com/telic-run/telic/internal/ir"
)

// Authorizer validates that a capability still carries the needed grants.
// A resource registry satisfies it directly.
type Authorizer interface {
	Authorize(capID ir.CapabilityID, need ir.Grants) error
}

// HandlerRegistry is a domain's table of registered handlers. Dispatch for
// an effect type is deterministic: candidates are ordered by priority
// descending, then id ascending; revoked handlers and handlers whose
// registering capability no longer authorizes are skipped.
type HandlerRegistry struct {
	authz   Authorizer
	mu      sync.RWMutex
	byType  map[string][]registered
	byID    map[ir.HandlerID]registered
	revoked map[ir.HandlerID]bool
}

type registered struct {
	handler   ir.Handler
	transform Transformer
	auth      ir.CapabilityID
}

// RegistryOption configures a handler registry.
type RegistryOption func(*HandlerRegistry)

// WithDispatchAuthorizer makes dispatch re-check each handler's registering
// capability for the delegate grant, so revoking that capability takes the
// handler out of rotation without touching the table.
func WithDispatchAuthorizer(a Authorizer) RegistryOption {
	return func(r *HandlerRegistry) { r.authz = a }
}

// NewHandlerRegistry creates an empty registry. Without an authorizer,
// dispatch trusts the table as registered.
func NewHandlerRegistry(opts ...RegistryOption) *HandlerRegistry {
	r := &HandlerRegistry{
		byType:  make(map[string][]registered),
		byID:    make(map[ir.HandlerID]registered),
		revoked: make(map[ir.HandlerID]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a handler with its transformation under the capability that
// authorized the registration. The handler must carry its content id and
// its declared type must match the transformer's.
func (r *HandlerRegistry) Register(h ir.Handler, t Transformer, auth ir.CapabilityID) error {
	if ir.IsZero(h.ID) {
		return fmt.Errorf("register handler: missing id")
	}
	if h.HandlesType != t.HandlesType() {
		return fmt.Errorf("register handler: handler declares %q, transformer handles %q",
			h.HandlesType, t.HandlesType())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[h.ID]; dup {
		return fmt.Errorf("register handler: duplicate id %s", ir.ShortHex(h.ID))
	}
	entry := registered{handler: h, transform: t, auth: auth}
	r.byID[h.ID] = entry

	entries := append(r.byType[h.HandlesType], entry)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].handler.Priority != entries[j].handler.Priority {
			return entries[i].handler.Priority > entries[j].handler.Priority
		}
		return ir.Compare(entries[i].handler.ID, entries[j].handler.ID) < 0
	})
	r.byType[h.HandlesType] = entries
	return nil
}

// Revoke marks a handler revoked; it is skipped by all later dispatch.
func (r *HandlerRegistry) Revoke(id ir.HandlerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[id] = true
}

// Resolve returns the winning transformer for an effect type: the first
// candidate in (priority desc, id asc) order that is not revoked and whose
// registering capability still holds the delegate grant.
func (r *HandlerRegistry) Resolve(effectType string) (Transformer, ir.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.byType[effectType] {
		if r.revoked[e.handler.ID] {
			continue
		}
		if r.authz != nil {
			if err := r.authz.Authorize(e.auth, ir.NewGrants(ir.GrantDelegate)); err != nil {
				continue
			}
		}
		return e.transform, e.handler, true
	}
	return nil, ir.Handler{}, false
}

// Handlers returns all registered handlers sorted by id, revoked included.
func (r *HandlerRegistry) Handlers() []ir.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ir.Handler, 0, len(r.byID))
	for _, e := range r.byID {
		out = append(out, e.handler)
	}
	sort.Slice(out, func(i, j int) bool {
		return ir.Compare(out[i].ID, out[j].ID) < 0
	})
	return out
}

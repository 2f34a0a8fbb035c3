package resource

import (
	"log/slog"
	"sync"

	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/smt"
)

// LogicalClock stamps registry events with a strictly increasing sequence
// number.
type LogicalClock interface {
	Next() int64
	Current() int64
}

// Registry owns the linear-resource state of one domain: the resource table
// with lifecycle states, the capability forest, and the domain's SMT. The
// lifecycle state lives here rather than on the entity because identity is
// content-addressed and must not change as a resource moves from Live to
// Consumed.
//
// Thread-safety: all methods are safe for concurrent use. Commits serialize
// on the internal mutex, which is what makes the per-domain single-writer
// guarantee hold.
type Registry struct {
	mu     sync.Mutex
	log    *slog.Logger
	clock  LogicalClock
	tree   *smt.Tree
	domain ir.DomainID

	resources map[ir.ResourceID]ir.Resource
	states    map[ir.ResourceID]ir.Lifecycle
	forest    *Forest

	halted    bool
	haltCause error
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) { r.log = log }
}

// NewRegistry creates a registry over the domain's SMT.
func NewRegistry(domain ir.DomainID, tree *smt.Tree, clock LogicalClock, opts ...Option) *Registry {
	r := &Registry{
		log:       slog.Default(),
		clock:     clock,
		tree:      tree,
		domain:    domain,
		resources: make(map[ir.ResourceID]ir.Resource),
		states:    make(map[ir.ResourceID]ir.Lifecycle),
		forest:    NewForest(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Tree returns the domain's SMT.
func (r *Registry) Tree() *smt.Tree { return r.tree }

// Domain returns the owning domain id.
func (r *Registry) Domain() ir.DomainID { return r.domain }

// Halted reports whether the domain has halted on a fatal error, and the
// cause.
func (r *Registry) Halted() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.halted, r.haltCause
}

// halt flags the domain as unusable. Caller holds the mutex.
func (r *Registry) halt(cause *Error) *Error {
	r.halted = true
	r.haltCause = cause
	r.log.Error("domain halted",
		"domain", ir.ShortHex(r.domain),
		"code", string(cause.Code),
		"err", cause.Message)
	return cause
}

// haltedErr returns the refusal error if the domain is halted. Caller holds
// the mutex.
func (r *Registry) haltedErr() *Error {
	if !r.halted {
		return nil
	}
	return &Error{Code: CodeHalted, Message: "domain halted on fatal error", Err: r.haltCause}
}

// Register creates a Live resource and issues its root capability (all
// grants) to the owner. Both records are written to the SMT in one batch.
func (r *Registry) Register(name, resourceType string, quantity uint64, owner ir.IdentityID) (ir.Resource, ir.Capability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.haltedErr(); err != nil {
		return ir.Resource{}, ir.Capability{}, err
	}

	res := ir.Resource{
		Name:         name,
		DomainID:     r.domain,
		ResourceType: resourceType,
		Quantity:     quantity,
		Owner:        owner,
		Timestamp:    r.clock.Next(),
	}
	id, err := ir.ComputeResourceID(res)
	if err != nil {
		return ir.Resource{}, ir.Capability{}, &Error{Code: CodeStorageIo, Message: "encode resource", Err: err}
	}
	res.ID = id

	cap := ir.Capability{
		Grants:     ir.GrantsAll,
		Subject:    owner,
		ResourceID: id,
		DomainID:   r.domain,
		Timestamp:  r.clock.Next(),
	}
	capID, err := ir.ComputeCapabilityID(cap)
	if err != nil {
		return ir.Resource{}, ir.Capability{}, &Error{Code: CodeStorageIo, Message: "encode capability", Err: err}
	}
	cap.ID = capID

	resBytes, err := ir.EncodeResource(res)
	if err != nil {
		return ir.Resource{}, ir.Capability{}, &Error{Code: CodeStorageIo, Message: "encode resource", Err: err}
	}
	capBytes, err := ir.EncodeCapability(cap)
	if err != nil {
		return ir.Resource{}, ir.Capability{}, &Error{Code: CodeStorageIo, Message: "encode capability", Err: err}
	}
	if _, err := r.tree.Batch([]smt.Op{
		{Key: smt.ResourceKey(id), Value: resBytes},
		{Key: smt.CapabilityKey(capID), Value: capBytes},
	}); err != nil {
		return ir.Resource{}, ir.Capability{}, r.halt(&Error{Code: CodeStorageIo, Message: "write resource", Resource: id, Err: err})
	}

	r.resources[id] = res
	r.states[id] = ir.Live
	if err := r.forest.Issue(cap); err != nil {
		return ir.Resource{}, ir.Capability{}, &Error{Code: CodeAccessDenied, Message: err.Error(), Capability: capID}
	}

	r.log.Debug("resource registered",
		"domain", ir.ShortHex(r.domain),
		"resource", ir.ShortHex(id),
		"type", resourceType,
		"quantity", quantity)
	return res, cap, nil
}

// IssueClass mints a root class capability, one with no resource binding,
// for an identity and records it in the SMT. Class capabilities
// authenticate ingress operations and seed delegation chains for domain
// administration.
func (r *Registry) IssueClass(subject ir.IdentityID, grants ir.Grants) (ir.Capability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.haltedErr(); err != nil {
		return ir.Capability{}, err
	}

	cap := ir.Capability{
		Grants:    grants,
		Subject:   subject,
		DomainID:  r.domain,
		Timestamp: r.clock.Next(),
	}
	capID, err := ir.ComputeCapabilityID(cap)
	if err != nil {
		return ir.Capability{}, &Error{Code: CodeStorageIo, Message: "encode capability", Err: err}
	}
	cap.ID = capID

	capBytes, err := ir.EncodeCapability(cap)
	if err != nil {
		return ir.Capability{}, &Error{Code: CodeStorageIo, Message: "encode capability", Err: err}
	}
	if _, err := r.tree.Put(smt.CapabilityKey(capID), capBytes); err != nil {
		return ir.Capability{}, r.halt(&Error{Code: CodeStorageIo, Message: "write capability", Capability: capID, Err: err})
	}
	if err := r.forest.Issue(cap); err != nil {
		return ir.Capability{}, &Error{Code: CodeAccessDenied, Message: err.Error(), Capability: capID}
	}

	r.log.Debug("class capability issued",
		"domain", ir.ShortHex(r.domain),
		"capability", ir.ShortHex(capID),
		"subject", ir.ShortHex(subject))
	return cap, nil
}

// Authorize checks that a capability exists, is unrevoked, and carries
// every needed grant. No resource lifecycle is touched; ingress ports use
// this to authenticate callers before any work is queued.
func (r *Registry) Authorize(capID ir.CapabilityID, need ir.Grants) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cap, ok := r.forest.Get(capID)
	if !ok {
		return &Error{Code: CodeAccessDenied, Message: "unknown capability", Capability: capID}
	}
	if r.forest.IsRevoked(capID) {
		return &Error{Code: CodeRevoked, Message: "capability revoked", Capability: capID}
	}
	if !need.Subset(cap.Grants) {
		return &Error{Code: CodeAccessDenied, Message: "capability lacks required grants", Capability: capID}
	}
	return nil
}

// Get returns a resource and its lifecycle state.
func (r *Registry) Get(id ir.ResourceID) (ir.Resource, ir.Lifecycle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.resources[id]
	if !ok {
		return ir.Resource{}, 0, false
	}
	return res, r.states[id], true
}

// Capability returns a capability from the forest.
func (r *Registry) Capability(id ir.CapabilityID) (ir.Capability, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forest.Get(id)
}

// Guard is an exclusive hold on a Live resource, acquired through Access.
// The holder must call Release on every path that does not consume the
// resource; Release after consumption is a no-op.
type Guard struct {
	reg      *Registry
	resource ir.ResourceID
	cap      ir.CapabilityID
	done     bool
}

// ResourceID returns the guarded resource.
func (g *Guard) ResourceID() ir.ResourceID { return g.resource }

// CapabilityID returns the authorizing capability.
func (g *Guard) CapabilityID() ir.CapabilityID { return g.cap }

// Release returns the resource to Live if it was not consumed. Idempotent.
func (g *Guard) Release() {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()
	g.releaseLocked()
}

// releaseLocked is Release with the registry mutex already held.
func (g *Guard) releaseLocked() {
	if g.done {
		return
	}
	g.done = true
	if g.reg.states[g.resource] == ir.Locked {
		g.reg.states[g.resource] = ir.Live
	}
}

// markConsumed finalizes the guard after a phase-3 commit. Caller holds the
// registry mutex.
func (g *Guard) markConsumed() {
	g.done = true
	g.reg.states[g.resource] = ir.Consumed
}

// Access acquires an exclusive guard on a Live resource. The capability must
// apply to the resource, carry every requested grant, and be unrevoked along
// its whole ancestor chain.
func (r *Registry) Access(resID ir.ResourceID, capID ir.CapabilityID, need ir.Grants) (*Guard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.haltedErr(); err != nil {
		return nil, err
	}
	return r.accessLocked(resID, capID, need)
}

func (r *Registry) accessLocked(resID ir.ResourceID, capID ir.CapabilityID, need ir.Grants) (*Guard, error) {
	cap, ok := r.forest.Get(capID)
	if !ok {
		return nil, &Error{Code: CodeAccessDenied, Message: "unknown capability", Resource: resID, Capability: capID}
	}
	if r.forest.IsRevoked(capID) {
		return nil, &Error{Code: CodeRevoked, Message: "capability revoked", Resource: resID, Capability: capID}
	}
	if !ir.IsZero(cap.ResourceID) && cap.ResourceID != resID {
		return nil, &Error{Code: CodeAccessDenied, Message: "capability bound to another resource", Resource: resID, Capability: capID}
	}
	if !ir.IsZero(cap.ContentHash) && cap.ContentHash != ir.EntityID(resID) {
		return nil, &Error{Code: CodeAccessDenied, Message: "content hash constraint not met", Resource: resID, Capability: capID}
	}
	if !need.Subset(cap.Grants) {
		return nil, &Error{Code: CodeAccessDenied, Message: "capability lacks required grants", Resource: resID, Capability: capID}
	}

	state, known := r.states[resID]
	switch {
	case !known:
		return nil, &Error{Code: CodeNotFound, Message: "unknown resource", Resource: resID}
	case state == ir.Consumed:
		return nil, &Error{Code: CodeNotFound, Message: "resource consumed", Resource: resID}
	case state == ir.Locked:
		return nil, &Error{Code: CodeResourceLocked, Message: "resource held by another guard", Resource: resID}
	}

	r.states[resID] = ir.Locked
	return &Guard{reg: r, resource: resID, cap: capID}, nil
}

// Delegate issues a child capability whose grants are a subset of the
// parent's. Presenting the parent id is the authorization.
func (r *Registry) Delegate(parentID ir.CapabilityID, subject ir.IdentityID, grants ir.Grants) (ir.Capability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.haltedErr(); err != nil {
		return ir.Capability{}, err
	}

	parent, ok := r.forest.Get(parentID)
	if !ok {
		return ir.Capability{}, &Error{Code: CodeAccessDenied, Message: "unknown capability", Capability: parentID}
	}
	if r.forest.IsRevoked(parentID) {
		return ir.Capability{}, &Error{Code: CodeRevoked, Message: "capability revoked", Capability: parentID}
	}
	if !parent.Grants.Has(ir.GrantDelegate) {
		return ir.Capability{}, &Error{Code: CodeAccessDenied, Message: "capability lacks delegate grant", Capability: parentID}
	}
	if !grants.Subset(parent.Grants) {
		return ir.Capability{}, &Error{Code: CodeAccessDenied, Message: "delegated grants exceed parent", Capability: parentID}
	}

	child := ir.Capability{
		Grants:     grants,
		Subject:    subject,
		ResourceID: parent.ResourceID,
		Parent:     parentID,
		DomainID:   r.domain,
		Timestamp:  r.clock.Next(),
	}
	id, err := ir.ComputeCapabilityID(child)
	if err != nil {
		return ir.Capability{}, &Error{Code: CodeStorageIo, Message: "encode capability", Err: err}
	}
	child.ID = id

	capBytes, err := ir.EncodeCapability(child)
	if err != nil {
		return ir.Capability{}, &Error{Code: CodeStorageIo, Message: "encode capability", Err: err}
	}
	if _, err := r.tree.Batch([]smt.Op{{Key: smt.CapabilityKey(id), Value: capBytes}}); err != nil {
		return ir.Capability{}, r.halt(&Error{Code: CodeStorageIo, Message: "write capability", Capability: id, Err: err})
	}
	if err := r.forest.Issue(child); err != nil {
		return ir.Capability{}, &Error{Code: CodeAccessDenied, Message: err.Error(), Capability: id}
	}

	r.log.Debug("capability delegated",
		"domain", ir.ShortHex(r.domain),
		"parent", ir.ShortHex(parentID),
		"child", ir.ShortHex(id),
		"grants", child.Grants.Names())
	return child, nil
}

// Revoke revokes target and, transitively, every capability delegated from
// it. The revoker must hold an unrevoked ancestor of target (or target
// itself) carrying the revoke grant.
func (r *Registry) Revoke(target, by ir.CapabilityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.haltedErr(); err != nil {
		return err
	}

	revoker, ok := r.forest.Get(by)
	if !ok {
		return &Error{Code: CodeAccessDenied, Message: "unknown capability", Capability: by}
	}
	if r.forest.IsRevoked(by) {
		return &Error{Code: CodeRevoked, Message: "revoking capability is itself revoked", Capability: by}
	}
	if !revoker.Grants.Has(ir.GrantRevoke) {
		return &Error{Code: CodeAccessDenied, Message: "capability lacks revoke grant", Capability: by}
	}
	if _, ok := r.forest.Get(target); !ok {
		return &Error{Code: CodeAccessDenied, Message: "unknown capability", Capability: target}
	}
	if !r.forest.IsAncestor(by, target) {
		return &Error{Code: CodeAccessDenied, Message: "revoker is not an ancestor", Capability: target}
	}

	r.forest.Revoke(target)
	r.log.Info("capability revoked",
		"domain", ir.ShortHex(r.domain),
		"capability", ir.ShortHex(target),
		"by", ir.ShortHex(by))
	return nil
}

// Consume consumes a resource, emitting its nullifier. The capability must
// carry the execute and lock grants. Terminal: no operation can revive the
// resource.
func (r *Registry) Consume(resID ir.ResourceID, capID ir.CapabilityID) (ir.Nullifier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.haltedErr(); err != nil {
		return ir.Nullifier{}, err
	}

	guard, err := r.accessLocked(resID, capID, ir.NewGrants(ir.GrantExecute, ir.GrantLock))
	if err != nil {
		return ir.Nullifier{}, err
	}

	ops, null, cerr := r.consumeOps(guard)
	if cerr != nil {
		guard.releaseLocked()
		return ir.Nullifier{}, cerr
	}
	if _, err := r.tree.Batch(ops); err != nil {
		return ir.Nullifier{}, r.halt(&Error{Code: CodeStorageIo, Message: "write nullifier", Resource: resID, Err: err})
	}
	guard.markConsumed()

	r.log.Debug("resource consumed",
		"domain", ir.ShortHex(r.domain),
		"resource", ir.ShortHex(resID),
		"nullifier", ir.ShortHex(null))
	return null, nil
}

// consumeOps computes the nullifier for a guarded resource against the
// current root and returns the SMT ops recording it. A pre-existing
// nullifier under the same key is a linearity break and halts the domain.
// Caller holds the mutex.
func (r *Registry) consumeOps(g *Guard) ([]smt.Op, ir.Nullifier, *Error) {
	root := r.tree.Root()
	null := ir.ComputeNullifier(g.resource, g.cap, ir.EntityID(root))
	key := smt.NullifierKey(null)

	_, exists, err := r.tree.Get(key)
	if err != nil {
		return nil, ir.Nullifier{}, r.halt(&Error{Code: CodeStorageIo, Message: "read nullifier", Resource: g.resource, Err: err})
	}
	if exists {
		return nil, ir.Nullifier{}, r.halt(&Error{Code: CodeNullifierCollision, Message: "nullifier already recorded", Resource: g.resource, Capability: g.cap})
	}

	record, merr := ir.MarshalCanonical(ir.Obj{
		"resource":   ir.Str(ir.Hex(g.resource)),
		"capability": ir.Str(ir.Hex(g.cap)),
		"step":       ir.Int(r.clock.Next()),
	})
	if merr != nil {
		return nil, ir.Nullifier{}, &Error{Code: CodeStorageIo, Message: "encode nullifier record", Err: merr}
	}
	return []smt.Op{{Key: key, Value: record}}, null, nil
}

// Transfer consumes a resource and mints an identical successor owned by
// newOwner, atomically in one SMT batch. The old nullifier and the new
// resource land under the same root, so the transfer is all-or-nothing.
func (r *Registry) Transfer(resID ir.ResourceID, capID ir.CapabilityID, newOwner ir.IdentityID) (ir.Resource, ir.Capability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.haltedErr(); err != nil {
		return ir.Resource{}, ir.Capability{}, err
	}

	guard, err := r.accessLocked(resID, capID, ir.NewGrants(ir.GrantWrite, ir.GrantTransfer))
	if err != nil {
		return ir.Resource{}, ir.Capability{}, err
	}
	old := r.resources[resID]

	ops, null, cerr := r.consumeOps(guard)
	if cerr != nil {
		guard.releaseLocked()
		return ir.Resource{}, ir.Capability{}, cerr
	}

	succ, succCap, mops, merr := r.mintOps(old.Name, old.ResourceType, old.Quantity, newOwner)
	if merr != nil {
		guard.releaseLocked()
		return ir.Resource{}, ir.Capability{}, merr
	}
	ops = append(ops, mops...)

	if _, err := r.tree.Batch(ops); err != nil {
		return ir.Resource{}, ir.Capability{}, r.halt(&Error{Code: CodeStorageIo, Message: "write transfer", Resource: resID, Err: err})
	}
	guard.markConsumed()
	r.adoptMinted(succ, succCap)

	r.log.Debug("resource transferred",
		"domain", ir.ShortHex(r.domain),
		"from", ir.ShortHex(resID),
		"to", ir.ShortHex(succ.ID),
		"nullifier", ir.ShortHex(null))
	return succ, succCap, nil
}

// mintOps builds a new resource plus its root capability and the SMT ops
// persisting both. Registry state is not touched; adoptMinted applies it
// after the batch lands. Caller holds the mutex.
func (r *Registry) mintOps(name, resourceType string, quantity uint64, owner ir.IdentityID) (ir.Resource, ir.Capability, []smt.Op, *Error) {
	res := ir.Resource{
		Name:         name,
		DomainID:     r.domain,
		ResourceType: resourceType,
		Quantity:     quantity,
		Owner:        owner,
		Timestamp:    r.clock.Next(),
	}
	id, err := ir.ComputeResourceID(res)
	if err != nil {
		return ir.Resource{}, ir.Capability{}, nil, &Error{Code: CodeStorageIo, Message: "encode resource", Err: err}
	}
	res.ID = id

	cap := ir.Capability{
		Grants:     ir.GrantsAll,
		Subject:    owner,
		ResourceID: id,
		DomainID:   r.domain,
		Timestamp:  r.clock.Next(),
	}
	capID, err := ir.ComputeCapabilityID(cap)
	if err != nil {
		return ir.Resource{}, ir.Capability{}, nil, &Error{Code: CodeStorageIo, Message: "encode capability", Err: err}
	}
	cap.ID = capID

	resBytes, err := ir.EncodeResource(res)
	if err != nil {
		return ir.Resource{}, ir.Capability{}, nil, &Error{Code: CodeStorageIo, Message: "encode resource", Err: err}
	}
	capBytes, err := ir.EncodeCapability(cap)
	if err != nil {
		return ir.Resource{}, ir.Capability{}, nil, &Error{Code: CodeStorageIo, Message: "encode capability", Err: err}
	}
	ops := []smt.Op{
		{Key: smt.ResourceKey(id), Value: resBytes},
		{Key: smt.CapabilityKey(capID), Value: capBytes},
	}
	return res, cap, ops, nil
}

// adoptMinted records a freshly minted resource as Live and issues its root
// capability into the forest. Caller holds the mutex.
func (r *Registry) adoptMinted(res ir.Resource, cap ir.Capability) {
	r.resources[res.ID] = res
	r.states[res.ID] = ir.Live
	// Root capability of a fresh id cannot collide or exceed a parent.
	_ = r.forest.Issue(cap)
}

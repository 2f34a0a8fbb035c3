package resource

import (
	"fmt"
	"sort"

	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/smt"
)

// Binding pairs an effect input with the concrete resource satisfying it and
// the capability authorizing its consumption.
type Binding struct {
	Resource   ir.ResourceID
	Capability ir.CapabilityID
}

// EffectCommit is one effect of a commit batch with its input bindings and
// the identity that owns whatever the effect mints.
type EffectCommit struct {
	Effect    ir.Effect
	Inputs    []Binding
	MintOwner ir.IdentityID
}

// CommitResult reports what one committed effect changed.
type CommitResult struct {
	// Nullifiers were emitted for the consumed inputs, in binding order.
	Nullifiers []ir.Nullifier

	// Minted holds the Live resources created for the effect's non-burn
	// outputs, with their root capabilities.
	Minted []Minted
}

// Minted is one freshly created output resource.
type Minted struct {
	Resource   ir.Resource
	Capability ir.Capability
}

// BatchResult reports a whole committed batch: one new root covering every
// effect.
type BatchResult struct {
	Root    smt.Hash
	Results []CommitResult
}

// CommitEffect commits a single effect. Equivalent to a one-element
// CommitEffectBatch.
func (r *Registry) CommitEffect(e ir.Effect, inputs []Binding, mintOwner ir.IdentityID) (CommitResult, smt.Hash, error) {
	batch, err := r.CommitEffectBatch([]EffectCommit{{Effect: e, Inputs: inputs, MintOwner: mintOwner}})
	if err != nil {
		return CommitResult{}, smt.Hash{}, err
	}
	return batch.Results[0], batch.Root, nil
}

// CommitEffectBatch applies a batch of effects in three phases:
//
//  1. Lock every input resource of every effect, in resource-id order. Any
//     failure releases the locks already taken and returns a recoverable
//     error. A resource bound by two effects of the batch fails here: the
//     second lock cannot be acquired.
//  2. Check conservation per effect: flows must balance per resource type
//     and the bound resources must cover the declared input flows exactly.
//     Failure releases all locks.
//  3. Commit: write every effect record, one nullifier per consumed input
//     and every minted output in a single SMT batch producing one root,
//     then flip the lifecycle states. A storage failure here halts the
//     domain.
//
// Locked → Live rollback happens only on failure before phase 3, so partial
// batches are never observable.
func (r *Registry) CommitEffectBatch(commits []EffectCommit) (BatchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.haltedErr(); err != nil {
		return BatchResult{}, err
	}

	// Phase 1: lock all inputs in global id order so concurrent commits
	// cannot deadlock and replay acquires identically.
	type slot struct {
		binding Binding
		commit  int
	}
	var slots []slot
	for ci, c := range commits {
		for _, b := range c.Inputs {
			slots = append(slots, slot{binding: b, commit: ci})
		}
	}
	sort.Slice(slots, func(i, j int) bool {
		return ir.Compare(slots[i].binding.Resource, slots[j].binding.Resource) < 0
	})

	var guards []*Guard
	perCommit := make([][]*Guard, len(commits))
	releaseAll := func() {
		for _, g := range guards {
			g.releaseLocked()
		}
	}
	for _, s := range slots {
		g, err := r.accessLocked(s.binding.Resource, s.binding.Capability, ir.NewGrants(ir.GrantExecute, ir.GrantLock))
		if err != nil {
			releaseAll()
			return BatchResult{}, err
		}
		guards = append(guards, g)
		perCommit[s.commit] = append(perCommit[s.commit], g)
	}

	// Phase 2: conservation, per effect.
	for ci, c := range commits {
		if err := r.checkConservation(c.Effect, perCommit[ci]); err != nil {
			releaseAll()
			return BatchResult{}, err
		}
	}

	// Phase 3: build one batch for the whole commit, write it, flip
	// states.
	var ops []smt.Op
	results := make([]CommitResult, len(commits))
	var allMinted []Minted
	for ci, c := range commits {
		effBytes, err := ir.EncodeEffect(c.Effect)
		if err != nil {
			releaseAll()
			return BatchResult{}, &Error{Code: CodeStorageIo, Message: "encode effect", Err: err}
		}
		ops = append(ops, smt.Op{Key: smt.EffectKey(c.Effect.ID), Value: effBytes})

		for _, g := range perCommit[ci] {
			nops, null, cerr := r.consumeOps(g)
			if cerr != nil {
				if !cerr.Fatal() {
					releaseAll()
				}
				return BatchResult{}, cerr
			}
			ops = append(ops, nops...)
			results[ci].Nullifiers = append(results[ci].Nullifiers, null)
		}

		for oi, out := range c.Effect.Outputs {
			if out.Burn {
				continue
			}
			name := fmt.Sprintf("%s/out/%d", c.Effect.Name, oi)
			res, mcap, mops, merr := r.mintOps(name, out.ResourceType, out.Quantity, c.MintOwner)
			if merr != nil {
				releaseAll()
				return BatchResult{}, merr
			}
			ops = append(ops, mops...)
			m := Minted{Resource: res, Capability: mcap}
			results[ci].Minted = append(results[ci].Minted, m)
			allMinted = append(allMinted, m)
		}
	}

	root, err := r.tree.Batch(ops)
	if err != nil {
		return BatchResult{}, r.halt(&Error{Code: CodeStorageIo, Message: "write effect commit", Err: err})
	}
	for _, g := range guards {
		g.markConsumed()
	}
	for _, m := range allMinted {
		r.adoptMinted(m.Resource, m.Capability)
	}

	r.log.Info("effect batch committed",
		"domain", ir.ShortHex(r.domain),
		"effects", len(commits),
		"consumed", len(guards),
		"minted", len(allMinted),
		"root", root)
	return BatchResult{Root: root, Results: results}, nil
}

// checkConservation verifies the effect's own flow balance and that the
// locked resources cover the declared input flows exactly, per resource
// type. Caller holds the mutex.
func (r *Registry) checkConservation(e ir.Effect, guards []*Guard) *Error {
	if !e.Conserved() {
		return &Error{
			Code:    CodeConservationViolation,
			Message: fmt.Sprintf("effect %s flows do not balance", ir.ShortHex(e.ID)),
		}
	}

	declared := make(map[string]uint64)
	for _, in := range e.Inputs {
		sum := declared[in.ResourceType] + in.Quantity
		if sum < declared[in.ResourceType] {
			return &Error{
				Code:    CodeConservationViolation,
				Message: fmt.Sprintf("declared input total for type %q overflows", in.ResourceType),
			}
		}
		declared[in.ResourceType] = sum
	}
	bound := make(map[string]uint64)
	for _, g := range guards {
		res := r.resources[g.resource]
		sum := bound[res.ResourceType] + res.Quantity
		if sum < bound[res.ResourceType] {
			return &Error{
				Code:    CodeConservationViolation,
				Message: fmt.Sprintf("bound resource total for type %q overflows", res.ResourceType),
			}
		}
		bound[res.ResourceType] = sum
	}
	for typ, want := range declared {
		if bound[typ] != want {
			return &Error{
				Code:    CodeConservationViolation,
				Message: fmt.Sprintf("bound %d of type %q, effect declares %d", bound[typ], typ, want),
			}
		}
	}
	for typ := range bound {
		if _, ok := declared[typ]; !ok {
			return &Error{
				Code:    CodeConservationViolation,
				Message: fmt.Sprintf("bound resource of type %q not declared as input", typ),
			}
		}
	}
	return nil
}

// SelectLive deterministically picks Live resources of the given type, in
// id order, whose quantities sum exactly to quantity. Returns NotFound when
// no exact cover exists along that order.
func (r *Registry) SelectLive(resourceType string, quantity uint64) ([]ir.ResourceID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var live []ir.ResourceID
	for id, res := range r.resources {
		if res.ResourceType == resourceType && r.states[id] == ir.Live {
			live = append(live, id)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		return ir.Compare(live[i], live[j]) < 0
	})

	var picked []ir.ResourceID
	var sum uint64
	for _, id := range live {
		if sum == quantity {
			break
		}
		q := r.resources[id].Quantity
		if sum+q > quantity {
			continue
		}
		picked = append(picked, id)
		sum += q
	}
	if sum != quantity {
		return nil, &Error{
			Code:    CodeNotFound,
			Message: fmt.Sprintf("no exact cover of %d %q from live resources", quantity, resourceType),
		}
	}
	return picked, nil
}

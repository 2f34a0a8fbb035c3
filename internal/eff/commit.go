package eff

import (
	"sort"

	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/resource"
)

// RegistryCommitter lands staged effects against a resource registry. The
// whole batch commits under one tree root; any failure leaves the tree at
// its previous root.
type RegistryCommitter struct {
	Registry *resource.Registry

	// Owner receives root capabilities over resources minted by the batch.
	Owner ir.IdentityID
}

// Commit implements Committer.
func (c *RegistryCommitter) Commit(staged []Staged) (CommitReceipt, error) {
	commits := make([]resource.EffectCommit, 0, len(staged))
	for _, s := range staged {
		bindings, err := ParseBindings(s.Payload)
		if err != nil {
			return CommitReceipt{}, &RuntimeError{
				Code:       ErrCodeBadExpr,
				Message:    "malformed binding payload",
				EffectType: s.Effect.EffectType,
				Err:        err,
			}
		}
		commits = append(commits, resource.EffectCommit{
			Effect:    s.Effect,
			Inputs:    bindings,
			MintOwner: c.Owner,
		})
	}

	batch, err := c.Registry.CommitEffectBatch(commits)
	if err != nil {
		return CommitReceipt{}, err
	}

	receipt := CommitReceipt{Root: batch.Root}
	for _, res := range batch.Results {
		receipt.Nullifiers = append(receipt.Nullifiers, res.Nullifiers...)
		for _, m := range res.Minted {
			receipt.Minted = append(receipt.Minted, m.Resource)
		}
	}
	return receipt, nil
}

// RegistryView adapts a resource registry to the ResourceView interface used
// by intent compilation. Capabilities are tracked explicitly because the
// registry binds authorization to holders, not to resources.
type RegistryView struct {
	Registry *resource.Registry

	caps map[ir.ResourceID]ir.CapabilityID
}

// NewRegistryView creates a view over reg with no tracked capabilities.
func NewRegistryView(reg *resource.Registry) *RegistryView {
	return &RegistryView{
		Registry: reg,
		caps:     make(map[ir.ResourceID]ir.CapabilityID),
	}
}

// Grant records that cap authorizes consuming res. Later grants for the same
// resource replace earlier ones.
func (v *RegistryView) Grant(res ir.ResourceID, cap ir.CapabilityID) {
	v.caps[res] = cap
}

// BindFlows implements ResourceView: for each flow it selects live resources
// whose quantities cover the flow exactly and pairs each with its tracked
// capability. Selection is deterministic, so the same registry state always
// yields the same bindings.
func (v *RegistryView) BindFlows(flows []ir.ResourceFlow) ([]resource.Binding, error) {
	// Aggregate per type first so two flows of one type bind against the
	// combined quantity.
	need := make(map[string]uint64)
	for _, f := range flows {
		need[f.ResourceType] += f.Quantity
	}
	types := make([]string, 0, len(need))
	for t := range need {
		types = append(types, t)
	}
	sort.Strings(types)

	var bindings []resource.Binding
	for _, t := range types {
		picked, err := v.Registry.SelectLive(t, need[t])
		if err != nil {
			return nil, err
		}
		for _, id := range picked {
			capID, ok := v.caps[id]
			if !ok {
				return nil, &resource.Error{
					Code:     resource.CodeAccessDenied,
					Message:  "no capability tracked for selected resource",
					Resource: id,
				}
			}
			bindings = append(bindings, resource.Binding{Resource: id, Capability: capID})
		}
	}
	return bindings, nil
}

package ir

import "fmt"

// Lifecycle is the linear lifecycle state of a resource. Transitions are
// Live → Locked → Consumed or Live → Consumed; consumption is terminal.
type Lifecycle uint8

const (
	Live Lifecycle = iota + 1
	Locked
	Consumed
)

// String implements fmt.Stringer.
func (l Lifecycle) String() string {
	switch l {
	case Live:
		return "live"
	case Locked:
		return "locked"
	case Consumed:
		return "consumed"
	default:
		return fmt.Sprintf("lifecycle(%d)", uint8(l))
	}
}

// CanTransition reports whether l → next is a legal lifecycle transition.
func (l Lifecycle) CanTransition(next Lifecycle) bool {
	switch l {
	case Live:
		return next == Locked || next == Consumed
	case Locked:
		return next == Consumed || next == Live // Live only via abort before commit
	default:
		return false
	}
}

// Grant is a single capability right.
type Grant uint8

const (
	GrantRead Grant = 1 << iota
	GrantWrite
	GrantExecute
	GrantLock
	GrantTransfer
	GrantDelegate
	GrantRevoke
)

// Grants is a set of capability rights.
type Grants uint8

// GrantsAll holds every right; issued to resource owners at registration.
const GrantsAll = Grants(GrantRead | GrantWrite | GrantExecute | GrantLock |
	GrantTransfer | GrantDelegate | GrantRevoke)

// NewGrants builds a grant set from individual rights.
func NewGrants(grants ...Grant) Grants {
	var g Grants
	for _, grant := range grants {
		g |= Grants(grant)
	}
	return g
}

// Has reports whether the set contains the given right.
func (g Grants) Has(grant Grant) bool { return g&Grants(grant) != 0 }

// Subset reports whether g is contained in parent. Delegation requires the
// child's grants to be a subset of the parent's.
func (g Grants) Subset(parent Grants) bool { return g&^parent == 0 }

var grantNames = []struct {
	grant Grant
	name  string
}{
	{GrantRead, "read"},
	{GrantWrite, "write"},
	{GrantExecute, "execute"},
	{GrantLock, "lock"},
	{GrantTransfer, "transfer"},
	{GrantDelegate, "delegate"},
	{GrantRevoke, "revoke"},
}

// Names returns the contained rights in declaration order.
func (g Grants) Names() []string {
	var names []string
	for _, gn := range grantNames {
		if g.Has(gn.grant) {
			names = append(names, gn.name)
		}
	}
	return names
}

// ParseGrant maps a right name to its Grant bit.
func ParseGrant(name string) (Grant, error) {
	for _, gn := range grantNames {
		if gn.name == name {
			return gn.grant, nil
		}
	}
	return 0, fmt.Errorf("unknown grant %q", name)
}

// Resource is the atomic unit of state. The lifecycle state lives in the
// registry, not on the entity: identity is content-addressed and must not
// change as the resource moves from Live to Consumed.
type Resource struct {
	ID           ResourceID `json:"id"`
	Name         string     `json:"name"`
	DomainID     DomainID   `json:"domain_id"`
	ResourceType string     `json:"resource_type"`
	Quantity     uint64     `json:"quantity"`
	Owner        IdentityID `json:"owner"`
	Timestamp    int64      `json:"timestamp"` // logical clock seq at creation
}

// Capability is a transferable right over a resource. Capabilities form a
// forest: every non-root capability records its parent and can only be
// revoked by an ancestor; revocation is transitive.
type Capability struct {
	ID          CapabilityID `json:"id"`
	Grants      Grants       `json:"grants"`
	Subject     IdentityID   `json:"subject"`
	ResourceID  ResourceID   `json:"resource_id"`            // zero for class capabilities
	ContentHash EntityID     `json:"content_hash,omitempty"` // optional content-addressed constraint
	Parent      CapabilityID `json:"parent,omitempty"`       // zero for roots
	DomainID    DomainID     `json:"domain_id"`
	Timestamp   int64        `json:"timestamp"`
}

// ResourceFlow is one typed quantity moving through an effect or intent.
// Burn marks an output flow as explicitly destroyed; burned quantities
// participate in the conservation equation.
type ResourceFlow struct {
	ResourceType string   `json:"resource_type"`
	Quantity     uint64   `json:"quantity"`
	DomainID     DomainID `json:"domain_id"`
	Burn         bool     `json:"burn,omitempty"`
}

// Effect describes a single effectful step.
type Effect struct {
	ID                EffectID       `json:"id"`
	Name              string         `json:"name"`
	DomainID          DomainID       `json:"domain_id"`
	EffectType        string         `json:"effect_type"`
	Inputs            []ResourceFlow `json:"inputs"`
	Outputs           []ResourceFlow `json:"outputs"`
	Expression        ExprID         `json:"expression,omitempty"` // optional pure body
	ScopedBy          HandlerID      `json:"scoped_by,omitempty"`
	IntentID          IntentID       `json:"intent_id,omitempty"`
	SourceTypedDomain string         `json:"source_typed_domain,omitempty"`
	TargetTypedDomain string         `json:"target_typed_domain,omitempty"`
	GasHint           uint64         `json:"gas_hint,omitempty"`
	Timestamp         int64          `json:"timestamp"`
}

// sumFlows totals quantities per resource type with checked addition.
// ok is false when any per-type total overflows uint64.
func sumFlows(flows []ResourceFlow) (totals map[string]uint64, ok bool) {
	totals = make(map[string]uint64)
	for _, f := range flows {
		sum := totals[f.ResourceType] + f.Quantity
		if sum < totals[f.ResourceType] {
			return nil, false
		}
		totals[f.ResourceType] = sum
	}
	return totals, true
}

// Conserved reports whether the effect satisfies the conservation equation
// sum(inputs) = sum(outputs) + sum(burned) for every fungible resource type.
// Burned outputs are tagged outputs, so they already count on the output
// side. Each side is totaled with checked uint64 addition; an overflowing
// total is never conserved.
func (e Effect) Conserved() bool {
	in, ok := sumFlows(e.Inputs)
	if !ok {
		return false
	}
	out, ok := sumFlows(e.Outputs)
	if !ok {
		return false
	}
	for typ, q := range in {
		if out[typ] != q {
			return false
		}
	}
	for typ, q := range out {
		if in[typ] != q {
			return false
		}
	}
	return true
}

// Intent is a declarative request that compiles to one or more effects.
type Intent struct {
	ID                IntentID       `json:"id"`
	Name              string         `json:"name"`
	DomainID          DomainID       `json:"domain_id"`
	Priority          uint8          `json:"priority"`
	Inputs            []ResourceFlow `json:"inputs"`
	Outputs           []ResourceFlow `json:"outputs"`
	Expression        ExprID         `json:"expression,omitempty"`
	Hint              string         `json:"hint,omitempty"` // optimization hint
	TargetTypedDomain string         `json:"target_typed_domain,omitempty"`
	Timestamp         int64          `json:"timestamp"`
}

// Handler is a registered natural transformation on effects: given an effect
// of HandlesType it emits zero or more effects of other types plus a pure
// continuation. Dispatch order is (priority desc, id asc).
type Handler struct {
	ID          HandlerID `json:"id"`
	Name        string    `json:"name"`
	DomainID    DomainID  `json:"domain_id"`
	HandlesType string    `json:"handles_type"`
	Priority    uint32    `json:"priority"`
	Expression  ExprID    `json:"expression,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

// DomainConfig holds per-domain limits and toggles.
type DomainConfig struct {
	MaxNodesPerTransaction      int  `json:"max_nodes_per_transaction" yaml:"max_nodes_per_transaction"`
	AllowCrossDomainRefs        bool `json:"allow_cross_domain_refs" yaml:"allow_cross_domain_refs"`
	ValidateTemporalConstraints bool `json:"validate_temporal_constraints" yaml:"validate_temporal_constraints"`
	MaxCrossDomainDepth         int  `json:"max_cross_domain_depth" yaml:"max_cross_domain_depth"`
	ContentAddressableNodes     bool `json:"content_addressable_nodes" yaml:"content_addressable_nodes"`
}

// DefaultDomainConfig returns the config applied when a manifest leaves
// fields unset.
func DefaultDomainConfig() DomainConfig {
	return DomainConfig{
		MaxNodesPerTransaction:      1024,
		AllowCrossDomainRefs:        true,
		ValidateTemporalConstraints: true,
		MaxCrossDomainDepth:         4,
		ContentAddressableNodes:     true,
	}
}

// Domain is a namespace with its own SMT, handler registry and capability
// forest.
type Domain struct {
	ID        DomainID     `json:"id"`
	Name      string       `json:"name"`
	StateRoot EntityID     `json:"state_root,omitempty"`
	Config    DomainConfig `json:"config"`
}

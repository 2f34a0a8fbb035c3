package optimize

import (
	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/teg"
)

// CrossDomainReordering pushes cross-domain effects after local ones when
// only an ordering edge separates them, so cross-domain traffic batches at
// the end of a transaction. Reordering past an ordering boundary changes
// which handler scope observes the effect first, so the pass does not
// preserve the adjunction and needs AllowUnsafePasses.
type CrossDomainReordering struct{}

// NewCrossDomainReordering creates the pass.
func NewCrossDomainReordering() *CrossDomainReordering { return &CrossDomainReordering{} }

func (*CrossDomainReordering) Name() string                     { return "cross-domain-reordering" }
func (*CrossDomainReordering) PreservesAdjunction() bool        { return false }
func (*CrossDomainReordering) PreservesResourceStructure() bool { return true }

// Apply implements Optimization.
func (*CrossDomainReordering) Apply(g *teg.Graph, _ Config) (bool, error) {
	for _, e := range g.Edges() {
		if e.Kind != teg.EdgeBefore {
			continue
		}
		a, aok := g.Node(e.Source)
		b, bok := g.Node(e.Target)
		if !aok || !bok || a.Kind != teg.NodeEffect || b.Kind != teg.NodeEffect {
			continue
		}
		// Flip only when the earlier effect crosses domains and the later
		// one is purely local; the strict criterion keeps the rewrite from
		// oscillating.
		if !crossesDomains(g, a.ID) || crossesDomains(g, b.ID) {
			continue
		}
		if dependsOn(g, b.ID, a.ID) || dependsOn(g, a.ID, b.ID) {
			continue
		}
		g.RemoveEdge(e)
		g.AddEdge(teg.Edge{Source: b.ID, Target: a.ID, Kind: teg.EdgeBefore})
		return true, nil
	}
	return false, nil
}

// crossesDomains reports whether the effect has a cross-domain edge or a
// declared target domain.
func crossesDomains(g *teg.Graph, id ir.NodeID) bool {
	n, ok := g.Node(id)
	if ok && n.Effect != nil && n.Effect.TargetTypedDomain != "" {
		return true
	}
	for _, e := range g.EdgesFrom(id) {
		if e.Kind == teg.EdgeCrossDomainRef {
			return true
		}
	}
	return false
}

// dependsOn reports whether from reaches to over Depends edges.
func dependsOn(g *teg.Graph, from, to ir.NodeID) bool {
	seen := map[ir.NodeID]bool{}
	stack := []ir.NodeID{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, e := range g.EdgesFrom(cur) {
			if e.Kind == teg.EdgeDepends {
				stack = append(stack, e.Target)
			}
		}
	}
	return false
}

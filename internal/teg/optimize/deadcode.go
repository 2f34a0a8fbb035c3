package optimize

import "github.com/telic-run/telic/internal/teg"

// DeadEffectElimination removes effect nodes that can have no observable
// outcome: they touch no resources (no flows, no produces/consumes edges),
// nothing depends on them, and no handler is applied to them. Ordering-only
// edges (Before) do not keep an effect alive.
type DeadEffectElimination struct{}

// NewDeadEffectElimination creates the pass.
func NewDeadEffectElimination() *DeadEffectElimination { return &DeadEffectElimination{} }

func (*DeadEffectElimination) Name() string                     { return "dead-effect-elimination" }
func (*DeadEffectElimination) PreservesAdjunction() bool        { return true }
func (*DeadEffectElimination) PreservesResourceStructure() bool { return true }

// Apply implements Optimization.
func (*DeadEffectElimination) Apply(g *teg.Graph, _ Config) (bool, error) {
	changed := false
	for _, n := range g.Effects() {
		if len(n.Effect.Inputs) > 0 || len(n.Effect.Outputs) > 0 {
			continue
		}
		dead := true
		for _, e := range g.EdgesFrom(n.ID) {
			if e.Kind != teg.EdgeBefore {
				dead = false
				break
			}
		}
		if dead {
			for _, e := range g.EdgesTo(n.ID) {
				if e.Kind != teg.EdgeBefore {
					dead = false
					break
				}
			}
		}
		if dead {
			// Preserve transitive ordering across the removed node.
			preds := g.EdgesTo(n.ID)
			succs := g.EdgesFrom(n.ID)
			g.RemoveNode(n.ID)
			for _, p := range preds {
				for _, s := range succs {
					g.AddEdge(teg.Edge{Source: p.Source, Target: s.Target, Kind: teg.EdgeBefore})
				}
			}
			changed = true
		}
	}
	return changed, nil
}

package optimize

import (
	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/teg"
)

// AccessCoalescing merges redundant read effects. Two read effects are
// redundant when they have the same type and flows, read the same resources
// (identical Consumes targets), and one is ordered directly before the
// other with no other effect observing the first. The earlier read is
// dropped and its ordering edges reattach to the survivor.
type AccessCoalescing struct{}

// NewAccessCoalescing creates the pass.
func NewAccessCoalescing() *AccessCoalescing { return &AccessCoalescing{} }

func (*AccessCoalescing) Name() string                     { return "resource-access-coalescing" }
func (*AccessCoalescing) PreservesAdjunction() bool        { return true }
func (*AccessCoalescing) PreservesResourceStructure() bool { return true }

// readTag marks effects safe to coalesce: reads do not consume or mint.
const readTag = "core.read"

// Apply implements Optimization.
func (*AccessCoalescing) Apply(g *teg.Graph, _ Config) (bool, error) {
	for _, e := range g.Edges() {
		if e.Kind != teg.EdgeBefore {
			continue
		}
		a, aok := g.Node(e.Source)
		b, bok := g.Node(e.Target)
		if !aok || !bok || a.Kind != teg.NodeEffect || b.Kind != teg.NodeEffect {
			continue
		}
		if a.Effect.EffectType != readTag || b.Effect.EffectType != readTag {
			continue
		}
		if !sameReads(g, a, b) {
			continue
		}
		if observedElsewhere(g, a.ID, b.ID) {
			continue
		}

		preds := g.EdgesTo(a.ID)
		g.RemoveNode(a.ID)
		for _, p := range preds {
			if p.Kind == teg.EdgeBefore && p.Source != b.ID {
				g.AddEdge(teg.Edge{Source: p.Source, Target: b.ID, Kind: teg.EdgeBefore})
			}
		}
		// One merge per application keeps the scan simple; the pipeline's
		// fixed point finds the rest.
		return true, nil
	}
	return false, nil
}

// sameReads reports whether a and b read identical resources with identical
// flows.
func sameReads(g *teg.Graph, a, b teg.Node) bool {
	if len(a.Effect.Inputs) != len(b.Effect.Inputs) || len(a.Effect.Outputs) != len(b.Effect.Outputs) {
		return false
	}
	for i, in := range a.Effect.Inputs {
		if in != b.Effect.Inputs[i] {
			return false
		}
	}
	for i, out := range a.Effect.Outputs {
		if out != b.Effect.Outputs[i] {
			return false
		}
	}
	return equalTargets(consumed(g, a.ID), consumed(g, b.ID))
}

func consumed(g *teg.Graph, id ir.NodeID) []ir.NodeID {
	var out []ir.NodeID
	for _, e := range g.EdgesFrom(id) {
		if e.Kind == teg.EdgeConsumes {
			out = append(out, e.Target)
		}
	}
	return out
}

func equalTargets(a, b []ir.NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// observedElsewhere reports whether any edge other than the coalesced
// ordering and shared resource reads touches a.
func observedElsewhere(g *teg.Graph, a, b ir.NodeID) bool {
	for _, e := range g.EdgesFrom(a) {
		switch e.Kind {
		case teg.EdgeConsumes:
		case teg.EdgeBefore:
			if e.Target != b {
				return true
			}
		default:
			return true
		}
	}
	for _, e := range g.EdgesTo(a) {
		if e.Kind != teg.EdgeBefore {
			return true
		}
	}
	return false
}

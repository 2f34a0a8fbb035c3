package optimize

import (
	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/teg"
)

// EffectInlining fuses a producer effect into its sole dependent consumer
// when the producer's outputs exactly match the consumer's inputs. The fused
// effect carries the producer's inputs and the consumer's outputs, so
// conservation is preserved, but the intermediate flow boundary disappears:
// the pass does not preserve resource structure and needs AllowUnsafePasses.
type EffectInlining struct{}

// NewEffectInlining creates the pass.
func NewEffectInlining() *EffectInlining { return &EffectInlining{} }

func (*EffectInlining) Name() string                     { return "effect-inlining" }
func (*EffectInlining) PreservesAdjunction() bool        { return true }
func (*EffectInlining) PreservesResourceStructure() bool { return false }

// Apply implements Optimization.
func (*EffectInlining) Apply(g *teg.Graph, _ Config) (bool, error) {
	for _, e := range g.Edges() {
		if e.Kind != teg.EdgeDepends {
			continue
		}
		// Depends(consumer → producer): consumer needs producer's outputs.
		consumer, cok := g.Node(e.Source)
		producer, pok := g.Node(e.Target)
		if !cok || !pok || consumer.Kind != teg.NodeEffect || producer.Kind != teg.NodeEffect {
			continue
		}
		if !flowsMatch(producer.Effect.Outputs, consumer.Effect.Inputs) {
			continue
		}
		if fanout(g, producer.ID) > 1 || touchedBeyondDepends(g, producer.ID, consumer.ID) {
			continue
		}

		fused := *consumer.Effect
		fused.Name = producer.Effect.Name + "+" + consumer.Effect.Name
		fused.Inputs = append([]ir.ResourceFlow{}, producer.Effect.Inputs...)
		fused.ID = ir.EffectID{}

		g.RemoveNode(producer.ID)
		if _, err := g.ReplaceEffect(consumer.ID, fused); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func flowsMatch(a, b []ir.ResourceFlow) bool {
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

// fanout counts dependents of an effect.
func fanout(g *teg.Graph, id ir.NodeID) int {
	n := 0
	for _, e := range g.EdgesTo(id) {
		if e.Kind == teg.EdgeDepends {
			n++
		}
	}
	return n
}

// touchedBeyondDepends reports whether producer participates in any edge
// other than the dependency being fused or plain ordering.
func touchedBeyondDepends(g *teg.Graph, producer, consumer ir.NodeID) bool {
	for _, e := range g.EdgesFrom(producer) {
		if e.Kind != teg.EdgeBefore {
			return true
		}
	}
	for _, e := range g.EdgesTo(producer) {
		if e.Kind == teg.EdgeBefore {
			continue
		}
		if e.Kind == teg.EdgeDepends && e.Source == consumer {
			continue
		}
		return true
	}
	return false
}

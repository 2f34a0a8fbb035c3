package teg

import "github.com/telic-run/telic/internal/ir"

// Fragment is a composable piece of a temporal effect graph with
// distinguished entry and exit nodes. Combinators build larger fragments
// without touching their operands.
//
// The algebra the combinators satisfy, up to canonical encoding:
//
//	Sequence(Sequence(a, b), c) ≡ Sequence(a, Sequence(b, c))
//	Parallel(a, b)              ≡ Parallel(b, a)
//	Sequence(Identity(), f)     ≡ f ≡ Sequence(f, Identity())
type Fragment struct {
	graph  *Graph
	roots  []ir.NodeID
	leaves []ir.NodeID
}

// Identity returns the empty fragment, the two-sided identity of Sequence.
func Identity() *Fragment {
	return &Fragment{graph: NewGraph()}
}

// NewFragment builds a single-node fragment.
func NewFragment(n Node) *Fragment {
	g := NewGraph()
	g.AddNode(n)
	return &Fragment{
		graph:  g,
		roots:  []ir.NodeID{n.ID},
		leaves: []ir.NodeID{n.ID},
	}
}

// FromGraph wraps an existing graph, typically one decoded off the wire,
// as a fragment. Roots are the nodes with no incoming Before edge and
// leaves the nodes with no outgoing one, in canonical node order.
func FromGraph(g *Graph) *Fragment {
	f := &Fragment{graph: g}
	for _, n := range g.Nodes() {
		hasIn, hasOut := false, false
		for _, e := range g.EdgesTo(n.ID) {
			if e.Kind == EdgeBefore {
				hasIn = true
				break
			}
		}
		for _, e := range g.EdgesFrom(n.ID) {
			if e.Kind == EdgeBefore {
				hasOut = true
				break
			}
		}
		if !hasIn {
			f.roots = append(f.roots, n.ID)
		}
		if !hasOut {
			f.leaves = append(f.leaves, n.ID)
		}
	}
	return f
}

// Graph returns the underlying graph.
func (f *Fragment) Graph() *Graph { return f.graph }

// Roots returns the fragment's entry node ids.
func (f *Fragment) Roots() []ir.NodeID { return f.roots }

// Leaves returns the fragment's exit node ids.
func (f *Fragment) Leaves() []ir.NodeID { return f.leaves }

// Empty reports whether the fragment has no nodes.
func (f *Fragment) Empty() bool { return f.graph.Len() == 0 }

// merged returns a fresh graph holding both operands.
func merged(a, b *Fragment) *Graph {
	g := a.graph.Clone()
	g.Merge(b.graph)
	return g
}

// Sequence composes a then b: every leaf of a is ordered Before every root
// of b. Composing with the identity fragment on either side returns a
// fragment equal to the other operand.
func Sequence(a, b *Fragment) *Fragment {
	if a.Empty() {
		return &Fragment{graph: b.graph.Clone(), roots: b.roots, leaves: b.leaves}
	}
	if b.Empty() {
		return &Fragment{graph: a.graph.Clone(), roots: a.roots, leaves: a.leaves}
	}
	g := merged(a, b)
	for _, from := range a.leaves {
		for _, to := range b.roots {
			g.AddEdge(Edge{Source: from, Target: to, Kind: EdgeBefore})
		}
	}
	return &Fragment{graph: g, roots: a.roots, leaves: b.leaves}
}

// Parallel composes a and b with no ordering between them. Commutative:
// the canonical encoding sorts nodes and edges, so operand order does not
// change the resulting TegID.
func Parallel(a, b *Fragment) *Fragment {
	g := merged(a, b)
	return &Fragment{
		graph:  g,
		roots:  append(append([]ir.NodeID{}, a.roots...), b.roots...),
		leaves: append(append([]ir.NodeID{}, a.leaves...), b.leaves...),
	}
}

// ApplyHandler scopes h over the fragment: an Applies edge is added from the
// handler node to every effect node whose type the handler handles.
func ApplyHandler(f *Fragment, h ir.Handler) *Fragment {
	g := f.graph.Clone()
	hn := HandlerNode(h)
	g.AddNode(hn)
	for _, n := range g.Effects() {
		if n.Effect.EffectType == h.HandlesType {
			g.AddEdge(Edge{Source: hn.ID, Target: n.ID, Kind: EdgeApplies})
		}
	}
	return &Fragment{graph: g, roots: f.roots, leaves: f.leaves}
}

package teg

import (
	"fmt"
	"sort"

	"github.com/telic-run/telic/internal/ir"
)

// NodeKind discriminates the entity stored at a graph node.
type NodeKind uint8

const (
	NodeEffect NodeKind = iota + 1
	NodeResource
	NodeIntent
	NodeHandler
)

// String implements fmt.Stringer.
func (k NodeKind) String() string {
	switch k {
	case NodeEffect:
		return "effect"
	case NodeResource:
		return "resource"
	case NodeIntent:
		return "intent"
	case NodeHandler:
		return "handler"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// EdgeKind discriminates graph edges.
type EdgeKind uint8

const (
	EdgeDepends EdgeKind = iota + 1
	EdgeProduces
	EdgeConsumes
	EdgeApplies
	EdgeBefore
	EdgeCrossDomainRef
)

// String implements fmt.Stringer.
func (k EdgeKind) String() string {
	switch k {
	case EdgeDepends:
		return "depends"
	case EdgeProduces:
		return "produces"
	case EdgeConsumes:
		return "consumes"
	case EdgeApplies:
		return "applies"
	case EdgeBefore:
		return "before"
	case EdgeCrossDomainRef:
		return "cross-domain-ref"
	default:
		return fmt.Sprintf("edge(%d)", uint8(k))
	}
}

// Node is one vertex of a temporal effect graph. Exactly one entity pointer
// is set, matching Kind. The node id is the entity's content id, so equal
// entities collapse to one node.
type Node struct {
	ID   ir.NodeID
	Kind NodeKind

	Effect   *ir.Effect
	Resource *ir.Resource
	Intent   *ir.Intent
	Handler  *ir.Handler
}

// EffectNode wraps an effect as a graph node. The effect must carry its id.
func EffectNode(e ir.Effect) Node {
	return Node{ID: ir.NodeID(e.ID), Kind: NodeEffect, Effect: &e}
}

// ResourceNode wraps a resource as a graph node.
func ResourceNode(r ir.Resource) Node {
	return Node{ID: ir.NodeID(r.ID), Kind: NodeResource, Resource: &r}
}

// IntentNode wraps an intent as a graph node.
func IntentNode(i ir.Intent) Node {
	return Node{ID: ir.NodeID(i.ID), Kind: NodeIntent, Intent: &i}
}

// HandlerNode wraps a handler as a graph node.
func HandlerNode(h ir.Handler) Node {
	return Node{ID: ir.NodeID(h.ID), Kind: NodeHandler, Handler: &h}
}

// Edge is a directed, kinded edge between two nodes.
type Edge struct {
	Source ir.NodeID
	Target ir.NodeID
	Kind   EdgeKind
}

// Graph is a temporal effect graph: content-addressed nodes plus kinded
// edges. Duplicate nodes and edges collapse, which is what makes the
// combinator laws hold under canonical encoding.
type Graph struct {
	nodes map[ir.NodeID]Node
	edges map[Edge]struct{}
	exprs map[ir.ExprID]ir.Value
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[ir.NodeID]Node),
		edges: make(map[Edge]struct{}),
		exprs: make(map[ir.ExprID]ir.Value),
	}
}

// AddNode inserts a node. Re-adding an identical node is a no-op.
func (g *Graph) AddNode(n Node) {
	g.nodes[n.ID] = n
}

// AddEdge inserts an edge. Endpoints are checked at validation, not here, so
// fragments can be assembled in any order.
func (g *Graph) AddEdge(e Edge) {
	g.edges[e] = struct{}{}
}

// AddExpr attaches a pure expression body referenced by effect or intent
// nodes.
func (g *Graph) AddExpr(id ir.ExprID, body ir.Value) {
	g.exprs[id] = body
}

// Expr returns an attached expression body.
func (g *Graph) Expr(id ir.ExprID) (ir.Value, bool) {
	v, ok := g.exprs[id]
	return v, ok
}

// Exprs returns the ids of all attached expressions, sorted.
func (g *Graph) Exprs() []ir.ExprID {
	ids := make([]ir.ExprID, 0, len(g.exprs))
	for id := range g.exprs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ir.Compare(ids[i], ids[j]) < 0
	})
	return ids
}

// RemoveExpr detaches an expression body.
func (g *Graph) RemoveExpr(id ir.ExprID) {
	delete(g.exprs, id)
}

// Node returns a node by id.
func (g *Graph) Node(id ir.NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the node count.
func (g *Graph) Len() int { return len(g.nodes) }

// RemoveNode deletes a node and every incident edge.
func (g *Graph) RemoveNode(id ir.NodeID) {
	delete(g.nodes, id)
	for e := range g.edges {
		if e.Source == id || e.Target == id {
			delete(g.edges, e)
		}
	}
}

// RemoveEdge deletes an edge.
func (g *Graph) RemoveEdge(e Edge) {
	delete(g.edges, e)
}

// Nodes returns all nodes sorted by id.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		return ir.Compare(out[i].ID, out[j].ID) < 0
	})
	return out
}

// Edges returns all edges sorted by (source, target, kind).
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := ir.Compare(out[i].Source, out[j].Source); c != 0 {
			return c < 0
		}
		if c := ir.Compare(out[i].Target, out[j].Target); c != 0 {
			return c < 0
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// EdgesFrom returns the sorted edges leaving id.
func (g *Graph) EdgesFrom(id ir.NodeID) []Edge {
	var out []Edge
	for _, e := range g.Edges() {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// EdgesTo returns the sorted edges arriving at id.
func (g *Graph) EdgesTo(id ir.NodeID) []Edge {
	var out []Edge
	for _, e := range g.Edges() {
		if e.Target == id {
			out = append(out, e)
		}
	}
	return out
}

// Effects returns all effect nodes sorted by id.
func (g *Graph) Effects() []Node {
	var out []Node
	for _, n := range g.Nodes() {
		if n.Kind == NodeEffect {
			out = append(out, n)
		}
	}
	return out
}

// Clone returns a deep-enough copy: node entities are value copies, edges
// and expression bodies are shared (both immutable by convention).
func (g *Graph) Clone() *Graph {
	c := NewGraph()
	for id, n := range g.nodes {
		c.nodes[id] = n
	}
	for e := range g.edges {
		c.edges[e] = struct{}{}
	}
	for id, v := range g.exprs {
		c.exprs[id] = v
	}
	return c
}

// Merge adds every node, edge and expression of other into g.
func (g *Graph) Merge(other *Graph) {
	for _, n := range other.nodes {
		g.AddNode(n)
	}
	for e := range other.edges {
		g.AddEdge(e)
	}
	for id, v := range other.exprs {
		g.AddExpr(id, v)
	}
}

// ReplaceEffect swaps the effect stored at old for e, recomputing the node
// id from e's content and rewiring every incident edge. Used by optimizer
// passes, which change effect content and therefore identity.
func (g *Graph) ReplaceEffect(old ir.NodeID, e ir.Effect) (ir.NodeID, error) {
	if n, ok := g.nodes[old]; !ok || n.Kind != NodeEffect {
		return ir.NodeID{}, fmt.Errorf("replace effect: node %s is not an effect", ir.ShortHex(old))
	}
	id, err := ir.ComputeEffectID(e)
	if err != nil {
		return ir.NodeID{}, fmt.Errorf("replace effect: %w", err)
	}
	e.ID = id
	newID := ir.NodeID(id)

	incident := make([]Edge, 0, 4)
	for edge := range g.edges {
		if edge.Source == old || edge.Target == old {
			incident = append(incident, edge)
		}
	}
	delete(g.nodes, old)
	for _, edge := range incident {
		delete(g.edges, edge)
		if edge.Source == old {
			edge.Source = newID
		}
		if edge.Target == old {
			edge.Target = newID
		}
		g.edges[edge] = struct{}{}
	}
	g.nodes[newID] = Node{ID: newID, Kind: NodeEffect, Effect: &e}
	return newID, nil
}

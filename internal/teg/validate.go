package teg

import (
	"fmt"

	"github.com/telic-run/telic/internal/ir"
)

// Validate checks the graph against the structural and domain rules:
// every edge endpoint exists and has a kind the edge allows, Depends (and,
// when temporal validation is on, Before) edges are acyclic, every effect
// conserves its flows, cross-domain references respect the domain config,
// and the node count fits the per-transaction budget.
func (g *Graph) Validate(domain ir.DomainID, cfg ir.DomainConfig) error {
	if g.Len() > cfg.MaxNodesPerTransaction {
		return &InvalidTegError{
			Code:    CodeNodeBudget,
			Message: fmt.Sprintf("%d nodes exceed limit %d", g.Len(), cfg.MaxNodesPerTransaction),
		}
	}

	for _, e := range g.Edges() {
		src, ok := g.nodes[e.Source]
		if !ok {
			return &InvalidTegError{Code: CodeDangling, Message: "edge source missing", Node: e.Source}
		}
		dst, ok := g.nodes[e.Target]
		if !ok {
			return &InvalidTegError{Code: CodeDangling, Message: "edge target missing", Node: e.Target}
		}
		if err := checkEdgeKinds(e, src, dst); err != nil {
			return err
		}
		if e.Kind == EdgeCrossDomainRef {
			if !cfg.AllowCrossDomainRefs {
				return &InvalidTegError{Code: CodeCrossDomain, Message: "cross-domain refs disabled", Node: e.Source}
			}
			if nodeDomain(dst) == domain {
				return &InvalidTegError{Code: CodeBadEdge, Message: "cross-domain ref targets own domain", Node: e.Target}
			}
		}
	}

	for _, n := range g.Effects() {
		if !n.Effect.Conserved() {
			return &InvalidTegError{
				Code:    CodeUnbalanced,
				Message: fmt.Sprintf("effect %q flows do not balance", n.Effect.Name),
				Node:    n.ID,
			}
		}
		if !ir.IsZero(n.Effect.Expression) {
			if _, ok := g.exprs[n.Effect.Expression]; !ok {
				return &InvalidTegError{Code: CodeDangling, Message: "effect references missing expression", Node: n.ID}
			}
		}
	}

	ordering := []EdgeKind{EdgeDepends}
	if cfg.ValidateTemporalConstraints {
		ordering = append(ordering, EdgeBefore)
	}
	if cyclic, at := g.hasCycle(ordering); cyclic {
		return &InvalidTegError{Code: CodeCycle, Message: "ordering edges form a cycle", Node: at}
	}
	return nil
}

func nodeDomain(n Node) ir.DomainID {
	switch n.Kind {
	case NodeEffect:
		return n.Effect.DomainID
	case NodeResource:
		return n.Resource.DomainID
	case NodeIntent:
		return n.Intent.DomainID
	case NodeHandler:
		return n.Handler.DomainID
	default:
		return ir.DomainID{}
	}
}

// checkEdgeKinds enforces which node kinds each edge kind may connect.
func checkEdgeKinds(e Edge, src, dst Node) error {
	bad := func(msg string) error {
		return &InvalidTegError{Code: CodeBadEdge, Message: msg, Node: e.Source}
	}
	switch e.Kind {
	case EdgeDepends:
		if src.Kind != NodeEffect || dst.Kind != NodeEffect {
			return bad("depends edge must connect effect to effect")
		}
	case EdgeProduces:
		if src.Kind != NodeEffect || dst.Kind != NodeResource {
			return bad("produces edge must run effect to resource")
		}
	case EdgeConsumes:
		if src.Kind != NodeEffect || dst.Kind != NodeResource {
			return bad("consumes edge must run effect to resource")
		}
	case EdgeApplies:
		if src.Kind != NodeHandler || dst.Kind != NodeEffect {
			return bad("applies edge must run handler to effect")
		}
	case EdgeBefore, EdgeCrossDomainRef:
		// Any node kinds.
	default:
		return bad(fmt.Sprintf("unknown edge kind %d", e.Kind))
	}
	return nil
}

// hasCycle runs an iterative three-color DFS over the chosen edge kinds.
// Deterministic: nodes and edges are visited in sorted order.
func (g *Graph) hasCycle(kinds []EdgeKind) (bool, ir.NodeID) {
	want := make(map[EdgeKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	succ := make(map[ir.NodeID][]ir.NodeID)
	for _, e := range g.Edges() {
		if want[e.Kind] {
			succ[e.Source] = append(succ[e.Source], e.Target)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[ir.NodeID]int, len(g.nodes))

	type frame struct {
		id   ir.NodeID
		next int
	}
	for _, start := range g.Nodes() {
		if color[start.ID] != white {
			continue
		}
		stack := []frame{{id: start.ID}}
		color[start.ID] = gray
		for len(stack) > 0 {
			f := &stack[len(stack)-1]
			edges := succ[f.id]
			if f.next >= len(edges) {
				color[f.id] = black
				stack = stack[:len(stack)-1]
				continue
			}
			n := edges[f.next]
			f.next++
			switch color[n] {
			case gray:
				return true, n
			case white:
				color[n] = gray
				stack = append(stack, frame{id: n})
			}
		}
	}
	return false, ir.NodeID{}
}

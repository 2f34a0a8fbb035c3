package optimize

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/resource"
	"github.com/telic-run/telic/internal/sched"
	"github.com/telic-run/telic/internal/smt"
	"github.com/telic-run/telic/internal/teg"
)

// settlement is what an observer of a settled graph can see: the final
// Live quantity per resource type, the values the effect expressions
// evaluate to, and the root of the commit history that produced them.
type settlement struct {
	root   smt.Hash
	live   map[string]uint64
	values []ir.Value
}

// settleGraph commits a graph's effects in dependency order against a
// fresh registry, seeding Live resources on demand to cover input flows.
// Effects without flows settle pure and stage no commit, matching how the
// runtime treats them.
func settleGraph(t *testing.T, g *teg.Graph) settlement {
	t.Helper()

	tree := smt.NewTree(smt.NewMemoryStore())
	reg := resource.NewRegistry(testDomain, tree, sched.NewClock())
	admin := ir.NewIdentityID("checker")

	caps := make(map[ir.ResourceID]ir.CapabilityID)
	var tracked []ir.ResourceID
	seeds := 0

	out := settlement{live: make(map[string]uint64)}
	for _, n := range executionOrder(t, g) {
		e := *n.Effect
		if expr, ok := g.Expr(e.Expression); ok {
			v, err := ir.EvalExpr(expr, ir.Obj{})
			require.NoError(t, err)
			out.values = append(out.values, v)
		}
		if len(e.Inputs) == 0 && len(e.Outputs) == 0 {
			continue
		}

		var bindings []resource.Binding
		for _, in := range e.Inputs {
			ids, err := reg.SelectLive(in.ResourceType, in.Quantity)
			if err != nil {
				res, cap, rerr := reg.Register(fmt.Sprintf("seed-%d", seeds), in.ResourceType, in.Quantity, admin)
				require.NoError(t, rerr)
				seeds++
				caps[res.ID] = cap.ID
				tracked = append(tracked, res.ID)
				ids = []ir.ResourceID{res.ID}
			}
			for _, id := range ids {
				bindings = append(bindings, resource.Binding{Resource: id, Capability: caps[id]})
			}
		}

		result, root, err := reg.CommitEffect(e, bindings, admin)
		require.NoError(t, err)
		out.root = root
		for _, m := range result.Minted {
			caps[m.Resource.ID] = m.Capability.ID
			tracked = append(tracked, m.Resource.ID)
		}
	}

	for _, id := range tracked {
		res, state, ok := reg.Get(id)
		if ok && state == ir.Live {
			out.live[res.ResourceType] += res.Quantity
		}
	}
	return out
}

// executionOrder walks effect nodes respecting before and depends edges.
func executionOrder(t *testing.T, g *teg.Graph) []teg.Node {
	t.Helper()

	effects := g.Effects()
	known := make(map[ir.NodeID]bool, len(effects))
	for _, n := range effects {
		known[n.ID] = true
	}

	prereqs := make(map[ir.NodeID][]ir.NodeID)
	for _, e := range g.Edges() {
		if !known[e.Source] || !known[e.Target] {
			continue
		}
		switch e.Kind {
		case teg.EdgeBefore:
			prereqs[e.Target] = append(prereqs[e.Target], e.Source)
		case teg.EdgeDepends:
			prereqs[e.Source] = append(prereqs[e.Source], e.Target)
		}
	}

	var order []teg.Node
	done := make(map[ir.NodeID]bool, len(effects))
	for len(order) < len(effects) {
		progressed := false
		for _, n := range effects {
			if done[n.ID] {
				continue
			}
			ready := true
			for _, p := range prereqs[n.ID] {
				if !done[p] {
					ready = false
					break
				}
			}
			if ready {
				order = append(order, n)
				done[n.ID] = true
				progressed = true
			}
		}
		require.True(t, progressed, "effect ordering stuck on a cycle")
	}
	return order
}

func runPass(t *testing.T, g *teg.Graph, passes ...Optimization) *teg.Graph {
	t.Helper()
	optimized := g.Clone()
	p, err := NewPipeline(Config{}, passes...)
	require.NoError(t, err)
	_, err = p.Run(optimized)
	require.NoError(t, err)
	return optimized
}

func TestDeadEffectElimination_SettlesIdentically(t *testing.T) {
	dead := effect(t, "noop", "core.read", nil, nil)
	spend := effect(t, "spend", "core.consume", tokenFlow(3), tokenFlow(3))

	g := teg.NewGraph()
	g.AddNode(teg.EffectNode(dead))
	g.AddNode(teg.EffectNode(spend))
	g.AddEdge(teg.Edge{Source: ir.NodeID(dead.ID), Target: ir.NodeID(spend.ID), Kind: teg.EdgeBefore})

	optimized := runPass(t, g, NewDeadEffectElimination())
	require.Equal(t, 1, optimized.Len())

	before := settleGraph(t, g)
	after := settleGraph(t, optimized)

	// Flowless effects stage nothing, so the commit histories are the
	// same trace and the roots match exactly.
	assert.Equal(t, before.root, after.root)
	assert.Equal(t, before.live, after.live)
}

func TestConstantFolding_SettlesIdentically(t *testing.T) {
	expr := ir.App("add", ir.Int(2), ir.App("mul", ir.Int(3), ir.Int(4)))
	exprID, err := ir.ComputeExprID(expr)
	require.NoError(t, err)

	e := effect(t, "calc", "core.read", tokenFlow(1), tokenFlow(1))
	e.Expression = exprID
	e.ID = ir.EffectID{}
	id, err := ir.ComputeEffectID(e)
	require.NoError(t, err)
	e.ID = id

	g := teg.NewGraph()
	g.AddNode(teg.EffectNode(e))
	g.AddExpr(exprID, expr)

	optimized := runPass(t, g, NewConstantFolding())

	before := settleGraph(t, g)
	after := settleGraph(t, optimized)

	// The folded expression evaluates to the same value and the resource
	// state ends up identical.
	assert.Equal(t, before.values, after.values)
	assert.Equal(t, before.live, after.live)
}

func TestAccessCoalescing_SettlesIdentically(t *testing.T) {
	r1 := effect(t, "read-1", "core.read", tokenFlow(2), tokenFlow(2))
	r2 := effect(t, "read-2", "core.read", tokenFlow(2), tokenFlow(2))

	g := teg.NewGraph()
	g.AddNode(teg.EffectNode(r1))
	g.AddNode(teg.EffectNode(r2))
	g.AddEdge(teg.Edge{Source: ir.NodeID(r1.ID), Target: ir.NodeID(r2.ID), Kind: teg.EdgeBefore})

	optimized := runPass(t, g, NewAccessCoalescing())
	require.Equal(t, 1, optimized.Len())

	before := settleGraph(t, g)
	after := settleGraph(t, optimized)

	// Coalescing drops the intermediate read, so fewer nullifiers are
	// emitted, but the spendable state is indistinguishable.
	assert.Equal(t, before.live, after.live)
}

func TestDefaultPipeline_SettlesIdentically(t *testing.T) {
	expr := ir.App("add", ir.Int(20), ir.Int(22))
	exprID, err := ir.ComputeExprID(expr)
	require.NoError(t, err)

	calc := effect(t, "calc", "core.compute", tokenFlow(5), tokenFlow(5))
	calc.Expression = exprID
	calc.ID = ir.EffectID{}
	id, err := ir.ComputeEffectID(calc)
	require.NoError(t, err)
	calc.ID = id

	recheck := effect(t, "recheck", "core.read", tokenFlow(5), tokenFlow(5))
	dead := effect(t, "noop", "core.read", nil, nil)
	spend := effect(t, "spend", "core.consume", tokenFlow(5), tokenFlow(5))

	g := teg.NewGraph()
	g.AddExpr(exprID, expr)
	for _, e := range []ir.Effect{calc, recheck, dead, spend} {
		g.AddNode(teg.EffectNode(e))
	}
	g.AddEdge(teg.Edge{Source: ir.NodeID(calc.ID), Target: ir.NodeID(recheck.ID), Kind: teg.EdgeBefore})
	g.AddEdge(teg.Edge{Source: ir.NodeID(recheck.ID), Target: ir.NodeID(spend.ID), Kind: teg.EdgeBefore})

	optimized := g.Clone()
	p, err := Default(Config{})
	require.NoError(t, err)
	_, err = p.Run(optimized)
	require.NoError(t, err)
	require.Less(t, optimized.Len(), g.Len())

	before := settleGraph(t, g)
	after := settleGraph(t, optimized)

	assert.Equal(t, before.values, after.values)
	assert.Equal(t, before.live, after.live)
}

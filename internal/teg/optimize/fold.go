package optimize

import (
	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/teg"
)

// ConstantFolding evaluates closed pure expressions (no free variables)
// attached to the graph and replaces them with their literal results.
// Effects referencing a folded expression are rewritten to point at the
// folded body's id.
type ConstantFolding struct{}

// NewConstantFolding creates the pass.
func NewConstantFolding() *ConstantFolding { return &ConstantFolding{} }

func (*ConstantFolding) Name() string                     { return "constant-folding" }
func (*ConstantFolding) PreservesAdjunction() bool        { return true }
func (*ConstantFolding) PreservesResourceStructure() bool { return true }

// Apply implements Optimization.
func (*ConstantFolding) Apply(g *teg.Graph, _ Config) (bool, error) {
	changed := false
	for _, id := range g.Exprs() {
		body, _ := g.Expr(id)
		if !closed(body) || !ir.IsApplication(body) {
			continue
		}
		folded, err := ir.EvalExpr(body, ir.Obj{})
		if err != nil {
			// Expressions that fail closed evaluation fold at run time
			// instead.
			continue
		}
		foldedID, err := ir.ComputeExprID(folded)
		if err != nil {
			return changed, err
		}
		if foldedID == id {
			continue
		}

		g.RemoveExpr(id)
		g.AddExpr(foldedID, folded)
		for _, n := range g.Effects() {
			if n.Effect.Expression != id {
				continue
			}
			e := *n.Effect
			e.Expression = foldedID
			if _, err := g.ReplaceEffect(n.ID, e); err != nil {
				return changed, err
			}
		}
		changed = true
	}
	return changed, nil
}

// closed reports whether the expression contains no variable references.
func closed(v ir.Value) bool {
	switch x := v.(type) {
	case ir.Obj:
		if op, ok := x["op"].(ir.Str); ok && op == "var" {
			return false
		}
		for _, sub := range x {
			if !closed(sub) {
				return false
			}
		}
		return true
	case ir.Arr:
		for _, sub := range x {
			if !closed(sub) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

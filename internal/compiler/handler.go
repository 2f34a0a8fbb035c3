package compiler

import (
	"fmt"

	"github.com/telic-run/telic/internal/eff"
	"github.com/telic-run/telic/internal/ir"
)

// Handler materializes the declaration as a registrable handler record.
// The content id covers the declared expression, so two domains declaring
// the same handler body produce per-domain ids.
func (d HandlerDecl) Handler(domain ir.DomainID, timestamp int64) (ir.Handler, error) {
	h := ir.Handler{
		Name:        d.Name,
		DomainID:    domain,
		HandlesType: d.HandlesType,
		Priority:    d.Priority,
		Timestamp:   timestamp,
	}
	if d.Expression != nil {
		exprID, err := ir.ComputeExprID(d.Expression)
		if err != nil {
			return ir.Handler{}, fmt.Errorf("handler %q: %w", d.Name, err)
		}
		h.Expression = exprID
	}
	id, err := ir.ComputeHandlerID(h)
	if err != nil {
		return ir.Handler{}, fmt.Errorf("handler %q: %w", d.Name, err)
	}
	h.ID = id
	return h, nil
}

// Transformer builds the runtime transformation the declaration describes.
// Rewrite declarations lower one effect type onto another; expression
// declarations replace the effect with a pure body evaluated over the
// perform payload. The payload's object fields are bound as variables, and
// effect_type is always bound.
func (d HandlerDecl) Transformer() (eff.Transformer, error) {
	if d.Rewrite != "" && d.Expression != nil {
		return nil, fmt.Errorf("handler %q: declares both rewrite and expression", d.Name)
	}
	if d.Rewrite != "" {
		return eff.RewriteTransformer{From: d.HandlesType, To: d.Rewrite}, nil
	}
	if d.Expression == nil {
		return nil, fmt.Errorf("handler %q: declares neither rewrite nor expression", d.Name)
	}

	expr := d.Expression
	return eff.FuncTransformer{
		Type: d.HandlesType,
		Fn: func(e ir.Effect, payload ir.Value) (eff.Expr, error) {
			env := ir.Obj{"effect_type": ir.Str(e.EffectType)}
			if obj, ok := payload.(ir.Obj); ok {
				for k, v := range obj {
					env[k] = v
				}
			} else if payload != nil {
				env["payload"] = payload
			}
			result, err := ir.EvalExpr(expr, env)
			if err != nil {
				return nil, fmt.Errorf("handler %q: %w", d.Name, err)
			}
			return eff.NewPure(result), nil
		},
	}, nil
}

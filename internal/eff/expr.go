package eff

import "github.com/telic-run/telic/internal/ir"

// Expr is a node of the effect IR. The interpreter never recurses into an
// Expr on the host stack; evaluation is driven by an explicit frame stack.
type Expr interface {
	isExpr()
}

// Pure lifts a value into the IR.
type Pure struct {
	Value ir.Value
}

// Bind sequences Source and feeds its result to the continuation K.
// K is the defunctionalized continuation boundary: evaluating it costs a
// suspension point.
type Bind struct {
	Source Expr
	K      func(ir.Value) Expr
}

// Perform requests an effect. Scoped handlers, then registered handlers, get
// a chance to rewrite it; core.* effects with no handler stage directly
// against the domain.
type Perform struct {
	Effect  ir.Effect
	Payload ir.Value
}

// Handle scopes a handler over Body: every Perform inside Body whose effect
// type the handler handles is rewritten by it. The scope is deep, covering
// effects performed by the handler's own output.
type Handle struct {
	Body    Expr
	Handler Transformer
}

// Parallel evaluates all branches and commits their effects jointly in one
// batch. The result is the array of branch results in branch order.
type Parallel struct {
	Branches []Expr
}

// Race evaluates all branches in deterministic lock-step; the first branch
// to finish wins and only its effects commit. Losing branches stop at their
// next suspension point and their staged work is discarded.
type Race struct {
	Branches []Expr
}

func (*Pure) isExpr()     {}
func (*Bind) isExpr()     {}
func (*Perform) isExpr()  {}
func (*Handle) isExpr()   {}
func (*Parallel) isExpr() {}
func (*Race) isExpr()     {}

// NewPure builds a Pure node.
func NewPure(v ir.Value) *Pure { return &Pure{Value: v} }

// NewBind builds a Bind node.
func NewBind(source Expr, k func(ir.Value) Expr) *Bind {
	return &Bind{Source: source, K: k}
}

// NewPerform builds a Perform node.
func NewPerform(e ir.Effect, payload ir.Value) *Perform {
	return &Perform{Effect: e, Payload: payload}
}

// NewHandle scopes h over body.
func NewHandle(body Expr, h Transformer) *Handle {
	return &Handle{Body: body, Handler: h}
}

// NewParallel builds a Parallel node.
func NewParallel(branches ...Expr) *Parallel {
	return &Parallel{Branches: branches}
}

// NewRace builds a Race node.
func NewRace(branches ...Expr) *Race {
	return &Race{Branches: branches}
}

// Transformer rewrites effects of one type into replacement expressions.
// Handlers are natural transformations: the rewrite may perform other
// effects and ends in a pure continuation.
type Transformer interface {
	HandlesType() string
	Transform(e ir.Effect, payload ir.Value) (Expr, error)
}

// FuncTransformer adapts a function to the Transformer interface.
type FuncTransformer struct {
	Type string
	Fn   func(e ir.Effect, payload ir.Value) (Expr, error)
}

// HandlesType implements Transformer.
func (t FuncTransformer) HandlesType() string { return t.Type }

// Transform implements Transformer.
func (t FuncTransformer) Transform(e ir.Effect, payload ir.Value) (Expr, error) {
	return t.Fn(e, payload)
}

// RewriteTransformer rewrites effects of type From into identical effects of
// type To, re-performed under the same payload. This is how domain-specific
// tags lower onto the core effect set.
type RewriteTransformer struct {
	From string
	To   string
}

// HandlesType implements Transformer.
func (t RewriteTransformer) HandlesType() string { return t.From }

// Transform implements Transformer.
func (t RewriteTransformer) Transform(e ir.Effect, payload ir.Value) (Expr, error) {
	rewritten := e
	rewritten.EffectType = t.To
	rewritten.ID = ir.EffectID{}
	id, err := ir.ComputeEffectID(rewritten)
	if err != nil {
		return nil, err
	}
	rewritten.ID = id
	return NewPerform(rewritten, payload), nil
}

package eff

import (
	"context"
	"log/slog"
	"strings"

	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/smt"
)

// Staged is one effect recorded during evaluation, pending commit.
type Staged struct {
	Effect  ir.Effect
	Payload ir.Value
}

// CommitReceipt is what a committer reports back after landing a batch.
type CommitReceipt struct {
	Root       smt.Hash
	Nullifiers []ir.Nullifier
	Minted     []ir.Resource
}

// Committer lands a batch of staged effects atomically under one new root.
// The empty batch must succeed and change nothing.
type Committer interface {
	Commit(staged []Staged) (CommitReceipt, error)
}

// Result is the outcome of one execution.
type Result struct {
	Value   ir.Value
	GasUsed uint64
	Receipt CommitReceipt
}

// Interp evaluates effect expressions against a domain's handler registry
// and committer.
type Interp struct {
	handlers  *HandlerRegistry
	committer Committer
	gasBudget uint64
	log       *slog.Logger
}

// InterpOption configures an interpreter.
type InterpOption func(*Interp)

// WithGasBudget sets the per-execution gas budget.
func WithGasBudget(budget uint64) InterpOption {
	return func(i *Interp) { i.gasBudget = budget }
}

// WithInterpLogger sets the structured logger.
func WithInterpLogger(log *slog.Logger) InterpOption {
	return func(i *Interp) { i.log = log }
}

// NewInterp creates an interpreter. committer may be nil for pure
// evaluations; staging an effect without a committer is an error at commit.
func NewInterp(handlers *HandlerRegistry, committer Committer, opts ...InterpOption) *Interp {
	i := &Interp{
		handlers:  handlers,
		committer: committer,
		gasBudget: DefaultGasBudget,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// frame is one entry of the explicit continuation stack.
type frame interface {
	isFrame()
}

// bindFrame resumes a Bind continuation with the produced value.
type bindFrame struct {
	k func(ir.Value) Expr
}

// handleFrame scopes a handler over everything evaluated above it.
type handleFrame struct {
	h Transformer
}

func (*bindFrame) isFrame()   {}
func (*handleFrame) isFrame() {}

// machine is the state of one evaluation strand: the control expression or
// produced value, the frame stack, and the strand's staged effects. Strands
// created by Parallel and Race share the meter but stage privately, which is
// what makes losing race branches invisible.
type machine struct {
	control Expr
	value   ir.Value
	stack   []frame
	txn     []Staged
	done    bool
}

func newMachine(expr Expr) *machine {
	return &machine{control: expr}
}

// produce switches the machine from evaluating to returning.
func (m *machine) produce(v ir.Value) {
	m.control = nil
	m.value = v
}

// Execute evaluates expr to completion and commits its staged effects as
// one atomic batch. Every suspension point checks ctx.
func (i *Interp) Execute(ctx context.Context, expr Expr) (Result, error) {
	meter := NewMeter(i.gasBudget)
	m := newMachine(expr)

	for !m.done {
		if err := i.step(ctx, m, meter); err != nil {
			return Result{GasUsed: meter.Used()}, err
		}
	}

	receipt := CommitReceipt{}
	if len(m.txn) > 0 {
		if i.committer == nil {
			return Result{GasUsed: meter.Used()}, &RuntimeError{
				Code:    ErrCodeBadExpr,
				Message: "effects staged but no committer configured",
			}
		}
		var err error
		receipt, err = i.committer.Commit(m.txn)
		if err != nil {
			return Result{GasUsed: meter.Used()}, err
		}
	}

	i.log.Debug("execution finished",
		"gas_used", meter.Used(),
		"staged", len(m.txn))
	return Result{Value: m.value, GasUsed: meter.Used(), Receipt: receipt}, nil
}

// step performs exactly one machine transition.
func (i *Interp) step(ctx context.Context, m *machine, meter *Meter) error {
	if err := ctx.Err(); err != nil {
		return &RuntimeError{Code: ErrCodeCancelled, Message: "execution cancelled", Err: err}
	}

	switch c := m.control.(type) {
	case nil:
		// Returning a value: pop one frame.
		if len(m.stack) == 0 {
			m.done = true
			return nil
		}
		top := m.stack[len(m.stack)-1]
		m.stack = m.stack[:len(m.stack)-1]
		switch f := top.(type) {
		case *bindFrame:
			m.control = f.k(m.value)
			if m.control == nil {
				return &RuntimeError{Code: ErrCodeBadExpr, Message: "bind continuation returned nil"}
			}
		case *handleFrame:
			// Scope ends; the value passes through.
		}
		return nil

	case *Pure:
		if err := meter.Charge(CostPure); err != nil {
			return err
		}
		if c.Value == nil {
			m.produce(ir.Null{})
		} else {
			m.produce(c.Value)
		}
		return nil

	case *Bind:
		if err := meter.Charge(CostBind); err != nil {
			return err
		}
		m.stack = append(m.stack, &bindFrame{k: c.K})
		m.control = c.Source
		return nil

	case *Handle:
		if err := meter.Charge(CostHandle); err != nil {
			return err
		}
		m.stack = append(m.stack, &handleFrame{h: c.Handler})
		m.control = c.Body
		return nil

	case *Perform:
		if err := meter.Charge(CostPerform); err != nil {
			return err
		}
		return i.perform(m, c)

	case *Parallel:
		if err := meter.Charge(CostFork); err != nil {
			return err
		}
		return i.runParallel(ctx, m, c, meter)

	case *Race:
		if err := meter.Charge(CostFork); err != nil {
			return err
		}
		return i.runRace(ctx, m, c, meter)

	default:
		return &RuntimeError{Code: ErrCodeBadExpr, Message: "unknown expression node"}
	}
}

// perform dispatches an effect: innermost matching scoped handler first,
// then the domain registry, then the core implementations.
func (i *Interp) perform(m *machine, c *Perform) error {
	for idx := len(m.stack) - 1; idx >= 0; idx-- {
		hf, ok := m.stack[idx].(*handleFrame)
		if !ok || hf.h.HandlesType() != c.Effect.EffectType {
			continue
		}
		next, err := hf.h.Transform(c.Effect, c.Payload)
		if err != nil {
			return &RuntimeError{Code: ErrCodeBadExpr, Message: "handler transform failed", EffectType: c.Effect.EffectType, Err: err}
		}
		m.control = next
		return nil
	}

	if t, h, ok := i.handlers.Resolve(c.Effect.EffectType); ok {
		next, err := t.Transform(c.Effect, c.Payload)
		if err != nil {
			return &RuntimeError{Code: ErrCodeBadExpr, Message: "handler transform failed", EffectType: c.Effect.EffectType, Err: err}
		}
		i.log.Debug("effect dispatched",
			"effect_type", c.Effect.EffectType,
			"handler", ir.ShortHex(h.ID))
		m.control = next
		return nil
	}

	if IsCoreEffect(c.Effect.EffectType) {
		m.txn = append(m.txn, Staged{Effect: c.Effect, Payload: c.Payload})
		m.produce(ir.Obj{
			"effect": ir.Str(ir.Hex(c.Effect.ID)),
			"staged": ir.Int(int64(len(m.txn))),
		})
		return nil
	}

	return &RuntimeError{
		Code:       ErrCodeUnhandledEffect,
		Message:    "no handler matches",
		EffectType: c.Effect.EffectType,
	}
}

// IsCoreEffect reports whether the effect type belongs to the built-in core
// set the domain itself implements.
func IsCoreEffect(effectType string) bool {
	return strings.HasPrefix(effectType, "core.")
}

// runParallel steps every branch in deterministic round-robin until all
// finish, then appends all branch transactions to the parent in branch
// order. The result is the array of branch values.
func (i *Interp) runParallel(ctx context.Context, m *machine, c *Parallel, meter *Meter) error {
	subs := make([]*machine, len(c.Branches))
	for idx, b := range c.Branches {
		subs[idx] = newMachine(b)
	}

	for {
		allDone := true
		for _, sub := range subs {
			if sub.done {
				continue
			}
			allDone = false
			if err := i.step(ctx, sub, meter); err != nil {
				return err
			}
		}
		if allDone {
			break
		}
	}

	values := make(ir.Arr, len(subs))
	for idx, sub := range subs {
		values[idx] = sub.value
		m.txn = append(m.txn, sub.txn...)
	}
	m.produce(values)
	return nil
}

// runRace steps every branch in deterministic round-robin until one
// finishes; ties inside a round go to the lowest branch index. Only the
// winner's transaction joins the parent; losers stop at their current
// suspension point and their staged work is dropped.
func (i *Interp) runRace(ctx context.Context, m *machine, c *Race, meter *Meter) error {
	if len(c.Branches) == 0 {
		return &RuntimeError{Code: ErrCodeBadExpr, Message: "race needs at least one branch"}
	}
	subs := make([]*machine, len(c.Branches))
	for idx, b := range c.Branches {
		subs[idx] = newMachine(b)
	}

	for {
		for idx, sub := range subs {
			if sub.done {
				continue
			}
			if err := i.step(ctx, sub, meter); err != nil {
				return err
			}
			if sub.done {
				i.log.Debug("race settled", "winner", idx)
				m.txn = append(m.txn, sub.txn...)
				m.produce(sub.value)
				return nil
			}
		}
	}
}

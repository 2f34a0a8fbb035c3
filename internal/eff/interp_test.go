package eff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/resource"
	"github.com/telic-run/telic/internal/smt"
	"github.com/telic-run/telic/internal/testutil"
)

func testDomain() ir.DomainID { return ir.NewDomainID("test-domain") }

func newTestRegistry(t *testing.T) *resource.Registry {
	t.Helper()
	return resource.NewRegistry(testDomain(), smt.NewTree(smt.NewMemoryStore()), testutil.NewDeterministicClock())
}

func testEffect(t *testing.T, effectType string, inputs, outputs []ir.ResourceFlow) ir.Effect {
	t.Helper()
	e := ir.Effect{
		Name:       "test-" + effectType,
		DomainID:   testDomain(),
		EffectType: effectType,
		Inputs:     inputs,
		Outputs:    outputs,
		Timestamp:  1,
	}
	id, err := ir.ComputeEffectID(e)
	require.NoError(t, err)
	e.ID = id
	return e
}

func consumeEffect(t *testing.T, reg *resource.Registry, res ir.Resource) ir.Effect {
	t.Helper()
	flow := []ir.ResourceFlow{{ResourceType: res.ResourceType, Quantity: res.Quantity, DomainID: reg.Domain()}}
	return testEffect(t, "core.consume", flow, flow)
}

func TestExecutePure(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil)

	res, err := interp.Execute(context.Background(), NewPure(ir.Int(42)))
	require.NoError(t, err)
	assert.Equal(t, ir.Int(42), res.Value)
	assert.Equal(t, CostPure, res.GasUsed)
}

func TestExecuteBindChain(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil)

	expr := NewBind(NewPure(ir.Int(1)), func(v ir.Value) Expr {
		n := v.(ir.Int)
		return NewBind(NewPure(n+1), func(v ir.Value) Expr {
			return NewPure(v.(ir.Int) * 10)
		})
	})
	res, err := interp.Execute(context.Background(), expr)
	require.NoError(t, err)
	assert.Equal(t, ir.Int(20), res.Value)
}

func TestExecuteDeterministic(t *testing.T) {
	build := func() Expr {
		return NewParallel(
			NewBind(NewPure(ir.Int(1)), func(v ir.Value) Expr { return NewPure(v) }),
			NewPure(ir.Str("b")),
			NewRace(NewPure(ir.Int(7)), NewPure(ir.Int(8))),
		)
	}

	interp := NewInterp(NewHandlerRegistry(), nil)
	first, err := interp.Execute(context.Background(), build())
	require.NoError(t, err)
	second, err := interp.Execute(context.Background(), build())
	require.NoError(t, err)

	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, first.GasUsed, second.GasUsed)
}

func TestExecuteOutOfGas(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil, WithGasBudget(3))

	// Bind + Pure + Bind already exceeds a budget of 3.
	expr := NewBind(NewPure(ir.Int(1)), func(v ir.Value) Expr {
		return NewBind(NewPure(v), func(v ir.Value) Expr {
			return NewPure(v)
		})
	})
	res, err := interp.Execute(context.Background(), expr)
	require.Error(t, err)
	assert.True(t, IsOutOfGas(err))
	assert.Equal(t, uint64(3), res.GasUsed)
}

func TestExecuteCancelled(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := interp.Execute(ctx, NewPure(ir.Int(1)))
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
}

func TestExecuteUnhandledEffect(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil)

	e := testEffect(t, "exotic.zap", nil, nil)
	_, err := interp.Execute(context.Background(), NewPerform(e, ir.Null{}))
	require.Error(t, err)
	assert.True(t, IsUnhandledEffect(err))

	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "exotic.zap", re.EffectType)
}

func TestScopedHandlerShadowsRegistry(t *testing.T) {
	handlers := NewHandlerRegistry()
	h := ir.Handler{Name: "registry", DomainID: testDomain(), HandlesType: "app.greet", Priority: 1, Timestamp: 1}
	id, err := ir.ComputeHandlerID(h)
	require.NoError(t, err)
	h.ID = id
	require.NoError(t, handlers.Register(h, FuncTransformer{
		Type: "app.greet",
		Fn: func(e ir.Effect, payload ir.Value) (Expr, error) {
			return NewPure(ir.Str("from registry")), nil
		},
	}, ir.CapabilityID{}))

	interp := NewInterp(handlers, nil)
	e := testEffect(t, "app.greet", nil, nil)

	// Without a scope the registry handler wins.
	res, err := interp.Execute(context.Background(), NewPerform(e, ir.Null{}))
	require.NoError(t, err)
	assert.Equal(t, ir.Str("from registry"), res.Value)

	// A scoped handler is innermost and shadows it.
	scoped := FuncTransformer{
		Type: "app.greet",
		Fn: func(e ir.Effect, payload ir.Value) (Expr, error) {
			return NewPure(ir.Str("from scope")), nil
		},
	}
	res, err = interp.Execute(context.Background(), NewHandle(NewPerform(e, ir.Null{}), scoped))
	require.NoError(t, err)
	assert.Equal(t, ir.Str("from scope"), res.Value)
}

func TestInnermostScopeWins(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil)
	e := testEffect(t, "app.greet", nil, nil)

	outer := FuncTransformer{Type: "app.greet", Fn: func(e ir.Effect, p ir.Value) (Expr, error) {
		return NewPure(ir.Str("outer")), nil
	}}
	inner := FuncTransformer{Type: "app.greet", Fn: func(e ir.Effect, p ir.Value) (Expr, error) {
		return NewPure(ir.Str("inner")), nil
	}}

	expr := NewHandle(NewHandle(NewPerform(e, ir.Null{}), inner), outer)
	res, err := interp.Execute(context.Background(), expr)
	require.NoError(t, err)
	assert.Equal(t, ir.Str("inner"), res.Value)
}

func TestUnhandledEffectPropagatesToOuterScope(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil)
	e := testEffect(t, "app.greet", nil, nil)

	outer := FuncTransformer{Type: "app.greet", Fn: func(e ir.Effect, p ir.Value) (Expr, error) {
		return NewPure(ir.Str("outer")), nil
	}}
	other := FuncTransformer{Type: "app.other", Fn: func(e ir.Effect, p ir.Value) (Expr, error) {
		return NewPure(ir.Str("other")), nil
	}}

	// Inner scope handles a different type, so the effect passes through
	// to the outer scope.
	expr := NewHandle(NewHandle(NewPerform(e, ir.Null{}), other), outer)
	res, err := interp.Execute(context.Background(), expr)
	require.NoError(t, err)
	assert.Equal(t, ir.Str("outer"), res.Value)
}

func TestHandlerRewriteReperforms(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil)
	e := testEffect(t, "app.log", nil, nil)

	sink := FuncTransformer{Type: "core.write", Fn: func(e ir.Effect, p ir.Value) (Expr, error) {
		return NewPure(ir.Str("written")), nil
	}}
	lower := RewriteTransformer{From: "app.log", To: "core.write"}

	// app.log lowers to core.write, which the next scope out intercepts.
	expr := NewHandle(NewHandle(NewPerform(e, ir.Null{}), lower), sink)
	res, err := interp.Execute(context.Background(), expr)
	require.NoError(t, err)
	assert.Equal(t, ir.Str("written"), res.Value)
}

func TestStagedWithoutCommitterFails(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil)
	e := testEffect(t, "core.note", nil, nil)

	_, err := interp.Execute(context.Background(), NewPerform(e, ir.Null{}))
	require.Error(t, err)
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeBadExpr, re.Code)
}

func TestExecuteCommitsStagedEffects(t *testing.T) {
	reg := newTestRegistry(t)
	alice := ir.NewIdentityID("alice")
	res, cap, err := reg.Register("vault", "token", 10, alice)
	require.NoError(t, err)

	committer := &RegistryCommitter{Registry: reg, Owner: alice}
	interp := NewInterp(NewHandlerRegistry(), committer)

	e := consumeEffect(t, reg, res)
	payload := BindingsPayload([]resource.Binding{{Resource: res.ID, Capability: cap.ID}})

	result, err := interp.Execute(context.Background(), NewPerform(e, payload))
	require.NoError(t, err)
	require.Len(t, result.Receipt.Nullifiers, 1)
	assert.Equal(t, reg.Tree().Root(), result.Receipt.Root)

	_, state, ok := reg.Get(res.ID)
	require.True(t, ok)
	assert.Equal(t, ir.Consumed, state)
}

func TestParallelCommitsUnderOneRoot(t *testing.T) {
	reg := newTestRegistry(t)
	alice := ir.NewIdentityID("alice")
	resA, capA, err := reg.Register("a", "token", 10, alice)
	require.NoError(t, err)
	resB, capB, err := reg.Register("b", "gem", 5, alice)
	require.NoError(t, err)

	committer := &RegistryCommitter{Registry: reg, Owner: alice}
	interp := NewInterp(NewHandlerRegistry(), committer)

	rootBefore := reg.Tree().Root()
	expr := NewParallel(
		NewPerform(consumeEffect(t, reg, resA), BindingsPayload([]resource.Binding{{Resource: resA.ID, Capability: capA.ID}})),
		NewPerform(consumeEffect(t, reg, resB), BindingsPayload([]resource.Binding{{Resource: resB.ID, Capability: capB.ID}})),
	)
	result, err := interp.Execute(context.Background(), expr)
	require.NoError(t, err)

	// Both consumptions landed in one commit: exactly one root transition.
	assert.NotEqual(t, rootBefore, result.Receipt.Root)
	assert.Equal(t, reg.Tree().Root(), result.Receipt.Root)
	assert.Len(t, result.Receipt.Nullifiers, 2)

	_, stateA, _ := reg.Get(resA.ID)
	_, stateB, _ := reg.Get(resB.ID)
	assert.Equal(t, ir.Consumed, stateA)
	assert.Equal(t, ir.Consumed, stateB)
}

func TestParallelDoubleSpendAbortsWhole(t *testing.T) {
	reg := newTestRegistry(t)
	alice := ir.NewIdentityID("alice")
	res, cap, err := reg.Register("vault", "token", 10, alice)
	require.NoError(t, err)

	committer := &RegistryCommitter{Registry: reg, Owner: alice}
	interp := NewInterp(NewHandlerRegistry(), committer)

	rootBefore := reg.Tree().Root()
	binding := BindingsPayload([]resource.Binding{{Resource: res.ID, Capability: cap.ID}})
	expr := NewParallel(
		NewPerform(consumeEffect(t, reg, res), binding),
		NewPerform(consumeEffect(t, reg, res), binding),
	)
	_, err = interp.Execute(context.Background(), expr)
	require.Error(t, err)
	assert.True(t, resource.IsLocked(err))

	// Neither branch committed.
	assert.Equal(t, rootBefore, reg.Tree().Root())
	_, state, _ := reg.Get(res.ID)
	assert.Equal(t, ir.Live, state)
}

func TestRaceWinnerOnlyCommits(t *testing.T) {
	reg := newTestRegistry(t)
	alice := ir.NewIdentityID("alice")
	resA, capA, err := reg.Register("a", "token", 10, alice)
	require.NoError(t, err)
	resB, capB, err := reg.Register("b", "gem", 5, alice)
	require.NoError(t, err)

	committer := &RegistryCommitter{Registry: reg, Owner: alice}
	interp := NewInterp(NewHandlerRegistry(), committer)

	// Branch 0 stages and finishes first; branch 1 would stage a second
	// consumption but loses the race.
	expr := NewRace(
		NewPerform(consumeEffect(t, reg, resA), BindingsPayload([]resource.Binding{{Resource: resA.ID, Capability: capA.ID}})),
		NewBind(NewPure(ir.Int(0)), func(v ir.Value) Expr {
			return NewPerform(consumeEffect(t, reg, resB), BindingsPayload([]resource.Binding{{Resource: resB.ID, Capability: capB.ID}}))
		}),
	)
	result, err := interp.Execute(context.Background(), expr)
	require.NoError(t, err)
	require.Len(t, result.Receipt.Nullifiers, 1)

	// The loser's resource is untouched.
	_, stateA, _ := reg.Get(resA.ID)
	_, stateB, _ := reg.Get(resB.ID)
	assert.Equal(t, ir.Consumed, stateA)
	assert.Equal(t, ir.Live, stateB)
}

func TestRaceTieGoesToLowestIndex(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil)

	expr := NewRace(NewPure(ir.Str("first")), NewPure(ir.Str("second")))
	res, err := interp.Execute(context.Background(), expr)
	require.NoError(t, err)
	assert.Equal(t, ir.Str("first"), res.Value)
}

func TestParallelResultOrder(t *testing.T) {
	interp := NewInterp(NewHandlerRegistry(), nil)

	// Branch 0 takes more steps than branch 2 but results stay in branch
	// order.
	expr := NewParallel(
		NewBind(NewPure(ir.Int(0)), func(v ir.Value) Expr { return NewPure(ir.Str("a")) }),
		NewPure(ir.Str("b")),
		NewPure(ir.Str("c")),
	)
	res, err := interp.Execute(context.Background(), expr)
	require.NoError(t, err)
	assert.Equal(t, ir.Arr{ir.Str("a"), ir.Str("b"), ir.Str("c")}, res.Value)
}

func TestSharedMeterAcrossBranches(t *testing.T) {
	// Two pure branches cost Fork + 2*Pure; a budget below that fails even
	// though each branch alone would fit.
	interp := NewInterp(NewHandlerRegistry(), nil, WithGasBudget(CostFork+CostPure))

	_, err := interp.Execute(context.Background(), NewParallel(NewPure(ir.Int(1)), NewPure(ir.Int(2))))
	require.Error(t, err)
	assert.True(t, IsOutOfGas(err))
}

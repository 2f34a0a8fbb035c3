package eff

import (
	"fmt"

	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/resource"
)

// ResourceView resolves declared flows against the live resource set. An
// implementation picks concrete resources covering each input flow exactly
// and pairs them with capabilities authorizing their consumption.
type ResourceView interface {
	BindFlows(flows []ir.ResourceFlow) ([]resource.Binding, error)
}

// CompileIntent lowers a declarative intent to an executable expression.
//
// The produced expression performs a single transform effect carrying the
// intent's flows and the resolved resource bindings as payload. The effect
// type is "<target>.transform" when the intent names a typed domain target,
// otherwise "core.transform". Non-core types must have a registered handler
// before compilation, so an intent never reaches execution only to die
// unhandled.
func CompileIntent(intent ir.Intent, view ResourceView, handlers *HandlerRegistry) (Expr, error) {
	if !conservedFlows(intent.Inputs, intent.Outputs) {
		return nil, &RuntimeError{
			Code:       ErrCodeIntentUnsatisfiable,
			Message:    "declared flows violate conservation",
			Constraint: "conservation",
		}
	}

	effectType := "core.transform"
	if intent.TargetTypedDomain != "" {
		effectType = intent.TargetTypedDomain + ".transform"
	}
	if !IsCoreEffect(effectType) {
		if _, _, ok := handlers.Resolve(effectType); !ok {
			return nil, &RuntimeError{
				Code:       ErrCodeIntentUnsatisfiable,
				Message:    "no handler registered for target typed domain",
				EffectType: effectType,
				Constraint: "handler:" + effectType,
			}
		}
	}

	var bindings []resource.Binding
	if len(intent.Inputs) > 0 {
		var err error
		bindings, err = view.BindFlows(intent.Inputs)
		if err != nil {
			return nil, &RuntimeError{
				Code:       ErrCodeIntentUnsatisfiable,
				Message:    "cannot bind input flows to live resources",
				Constraint: "inputs",
				Err:        err,
			}
		}
	}

	e := ir.Effect{
		Name:              intent.Name,
		DomainID:          intent.DomainID,
		EffectType:        effectType,
		Inputs:            intent.Inputs,
		Outputs:           intent.Outputs,
		Expression:        intent.Expression,
		IntentID:          intent.ID,
		TargetTypedDomain: intent.TargetTypedDomain,
		Timestamp:         intent.Timestamp,
	}
	id, err := ir.ComputeEffectID(e)
	if err != nil {
		return nil, &RuntimeError{Code: ErrCodeBadExpr, Message: "compute effect id", Err: err}
	}
	e.ID = id

	return NewPerform(e, BindingsPayload(bindings)), nil
}

func conservedFlows(inputs, outputs []ir.ResourceFlow) bool {
	e := ir.Effect{Inputs: inputs, Outputs: outputs}
	return e.Conserved()
}

// BindingsPayload encodes resource bindings as an effect payload.
func BindingsPayload(bindings []resource.Binding) ir.Value {
	arr := make(ir.Arr, len(bindings))
	for i, b := range bindings {
		arr[i] = ir.Obj{
			"resource":   ir.Str(ir.Hex(b.Resource)),
			"capability": ir.Str(ir.Hex(b.Capability)),
		}
	}
	return ir.Obj{"bindings": arr}
}

// ParseBindings decodes the bindings carried in an effect payload. A payload
// without a bindings field decodes to nil.
func ParseBindings(payload ir.Value) ([]resource.Binding, error) {
	obj, ok := payload.(ir.Obj)
	if !ok {
		return nil, nil
	}
	raw, ok := obj["bindings"]
	if !ok {
		return nil, nil
	}
	arr, ok := raw.(ir.Arr)
	if !ok {
		return nil, fmt.Errorf("parse bindings: expected array, got %T", raw)
	}
	bindings := make([]resource.Binding, 0, len(arr))
	for i, el := range arr {
		entry, ok := el.(ir.Obj)
		if !ok {
			return nil, fmt.Errorf("parse bindings: element %d is not an object", i)
		}
		resHex, ok := entry["resource"].(ir.Str)
		if !ok {
			return nil, fmt.Errorf("parse bindings: element %d missing resource", i)
		}
		capHex, ok := entry["capability"].(ir.Str)
		if !ok {
			return nil, fmt.Errorf("parse bindings: element %d missing capability", i)
		}
		resID, err := ir.ParseID[ir.ResourceID](string(resHex))
		if err != nil {
			return nil, fmt.Errorf("parse bindings: element %d: %w", i, err)
		}
		capID, err := ir.ParseID[ir.CapabilityID](string(capHex))
		if err != nil {
			return nil, fmt.Errorf("parse bindings: element %d: %w", i, err)
		}
		bindings = append(bindings, resource.Binding{Resource: resID, Capability: capID})
	}
	return bindings, nil
}

// Package harness runs conformance scenarios against a real domain. Each
// scenario gets a fresh in-memory store, a bootstrap capability, and its own
// single-writer loop; the trace is the domain's actual observer stream, not
// a reconstruction.
package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/telic-run/telic/internal/compiler"
	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/runtime"
	"github.com/telic-run/telic/internal/smt"
)

// TraceEvent is one observed runtime event.
type TraceEvent struct {
	Kind    string   `json:"kind"`
	Step    int64    `json:"step"`
	Payload ir.Value `json:"payload,omitempty"`
}

// IntentOutcome records how one flow step settled.
type IntentOutcome struct {
	Intent string `json:"intent"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Root   string `json:"root,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	Pass bool `json:"pass"`

	// Trace contains the domain's observer events in order.
	Trace []TraceEvent `json:"trace"`

	// Outcomes holds one entry per flow step.
	Outcomes []IntentOutcome `json:"outcomes"`

	// FinalRoot is the last committed root, empty if nothing committed.
	FinalRoot string `json:"final_root,omitempty"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Run executes a scenario against a fresh in-memory domain and returns the
// result. The domain's observer stream becomes the trace; assertions are
// evaluated against it.
func Run(scenario *Scenario) (*Result, error) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts := []runtime.DomainOption{runtime.WithLogger(log)}
	if scenario.Gas > 0 {
		opts = append(opts, runtime.WithGasBudget(scenario.Gas))
	}
	d := runtime.NewDomain(scenario.Domain, smt.NewMemoryStore(), smt.NewMemoryJournal(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, cancelSub := d.Observe(1024)
	defer cancelSub()

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run(ctx)
	}()

	admin := ir.NewIdentityID("harness/" + scenario.Name)
	auth, err := d.Bootstrap(admin)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	for i, h := range scenario.Handlers {
		if err := registerHandler(ctx, d, h, auth.ID); err != nil {
			return nil, fmt.Errorf("handlers[%d]: %w", i, err)
		}
	}

	for i, step := range scenario.Setup {
		if _, _, err := d.RegisterResource(step.Resource, step.Type, step.Quantity, admin); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		intent, err := buildIntent(d.ID(), step, int64(i+1))
		if err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}

		res, submitErr := d.SubmitIntent(ctx, intent, auth.ID)
		outcome := IntentOutcome{Intent: step.Intent}
		if submitErr != nil {
			outcome.Status = StatusFailed
			outcome.Error = submitErr.Error()
		} else {
			outcome.Status = StatusSettled
			// Pure settlements stage nothing and carry no root.
			if res.Root != (smt.Hash{}) {
				outcome.Root = res.Root.Hex()
				result.FinalRoot = outcome.Root
			}
		}
		result.Outcomes = append(result.Outcomes, outcome)

		checkExpect(result, i, step.Expect, outcome)
	}

	// Drain the trace: Stop makes the loop exit once the queue is empty,
	// which closes the hub and with it every subscriber channel.
	d.Stop()
	<-runDone
	for ev := range events {
		result.Trace = append(result.Trace, TraceEvent{
			Kind:    ev.Kind,
			Step:    ev.Step,
			Payload: ev.Payload,
		})
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

// checkExpect validates one flow step's outcome against its expect clause.
// A step without a clause must settle.
func checkExpect(result *Result, index int, expect *ExpectClause, outcome IntentOutcome) {
	want := StatusSettled
	if expect != nil {
		want = expect.Status
	}
	if outcome.Status != want {
		if outcome.Error != "" {
			result.AddError(fmt.Sprintf("flow[%d]: expected %s, got %s: %s", index, want, outcome.Status, outcome.Error))
		} else {
			result.AddError(fmt.Sprintf("flow[%d]: expected %s, got %s", index, want, outcome.Status))
		}
		return
	}
	if expect != nil && expect.Error != "" && !strings.Contains(outcome.Error, expect.Error) {
		result.AddError(fmt.Sprintf("flow[%d]: failure %q does not contain %q", index, outcome.Error, expect.Error))
	}
}

// registerHandler converts a handler step into a registrable declaration
// and pushes it through the domain's command loop.
func registerHandler(ctx context.Context, d *runtime.Domain, h HandlerStep, auth ir.CapabilityID) error {
	decl := compiler.HandlerDecl{
		Name:        h.Name,
		HandlesType: h.HandlesType,
		Priority:    h.Priority,
		Rewrite:     h.Rewrite,
	}
	if h.Expression != nil {
		expr, err := toIRValue(h.Expression)
		if err != nil {
			return fmt.Errorf("expression: %w", err)
		}
		decl.Expression = expr
	}

	transformer, err := decl.Transformer()
	if err != nil {
		return err
	}
	handler, err := decl.Handler(d.ID(), d.Clock().Next())
	if err != nil {
		return err
	}
	return d.RegisterHandler(ctx, handler, transformer, auth)
}

// buildIntent assembles the content-addressed intent for one flow step.
func buildIntent(domain ir.DomainID, step IntentStep, timestamp int64) (ir.Intent, error) {
	intent := ir.Intent{
		Name:              step.Intent,
		DomainID:          domain,
		Inputs:            declaredFlows(domain, step.Inputs),
		Outputs:           declaredFlows(domain, step.Outputs),
		TargetTypedDomain: step.Target,
		Timestamp:         timestamp,
	}
	id, err := ir.ComputeIntentID(intent)
	if err != nil {
		return ir.Intent{}, err
	}
	intent.ID = id
	return intent, nil
}

func declaredFlows(domain ir.DomainID, decls []FlowDecl) []ir.ResourceFlow {
	if len(decls) == 0 {
		return nil
	}
	flows := make([]ir.ResourceFlow, len(decls))
	for i, f := range decls {
		flows[i] = ir.ResourceFlow{
			ResourceType: f.Type,
			Quantity:     f.Quantity,
			DomainID:     domain,
			Burn:         f.Burn,
		}
	}
	return flows
}

// toIRValue converts YAML-parsed values to the runtime value model. Floats
// are rejected; YAML parses whole numbers as int so integral expressions
// survive the round trip.
func toIRValue(val any) (ir.Value, error) {
	switch v := val.(type) {
	case nil:
		return ir.Null{}, nil
	case string:
		return ir.Str(v), nil
	case int:
		return ir.Int(int64(v)), nil
	case int64:
		return ir.Int(v), nil
	case uint64:
		return ir.Int(int64(v)), nil
	case bool:
		return ir.Bool(v), nil
	case float64:
		if v == float64(int64(v)) {
			return ir.Int(int64(v)), nil
		}
		return nil, fmt.Errorf("floats are forbidden: %v", v)
	case []any:
		arr := make(ir.Arr, len(v))
		for i, elem := range v {
			converted, err := toIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = converted
		}
		return arr, nil
	case map[string]any:
		obj := make(ir.Obj, len(v))
		for key, elem := range v {
			converted, err := toIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			obj[key] = converted
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}

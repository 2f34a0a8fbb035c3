package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/telic-run/telic/internal/ir"
)

// snapshot reduces a result to its replay-stable shape: the ordered event
// kinds and the per-step outcomes. Logical steps, roots and payloads carry
// hashes and are deliberately left out so goldens survive encoding changes.
func snapshot(scenarioName string, result *Result) (ir.Obj, error) {
	kinds := make(ir.Arr, len(result.Trace))
	for i, ev := range result.Trace {
		kinds[i] = ir.Str(ev.Kind)
	}
	outcomes := make(ir.Arr, len(result.Outcomes))
	for i, o := range result.Outcomes {
		entry := ir.Obj{
			"intent": ir.Str(o.Intent),
			"status": ir.Str(o.Status),
		}
		outcomes[i] = entry
	}
	return ir.Obj{
		"scenario": ir.Str(scenarioName),
		"events":   kinds,
		"outcomes": outcomes,
	}, nil
}

// RunWithGolden executes a scenario and compares its trace snapshot against
// the golden file in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	snap, err := snapshot(scenario.Name, result)
	if err != nil {
		return nil, err
	}
	data, err := ir.MarshalCanonical(snap)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)

	return result, nil
}

package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenarioValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transfer.yaml")

	content := `
name: transfer
description: "Conserved token transfer"
domain: bank
setup:
  - resource: alice
    type: bank.token
    quantity: 100
flow:
  - intent: transfer
    inputs:
      - type: bank.token
        quantity: 100
    outputs:
      - type: bank.token
        quantity: 100
assertions:
  - type: trace_contains
    kind: intent_settled
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "transfer", scenario.Name)
	assert.Equal(t, "bank", scenario.Domain)
	require.Len(t, scenario.Setup, 1)
	assert.Equal(t, uint64(100), scenario.Setup[0].Quantity)
	require.Len(t, scenario.Flow, 1)
	assert.Equal(t, "transfer", scenario.Flow[0].Intent)
	require.Len(t, scenario.Flow[0].Inputs, 1)
	assert.Equal(t, "bank.token", scenario.Flow[0].Inputs[0].Type)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, AssertTraceContains, scenario.Assertions[0].Type)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenarioUnknownFieldRejected(t *testing.T) {
	content := `
name: typo
description: "unknown field should fail"
domain: bank
flows:
  - intent: x
assertions:
  - type: final_root
`
	_, err := ParseScenario([]byte(content))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenarioValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: d
domain: bank
flow:
  - intent: x
assertions:
  - type: final_root
`,
			wantErr: "name is required",
		},
		{
			name: "missing domain",
			content: `
name: s
description: d
flow:
  - intent: x
assertions:
  - type: final_root
`,
			wantErr: "domain is required",
		},
		{
			name: "empty flow",
			content: `
name: s
description: d
domain: bank
flow: []
assertions:
  - type: final_root
`,
			wantErr: "flow list is required",
		},
		{
			name: "no assertions",
			content: `
name: s
description: d
domain: bank
flow:
  - intent: x
`,
			wantErr: "assertions list is required",
		},
		{
			name: "handler without body",
			content: `
name: s
description: d
domain: bank
handlers:
  - name: h
    handles_type: bank.transform
flow:
  - intent: x
assertions:
  - type: final_root
`,
			wantErr: "exactly one of rewrite and expression",
		},
		{
			name: "handler with both bodies",
			content: `
name: s
description: d
domain: bank
handlers:
  - name: h
    handles_type: bank.transform
    rewrite: core.transform
    expression:
      op: add
      args: [1, 2]
flow:
  - intent: x
assertions:
  - type: final_root
`,
			wantErr: "exactly one of rewrite and expression",
		},
		{
			name: "setup zero quantity",
			content: `
name: s
description: d
domain: bank
setup:
  - resource: alice
    type: bank.token
    quantity: 0
flow:
  - intent: x
assertions:
  - type: final_root
`,
			wantErr: "quantity must be positive",
		},
		{
			name: "bad expect status",
			content: `
name: s
description: d
domain: bank
flow:
  - intent: x
    expect:
      status: maybe
assertions:
  - type: final_root
`,
			wantErr: "status must be",
		},
		{
			name: "error with settled status",
			content: `
name: s
description: d
domain: bank
flow:
  - intent: x
    expect:
      status: settled
      error: boom
assertions:
  - type: final_root
`,
			wantErr: `error requires status "failed"`,
		},
		{
			name: "assertion missing kind",
			content: `
name: s
description: d
domain: bank
flow:
  - intent: x
assertions:
  - type: trace_contains
`,
			wantErr: "kind is required for trace_contains",
		},
		{
			name: "unknown assertion type",
			content: `
name: s
description: d
domain: bank
flow:
  - intent: x
assertions:
  - type: trace_matches
`,
			wantErr: "unknown assertion type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

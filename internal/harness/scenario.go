package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a domain, seeded resources,
// a flow of intents, and assertions over the resulting event trace.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Domain is the domain name the scenario runs in.
	Domain string `yaml:"domain"`

	// Gas overrides the per-intent gas budget when positive.
	Gas uint64 `yaml:"gas,omitempty"`

	// Handlers declares handlers to register before the flow.
	Handlers []HandlerStep `yaml:"handlers,omitempty"`

	// Setup seeds live resources before the flow.
	Setup []SetupStep `yaml:"setup,omitempty"`

	// Flow contains the intents to submit, in order.
	Flow []IntentStep `yaml:"flow"`

	// Assertions validate the final trace.
	// Supported types: trace_contains, trace_order, trace_count, final_root
	Assertions []Assertion `yaml:"assertions"`
}

// HandlerStep declares one handler. Exactly one of rewrite and expression
// is set; expression bodies use the runtime's operator application form.
type HandlerStep struct {
	Name        string         `yaml:"name"`
	HandlesType string         `yaml:"handles_type"`
	Priority    uint32         `yaml:"priority,omitempty"`
	Rewrite     string         `yaml:"rewrite,omitempty"`
	Expression  map[string]any `yaml:"expression,omitempty"`
}

// SetupStep seeds one live resource.
type SetupStep struct {
	Resource string `yaml:"resource"`
	Type     string `yaml:"type"`
	Quantity uint64 `yaml:"quantity"`
}

// IntentStep submits one intent.
type IntentStep struct {
	// Intent is the intent name.
	Intent string `yaml:"intent"`

	// Inputs and Outputs are the declared resource flows.
	Inputs  []FlowDecl `yaml:"inputs,omitempty"`
	Outputs []FlowDecl `yaml:"outputs,omitempty"`

	// Target routes the intent to a typed domain's transform handler.
	Target string `yaml:"target,omitempty"`

	// Expect specifies the expected outcome. If nil, the intent must
	// settle.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// FlowDecl is one resource flow in an intent.
type FlowDecl struct {
	Type     string `yaml:"type"`
	Quantity uint64 `yaml:"quantity"`
	Burn     bool   `yaml:"burn,omitempty"`
}

// ExpectClause specifies the expected outcome of an intent.
type ExpectClause struct {
	// Status is "settled" or "failed".
	Status string `yaml:"status"`

	// Error is a substring the failure message must contain. Only
	// meaningful with status "failed".
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the event trace.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": the event kind appears at least once
	// - "trace_order": the event kinds appear in this relative order
	// - "trace_count": the event kind appears exactly Count times
	// - "final_root": the last committed root is non-empty (or equals Root)
	Type string `yaml:"type"`

	// Kind is the event kind (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// Kinds is the expected relative order of event kinds (trace_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Root pins the expected final root hex (final_root); empty just
	// requires a commit to have happened.
	Root string `yaml:"root,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalRoot     = "final_root"
)

// Scenario outcome constants.
const (
	StatusSettled = "settled"
	StatusFailed  = "failed"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Domain == "" {
		return fmt.Errorf("domain is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, h := range s.Handlers {
		if h.Name == "" {
			return fmt.Errorf("handlers[%d]: name is required", i)
		}
		if h.HandlesType == "" {
			return fmt.Errorf("handlers[%d]: handles_type is required", i)
		}
		if (h.Rewrite == "") == (h.Expression == nil) {
			return fmt.Errorf("handlers[%d]: exactly one of rewrite and expression is required", i)
		}
	}

	for i, step := range s.Setup {
		if step.Resource == "" {
			return fmt.Errorf("setup[%d]: resource is required", i)
		}
		if step.Type == "" {
			return fmt.Errorf("setup[%d]: type is required", i)
		}
		if step.Quantity == 0 {
			return fmt.Errorf("setup[%d]: quantity must be positive", i)
		}
	}

	for i, step := range s.Flow {
		if step.Intent == "" {
			return fmt.Errorf("flow[%d]: intent is required", i)
		}
		if step.Expect != nil {
			switch step.Expect.Status {
			case StatusSettled, StatusFailed:
			default:
				return fmt.Errorf("flow[%d].expect: status must be %q or %q", i, StatusSettled, StatusFailed)
			}
			if step.Expect.Error != "" && step.Expect.Status != StatusFailed {
				return fmt.Errorf("flow[%d].expect: error requires status %q", i, StatusFailed)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalRoot:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowrt/internal/ir"
)

// Scenario defines a conformance test scenario.
// Scenarios drive a flow through dispatches, batches, context writes and
// events, then assert on the resulting trace, context, UI state and journal.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definition is the path of a UI definition (JSON, YAML or CUE).
	// Relative paths resolve against the scenario file. Optional.
	Definition string `yaml:"definition,omitempty"`

	// Context is the initial evaluation context.
	Context map[string]any `yaml:"context,omitempty"`

	// FlowID tags the journal. Defaults to "test-flow-default".
	FlowID string `yaml:"flow_id,omitempty"`

	// Plugins are JavaScript plugins available to plugin actions.
	Plugins []PluginSpec `yaml:"plugins,omitempty"`

	// HTTP lists canned responses for api actions. Relative action URLs
	// resolve against the mock server.
	HTTP []MockResponse `yaml:"http,omitempty"`

	// Flow contains the steps, run in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// PluginSpec declares a script plugin inline or by path.
type PluginSpec struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source,omitempty"`
	Script string `yaml:"script,omitempty"`
}

// MockResponse is a canned reply of the mock API server.
type MockResponse struct {
	Method string `yaml:"method,omitempty"` // any method when empty
	Path   string `yaml:"path"`
	Status int    `yaml:"status,omitempty"` // 200 when zero
	Body   any    `yaml:"body,omitempty"`
}

// FlowStep is exactly one of dispatch, process, set or event.
type FlowStep struct {
	// Dispatch queues actions without running them.
	Dispatch []ir.Action `yaml:"dispatch,omitempty"`

	// Process runs everything queued as one batch.
	Process bool `yaml:"process,omitempty"`

	// Set writes one context value, like a form field would.
	Set *SetStep `yaml:"set,omitempty"`

	// Event sends an event to the machine.
	Event *EventStep `yaml:"event,omitempty"`

	// Expect validates the outcome of a process step.
	// If nil, the batch may succeed or fail.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// SetStep writes value at path.
type SetStep struct {
	Path  string `yaml:"path"`
	Value any    `yaml:"value"`
}

// EventStep sends a named event.
type EventStep struct {
	Name    string         `yaml:"name"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// Batch outcomes a process step can expect.
const (
	ExpectOK     = "ok"
	ExpectFailed = "failed"
	ExpectEmpty  = "empty"
)

// ExpectClause specifies the expected batch outcome.
type ExpectClause struct {
	// Outcome is "ok", "failed" or "empty" (nothing was queued).
	Outcome string `yaml:"outcome"`

	// Failed is the type of the action that aborted the batch.
	Failed string `yaml:"failed,omitempty"`

	// Dropped is the number of actions dropped after the failure.
	Dropped *int `yaml:"dropped,omitempty"`

	// Error is a substring of the batch error.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an executed action with matching args
	// - "trace_order": executed actions appear in order
	// - "trace_count": an action was executed exactly N times
	// - "final_state": query a journal table and verify values
	// - "context": the final context has value at path
	// - "element": an element's visibility and availability
	// - "rules": rule results against the final context
	// - "step": the current step
	// - "event_emitted": an event was sent
	Type string `yaml:"type"`

	// Action is the action type (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are the expected action payload fields (trace_contains).
	// Subset match - only specified fields are validated.
	Args map[string]any `yaml:"args,omitempty"`

	// Outcome filters journaled actions (trace_count). Any outcome when empty.
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of occurrences (trace_count, event_emitted).
	Count *int `yaml:"count,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Table is the journal table name (final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies query filters (final_state).
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Path and Value check the final context (context).
	// Exists: false asserts the path is absent.
	Path   string `yaml:"path,omitempty"`
	Value  any    `yaml:"value,omitempty"`
	Exists *bool  `yaml:"exists,omitempty"`

	// Element is the element name (element); Visible and Available are
	// checked when set.
	Element   string `yaml:"element,omitempty"`
	Visible   *bool  `yaml:"visible,omitempty"`
	Available *bool  `yaml:"available,omitempty"`

	// Rules are tested against the final context; Results are the
	// expected per-rule results (rules).
	Rules   []ir.Rule `yaml:"rules,omitempty"`
	Results []bool    `yaml:"results,omitempty"`

	// Step is the expected current step name, Status its status (step).
	Step   string `yaml:"step,omitempty"`
	Status string `yaml:"status,omitempty"`

	// Event is the event name (event_emitted).
	Event string `yaml:"event,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertContext       = "context"
	AssertElement       = "element"
	AssertRules         = "rules"
	AssertStep          = "step"
	AssertEventEmitted  = "event_emitted"
)

// LoadScenario reads and parses a scenario YAML file. Relative definition
// and plugin paths resolve against the scenario's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving definition and plugin paths relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if basePath != "" {
		if scenario.Definition != "" && !filepath.IsAbs(scenario.Definition) {
			scenario.Definition = filepath.Join(basePath, scenario.Definition)
		}
		for i, p := range scenario.Plugins {
			if p.Script != "" && !filepath.IsAbs(p.Script) {
				scenario.Plugins[i].Script = filepath.Join(basePath, p.Script)
			}
		}
	}

	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
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
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow must have at least one step")
	}

	for i, p := range s.Plugins {
		if p.Name == "" {
			return fmt.Errorf("plugins[%d]: name is required", i)
		}
		if (p.Source == "") == (p.Script == "") {
			return fmt.Errorf("plugins[%d]: exactly one of source or script is required", i)
		}
	}

	for i, r := range s.HTTP {
		if r.Path == "" {
			return fmt.Errorf("http[%d]: path is required", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateFlowStep(i, step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateFlowStep(index int, step FlowStep) error {
	kinds := 0
	if len(step.Dispatch) > 0 {
		kinds++
	}
	if step.Process {
		kinds++
	}
	if step.Set != nil {
		kinds++
	}
	if step.Event != nil {
		kinds++
	}
	if kinds != 1 {
		return fmt.Errorf("flow[%d]: exactly one of dispatch, process, set or event is required", index)
	}

	for j, a := range step.Dispatch {
		if a.Type == "" {
			return fmt.Errorf("flow[%d].dispatch[%d]: type is required", index, j)
		}
	}
	if step.Set != nil && step.Set.Path == "" {
		return fmt.Errorf("flow[%d]: set.path is required", index)
	}
	if step.Event != nil && step.Event.Name == "" {
		return fmt.Errorf("flow[%d]: event.name is required", index)
	}

	if step.Expect != nil {
		if !step.Process {
			return fmt.Errorf("flow[%d]: expect is only valid on process steps", index)
		}
		switch step.Expect.Outcome {
		case ExpectOK, ExpectFailed, ExpectEmpty:
		default:
			return fmt.Errorf("flow[%d]: expect.outcome must be ok, failed or empty, got %q", index, step.Expect.Outcome)
		}
	}
	return nil
}

// validateAssertion validates a single assertion.
func validateAssertion(index int, a Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertContext:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for context", index)
		}
	case AssertElement:
		if a.Element == "" {
			return fmt.Errorf("assertions[%d]: element is required for element", index)
		}
		if a.Visible == nil && a.Available == nil {
			return fmt.Errorf("assertions[%d]: visible or available is required for element", index)
		}
	case AssertRules:
		if len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules are required for rules", index)
		}
		if len(a.Results) != len(a.Rules) {
			return fmt.Errorf("assertions[%d]: %d results for %d rules", index, len(a.Results), len(a.Rules))
		}
	case AssertStep:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for step", index)
		}
	case AssertEventEmitted:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_emitted", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

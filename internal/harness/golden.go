package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/flowrt/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	FlowID       string       `json:"flow_id,omitempty"`
	Trace        []TraceEvent `json:"trace"`
	ContextHash  string       `json:"context_hash,omitempty"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Empty fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{"kind": event.Kind}
		if event.Seq != 0 {
			eventMap["seq"] = event.Seq
		}
		for key, val := range map[string]string{
			"action":       event.Action,
			"event":        event.Event,
			"step":         event.Step,
			"path":         event.Path,
			"batch_id":     event.BatchID,
			"outcome":      event.Outcome,
			"error":        event.Error,
			"context_hash": event.ContextHash,
		} {
			if val != "" {
				eventMap[key] = val
			}
		}
		if event.Args != nil {
			eventMap["args"] = event.Args
		}
		traceList[i] = eventMap
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.FlowID != "" {
		result["flow_id"] = s.FlowID
	}
	if s.ContextHash != "" {
		result["context_hash"] = s.ContextHash
	}
	return result
}

// MarshalTrace renders a result's trace as canonical JSON.
func MarshalTrace(scenario *Scenario, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		FlowID:       scenario.FlowID,
		Trace:        result.Trace,
	}
	if result.Context != nil {
		hash, err := ir.DocumentHash(result.Context)
		if err != nil {
			return nil, err
		}
		snapshot.ContextHash = hash
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check Pass. Test failure (via
// goldie) occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against the scenario's
// golden file without re-running it.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenario, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return nil
}

package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/rules"
	"github.com/roach88/flowrt/internal/store"
)

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Kind: KindDispatch, Seq: 1, Action: "api", Args: map[string]any{"url": "/cases"}},
		{Kind: KindAction, Seq: 1, Action: "api", Args: map[string]any{"url": "/cases", "method": "POST"}, Outcome: ir.OutcomeOK},
		{Kind: KindAction, Seq: 2, Action: "plugin", Args: map[string]any{"pluginName": "stamp"}, Outcome: ir.OutcomeOK},
		{Kind: KindAction, Seq: 3, Action: "event", Args: map[string]any{"eventName": "NEXT"}, Outcome: ir.OutcomeOK},
		{Kind: KindEvent, Event: "NEXT", Step: "review"},
		{Kind: KindBatch, BatchID: "batch-1", Outcome: ir.OutcomeOK},
		{Kind: KindAction, Seq: 4, Action: "api", Args: map[string]any{"url": "/broken"}, Outcome: ir.OutcomeFailed, Error: "boom"},
		{Kind: KindAction, Seq: 5, Action: "event", Args: map[string]any{"eventName": "NEXT"}, Outcome: ir.OutcomeDropped},
		{Kind: KindBatch, BatchID: "batch-2", Outcome: ir.OutcomeFailed, Error: "boom"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   bool
	}{
		{"found with subset args", Assertion{Action: "api", Args: map[string]any{"url": "/cases"}}, false},
		{"no args required", Assertion{Action: "plugin"}, false},
		{"wrong args", Assertion{Action: "api", Args: map[string]any{"url": "/other"}}, true},
		{"failed actions do not count", Assertion{Action: "api", Args: map[string]any{"url": "/broken"}}, true},
		{"missing action", Assertion{Action: "teleport"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.assertion.Type = AssertTraceContains
			err := assertTraceContains(trace, tt.assertion)
			if tt.wantErr {
				var aerr *AssertionError
				require.ErrorAs(t, err, &aerr)
				assert.Equal(t, AssertTraceContains, aerr.Type)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"api", "plugin", "event"}}))
	assert.NoError(t, assertTraceOrder(trace, Assertion{Actions: []string{"api", "event"}}))

	err := assertTraceOrder(trace, Assertion{Actions: []string{"event", "api"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Actions: []string{"api", "teleport"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing action: teleport")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	tests := []struct {
		name    string
		action  string
		outcome string
		count   int
		wantErr bool
	}{
		{"all outcomes", "api", "", 2, false},
		{"ok only", "api", ir.OutcomeOK, 1, false},
		{"failed only", "api", ir.OutcomeFailed, 1, false},
		{"dropped", "event", ir.OutcomeDropped, 1, false},
		{"zero", "teleport", "", 0, false},
		{"too few", "event", "", 1, true},
		{"too many", "plugin", "", 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceCount(trace, Assertion{Action: tt.action, Outcome: tt.outcome, Count: intPtr(tt.count)})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssertEventEmitted(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertEventEmitted(trace, Assertion{Event: "NEXT"}))
	assert.NoError(t, assertEventEmitted(trace, Assertion{Event: "NEXT", Count: intPtr(1)}))
	assert.NoError(t, assertEventEmitted(trace, Assertion{Event: "PREVIOUS", Count: intPtr(0)}))
	assert.Error(t, assertEventEmitted(trace, Assertion{Event: "PREVIOUS"}))
	assert.Error(t, assertEventEmitted(trace, Assertion{Event: "NEXT", Count: intPtr(2)}))
}

func TestAssertContext(t *testing.T) {
	doc := ir.Document{"entity": map[string]any{"name": "Acme", "age": float64(3), "tags": []any{"a"}}}

	assert.NoError(t, assertContext(doc, Assertion{Path: "entity.name", Value: "Acme"}))
	assert.NoError(t, assertContext(doc, Assertion{Path: "entity.age", Value: 3}))
	assert.NoError(t, assertContext(doc, Assertion{Path: "entity.tags", Value: []any{"a"}}))
	assert.NoError(t, assertContext(doc, Assertion{Path: "entity.missing", Exists: boolPtr(false)}))

	err := assertContext(doc, Assertion{Path: "entity.name", Value: "Other"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity.name = Acme")

	err = assertContext(doc, Assertion{Path: "entity.missing", Value: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path not found")

	assert.Error(t, assertContext(doc, Assertion{Path: "entity.name", Exists: boolPtr(false)}))
}

func TestAssertElement(t *testing.T) {
	def := &ir.Definition{Pages: []*ir.Page{{
		Type:      "page",
		StateName: "details",
		Elements: []*ir.UIElement{{
			Name: "submit",
			Type: "json-form:button",
			AvailableOn: []ir.Rule{{
				Type:  rules.DialectJMESPath,
				Value: "entity.name",
			}},
		}},
	}}}
	actx := &AssertionContext{
		Definition: def,
		Executor:   rules.NewExecutor(nil),
		Context:    ir.Document{"entity": map[string]any{"name": "Acme"}},
		State:      ir.NewUIState(def),
	}

	assert.NoError(t, assertElement(actx, Assertion{Element: "submit", Visible: boolPtr(true), Available: boolPtr(true)}))

	actx.Context = ir.Document{}
	err := assertElement(actx, Assertion{Element: "submit", Available: boolPtr(true)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available=false")

	err = assertElement(actx, Assertion{Element: "nope", Visible: boolPtr(true)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in definition")

	actx.Definition = nil
	assert.Error(t, assertElement(actx, Assertion{Element: "submit", Visible: boolPtr(true)}))
}

func TestAssertRules(t *testing.T) {
	actx := &AssertionContext{
		Executor: rules.NewExecutor(nil),
		Context:  ir.Document{"count": float64(3)},
	}
	assertion := Assertion{
		Rules: []ir.Rule{
			{Type: rules.DialectJSONLogic, Value: map[string]any{">": []any{map[string]any{"var": "count"}, 2}}},
			{Type: rules.DialectJMESPath, Value: "missing"},
		},
		Results: []bool{true, false},
	}
	assert.NoError(t, assertRules(actx, assertion))

	assertion.Results = []bool{false, false}
	assert.Error(t, assertRules(actx, assertion))
}

func TestAssertStep(t *testing.T) {
	state := ir.UIState{Steps: []ir.Step{{Name: "details", Status: ir.StepIdle}, {Name: "review", Status: ir.StepIdle}}, CurrentStep: 1}

	assert.NoError(t, assertStep(state, Assertion{Step: "review"}))
	assert.NoError(t, assertStep(state, Assertion{Step: "review", Status: string(ir.StepIdle)}))
	assert.Error(t, assertStep(state, Assertion{Step: "details"}))
	assert.Error(t, assertStep(ir.UIState{}, Assertion{Step: "details"}))
}

func TestMatchArgs_SubsetSemantics(t *testing.T) {
	actual := map[string]any{"url": "/cases", "body": map[string]any{"x": float64(1)}}

	assert.True(t, matchArgs(actual, nil))
	assert.True(t, matchArgs(actual, map[string]any{"url": "/cases"}))
	assert.True(t, matchArgs(actual, map[string]any{"body": map[string]any{"x": 1}}))
	assert.False(t, matchArgs(actual, map[string]any{"url": "/other"}))
	assert.False(t, matchArgs(actual, map[string]any{"method": "GET"}))
	assert.False(t, matchArgs("not a map", map[string]any{"url": "/cases"}))
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: "vibes"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "vibes"`)
}

func TestEvaluateAssertions_FinalStateWithoutStore(t *testing.T) {
	errs := EvaluateAssertions(NewResult(), []Assertion{{Type: AssertFinalState, Table: "batches", Expect: map[string]any{"id": "x"}}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "final_state requires database context")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceOrder,
		Expected: "actions in order: [a b]",
		Actual:   "b (pos 1) should be before a (pos 2)",
		Trace:    sampleTrace()[1:3],
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: trace_order")
	assert.Contains(t, msg, "Expected: actions in order: [a b]")
	assert.Contains(t, msg, "[1] api#1 ok")
	assert.Contains(t, msg, "[2] plugin#2 ok")
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(nil)
	require.NoError(t, err)
	assert.Empty(t, sql)
	assert.Nil(t, args)

	sql, args, err = buildWhereClause(map[string]any{"outcome": "ok", "batch_id": "batch-1", "seq": 2})
	require.NoError(t, err)
	assert.Equal(t, "batch_id = ? AND outcome = ? AND seq = ?", sql)
	assert.Equal(t, []any{"batch-1", "ok", 2}, args)

	_, _, err = buildWhereClause(map[string]any{"id; DROP TABLE batches": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func TestToSQLValue(t *testing.T) {
	assert.Equal(t, "x", toSQLValue("x"))
	assert.Equal(t, 3, toSQLValue(3))
	assert.Equal(t, int64(4), toSQLValue(float64(4)))
	assert.Equal(t, 4.5, toSQLValue(4.5))
	assert.Equal(t, true, toSQLValue(true))
	assert.Equal(t, "[a]", toSQLValue([]any{"a"}))
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual("ok", "ok"))
	assert.True(t, stateValuesEqual("ok", []byte("ok")))
	assert.True(t, stateValuesEqual(2, int64(2)))
	assert.True(t, stateValuesEqual(true, int64(1)))
	assert.True(t, stateValuesEqual(nil, nil))
	assert.False(t, stateValuesEqual("2", int64(2)))
	assert.False(t, stateValuesEqual(nil, "x"))
}

func openJournal(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.RecordBatch(ctx, ir.BatchRecord{
		BatchID: "batch-1",
		FlowID:  "flow-1",
		Outcome: ir.OutcomeOK,
		Actions: []ir.ActionRecord{
			{ID: "a-1", Seq: 1, Type: "api", Outcome: ir.OutcomeOK},
			{ID: "a-2", Seq: 2, Type: "event", Outcome: ir.OutcomeOK},
		},
	}))
	require.NoError(t, st.RecordBatch(ctx, ir.BatchRecord{
		BatchID: "batch-2",
		FlowID:  "flow-1",
		Outcome: ir.OutcomeFailed,
		Error:   "boom",
		Actions: []ir.ActionRecord{
			{ID: "a-3", Seq: 3, Type: "api", Outcome: ir.OutcomeFailed, Error: "boom"},
		},
	}))
	return st
}

func TestAssertFinalState(t *testing.T) {
	st := openJournal(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{
			name:      "row found",
			assertion: Assertion{Table: "batches", Where: map[string]any{"id": "batch-2"}, Expect: map[string]any{"outcome": "failed", "first_seq": 3, "error": "boom"}},
		},
		{
			name:      "multiple where conditions",
			assertion: Assertion{Table: "batch_actions", Where: map[string]any{"batch_id": "batch-1", "seq": 2}, Expect: map[string]any{"type": "event"}},
		},
		{
			name:      "row not found",
			assertion: Assertion{Table: "batches", Where: map[string]any{"id": "batch-9"}, Expect: map[string]any{"outcome": "ok"}},
			want:      "row not found",
		},
		{
			name:      "ambiguous",
			assertion: Assertion{Table: "batch_actions", Where: map[string]any{"batch_id": "batch-1"}, Expect: map[string]any{"outcome": "ok"}},
			want:      "multiple rows matched",
		},
		{
			name:      "value mismatch",
			assertion: Assertion{Table: "batches", Where: map[string]any{"id": "batch-1"}, Expect: map[string]any{"outcome": "failed"}},
			want:      `field "outcome" = failed`,
		},
		{
			name:      "missing column",
			assertion: Assertion{Table: "batches", Where: map[string]any{"id": "batch-1"}, Expect: map[string]any{"nope": 1}},
			want:      `field "nope" not present`,
		},
		{
			name:      "unknown table",
			assertion: Assertion{Table: "nope", Expect: map[string]any{"id": 1}},
			want:      "query error",
		},
		{
			name:      "invalid table name",
			assertion: Assertion{Table: "batches; --", Expect: map[string]any{"id": 1}},
			want:      "invalid table name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertFinalState(ctx, st, tt.assertion)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

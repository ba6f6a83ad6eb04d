package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/rules"
	"github.com/roach88/flowrt/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
// This prevents SQL injection via identifier interpolation.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			switch event.Kind {
			case KindAction:
				fmt.Fprintf(&buf, "  [%d] %s#%d %s %v\n", i+1, event.Action, event.Seq, event.Outcome, event.Args)
			case KindEvent:
				fmt.Fprintf(&buf, "  [%d] event %s\n", i+1, event.Event)
			case KindBatch:
				fmt.Fprintf(&buf, "  [%d] batch %s %s\n", i+1, event.BatchID, event.Outcome)
			}
		}
	}

	return buf.String()
}

// executed returns the journaled actions of the trace.
func executed(trace []TraceEvent) []TraceEvent {
	var out []TraceEvent
	for _, event := range trace {
		if event.Kind == KindAction {
			out = append(out, event)
		}
	}
	return out
}

// assertTraceContains checks if the trace contains a successfully executed
// action matching the specified type and args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range executed(trace) {
		if event.Action == assertion.Action && event.Outcome == ir.OutcomeOK {
			if matchArgs(event.Args, assertion.Args) {
				return nil
			}
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if successfully executed actions appear in the
// specified order. Actions don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first position of each expected action
	positions := make(map[string]int)

	for i, event := range trace {
		if event.Kind != KindAction || event.Outcome != ir.OutcomeOK {
			continue
		}
		for _, expectedAction := range assertion.Actions {
			if event.Action == expectedAction && positions[expectedAction] == 0 {
				positions[expectedAction] = i + 1 // 1-indexed for readability
			}
		}
	}

	// Step 2: Verify all actions found
	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the action was journaled exactly the specified
// number of times, optionally with a given outcome.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range executed(trace) {
		if event.Action != assertion.Action {
			continue
		}
		if assertion.Outcome != "" && event.Outcome != assertion.Outcome {
			continue
		}
		count++
	}

	want := 0
	if assertion.Count != nil {
		want = *assertion.Count
	}
	if count != want {
		desc := assertion.Action
		if assertion.Outcome != "" {
			desc += " (" + assertion.Outcome + ")"
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", want, desc),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertEventEmitted checks that an event was sent, exactly Count times
// when Count is set.
func assertEventEmitted(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Kind == KindEvent && event.Event == assertion.Event {
			count++
		}
	}

	if assertion.Count != nil && count != *assertion.Count {
		return &AssertionError{
			Type:     AssertEventEmitted,
			Expected: fmt.Sprintf("%d %s events", *assertion.Count, assertion.Event),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	if assertion.Count == nil && count == 0 {
		return &AssertionError{
			Type:     AssertEventEmitted,
			Expected: fmt.Sprintf("event %s", assertion.Event),
			Actual:   "not found in trace",
			Trace:    trace,
		}
	}
	return nil
}

// assertContext checks one value of the final context.
func assertContext(doc ir.Document, assertion Assertion) error {
	actual, exists := doc.Get(assertion.Path)

	if assertion.Exists != nil && !*assertion.Exists {
		if exists {
			return &AssertionError{
				Type:     AssertContext,
				Expected: fmt.Sprintf("%s to be absent", assertion.Path),
				Actual:   fmt.Sprintf("%v", actual),
			}
		}
		return nil
	}

	if !exists {
		return &AssertionError{
			Type:     AssertContext,
			Expected: fmt.Sprintf("%s = %v", assertion.Path, assertion.Value),
			Actual:   "path not found",
		}
	}

	expected, err := ir.Normalize(assertion.Value)
	if err != nil {
		return fmt.Errorf("context assertion: %w", err)
	}
	if !valuesEqual(actual, expected) {
		return &AssertionError{
			Type:     AssertContext,
			Expected: fmt.Sprintf("%s = %v", assertion.Path, expected),
			Actual:   fmt.Sprintf("%s = %v", assertion.Path, actual),
		}
	}
	return nil
}

// assertElement evaluates an element's rules against the final context.
func assertElement(actx *AssertionContext, assertion Assertion) error {
	if actx.Definition == nil {
		return fmt.Errorf("element assertion requires a definition")
	}

	results, err := actx.Executor.EvaluateElements(actx.Context, actx.Definition, actx.State, "")
	if results == nil && err != nil {
		return err
	}

	for _, res := range results {
		if res.Name != assertion.Element {
			continue
		}
		if assertion.Visible != nil && res.Visible != *assertion.Visible {
			return &AssertionError{
				Type:     AssertElement,
				Expected: fmt.Sprintf("%s visible=%t", assertion.Element, *assertion.Visible),
				Actual:   fmt.Sprintf("visible=%t %s", res.Visible, describeResults(res.VisibleOn)),
			}
		}
		if assertion.Available != nil && res.Available != *assertion.Available {
			return &AssertionError{
				Type:     AssertElement,
				Expected: fmt.Sprintf("%s available=%t", assertion.Element, *assertion.Available),
				Actual:   fmt.Sprintf("available=%t %s", res.Available, describeResults(res.AvailableOn)),
			}
		}
		return nil
	}

	return &AssertionError{
		Type:     AssertElement,
		Expected: fmt.Sprintf("element %s", assertion.Element),
		Actual:   "not found in definition",
	}
}

// assertRules tests ad-hoc rules against the final context.
func assertRules(actx *AssertionContext, assertion Assertion) error {
	ruleList := make([]ir.Rule, len(assertion.Rules))
	for i, r := range assertion.Rules {
		value, err := ir.Normalize(r.Value)
		if err != nil {
			return fmt.Errorf("rules assertion: rule %d: %w", i, err)
		}
		ruleList[i] = ir.Rule{Type: r.Type, Value: value}
	}

	results, _ := actx.Executor.Execute(actx.Context, ruleList, nil, actx.State)
	got := make([]bool, len(results))
	for i, res := range results {
		got[i] = res.Result
	}
	if !reflect.DeepEqual(got, assertion.Results) {
		return &AssertionError{
			Type:     AssertRules,
			Expected: fmt.Sprintf("results %v", assertion.Results),
			Actual:   fmt.Sprintf("results %v %s", got, describeResults(results)),
		}
	}
	return nil
}

// assertStep checks the current step and, optionally, its status.
func assertStep(state ir.UIState, assertion Assertion) error {
	cur, ok := state.Current()
	if !ok {
		return &AssertionError{
			Type:     AssertStep,
			Expected: fmt.Sprintf("current step %s", assertion.Step),
			Actual:   "no steps",
		}
	}
	if cur.Name != assertion.Step {
		return &AssertionError{
			Type:     AssertStep,
			Expected: fmt.Sprintf("current step %s", assertion.Step),
			Actual:   fmt.Sprintf("current step %s", cur.Name),
		}
	}
	if assertion.Status != "" && string(cur.Status) != assertion.Status {
		return &AssertionError{
			Type:     AssertStep,
			Expected: fmt.Sprintf("step %s status %s", assertion.Step, assertion.Status),
			Actual:   fmt.Sprintf("status %s", cur.Status),
		}
	}
	return nil
}

func describeResults(results []ir.RuleTestResult) string {
	var errs []string
	for _, r := range results {
		for _, e := range r.Errors {
			errs = append(errs, e.Message)
		}
	}
	if len(errs) == 0 {
		return ""
	}
	return "(" + strings.Join(errs, "; ") + ")"
}

// assertFinalState checks if a journal table contains expected values.
// Queries the table with parameterized SQL and validates expected values
// using subset semantics.
//
// Security: Table and column names are validated against a whitelist pattern
// to prevent SQL injection via identifier interpolation.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if assertion.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}

	if !validIdentifier.MatchString(assertion.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", assertion.Table, validIdentifier.String())
	}

	// Build WHERE clause with parameterized SQL (never interpolate values)
	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		whereDesc := formatWhereClause(assertion.Where)
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	// Check for multiple matching rows (would indicate ambiguous assertion)
	if rows.Next() {
		whereDesc := formatWhereClause(assertion.Where)
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any)
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	// Subset semantics - only check fields in Expect
	for _, key := range sortedKeys(assertion.Expect) {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}

		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}

	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildWhereClause constructs parameterized WHERE clause from assertion.Where.
// Returns SQL fragment, arguments slice, and error. Keys are sorted for determinism.
//
// Security: Column names are validated against a whitelist pattern to prevent
// SQL injection via identifier interpolation.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, toSQLValue(where[key]))
	}

	return strings.Join(clauses, " AND "), args, nil
}

// toSQLValue converts a YAML-decoded value to a SQL-compatible value.
func toSQLValue(v any) any {
	switch val := v.(type) {
	case string, int, int64, bool:
		return val
	case float64:
		if val == float64(int64(val)) {
			return int64(val)
		}
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares expected and actual values from journal tables.
// Handles type coercion for SQLite values which may be returned as different types.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil && actual == nil {
		return true
	}
	if expected == nil || actual == nil {
		return false
	}

	// SQLite may hand TEXT back as []byte.
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	switch exp := expected.(type) {
	case string:
		if actualStr, ok := actual.(string); ok {
			return exp == actualStr
		}
		return false
	case int:
		if actualInt, ok := actual.(int64); ok {
			return int64(exp) == actualInt
		}
		if actualInt, ok := actual.(int); ok {
			return exp == actualInt
		}
		return false
	case int64:
		if actualInt, ok := actual.(int64); ok {
			return exp == actualInt
		}
		return false
	case bool:
		if actualBool, ok := actual.(bool); ok {
			return exp == actualBool
		}
		// SQLite stores booleans as integers
		if actualInt, ok := actual.(int64); ok {
			return exp == (actualInt != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

// matchArgs checks if actual args contain all expected args (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}

	actualMap, ok := actual.(map[string]any)
	if !ok {
		return false
	}

	for key, expectedVal := range expected {
		actualVal, exists := actualMap[key]
		if !exists {
			return false
		}
		want, err := ir.Normalize(expectedVal)
		if err != nil || !valuesEqual(actualVal, want) {
			return false
		}
	}

	return true
}

// valuesEqual compares two JSON-shaped values for equality.
func valuesEqual(actual, expected any) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

// AssertionContext provides the final state for evaluating assertions.
type AssertionContext struct {
	Store      *store.Store
	Ctx        context.Context
	FlowID     string
	Definition *ir.Definition
	Executor   *rules.Executor
	Context    ir.Document
	State      ir.UIState
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	if actx == nil {
		actx = &AssertionContext{Ctx: context.Background()}
	}
	if actx.Executor == nil {
		actx.Executor = rules.NewExecutor(nil)
	}
	if actx.Context == nil {
		actx.Context = result.Context
		actx.State = result.State
	}

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertEventEmitted:
			err = assertEventEmitted(result.Trace, assertion)
		case AssertContext:
			err = assertContext(actx.Context, assertion)
		case AssertElement:
			err = assertElement(actx, assertion)
		case AssertRules:
			err = assertRules(actx, assertion)
		case AssertStep:
			err = assertStep(actx.State, assertion)
		case AssertFinalState:
			if actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

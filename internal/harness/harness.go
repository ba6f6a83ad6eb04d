package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/roach88/flowrt/internal/actions"
	"github.com/roach88/flowrt/internal/definition"
	"github.com/roach88/flowrt/internal/engine"
	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/rules"
	"github.com/roach88/flowrt/internal/store"
	"github.com/roach88/flowrt/internal/testutil"
)

// MockBaseURL replaces the mock server's address in trace errors so traces
// stay byte-identical across runs.
const MockBaseURL = "http://mock.invalid"

// Harness is the test execution engine.
// It runs scenarios against a real machine and dispatcher with a
// deterministic clock and batch ids.
type Harness struct {
	store    *store.Store
	flow     *testutil.Flow
	journal  *traceRecorder
	def      *ir.Definition
	executor *rules.Executor
	baseURL  string
	logger   *slog.Logger
}

// traceRecorder journals to the store and keeps the last record for the
// trace.
type traceRecorder struct {
	next engine.Recorder

	mu   sync.Mutex
	last *ir.BatchRecord
}

func (r *traceRecorder) RecordBatch(ctx context.Context, rec ir.BatchRecord) error {
	r.mu.Lock()
	r.last = &rec
	r.mu.Unlock()
	return r.next.RecordBatch(ctx, rec)
}

func (r *traceRecorder) take() *ir.BatchRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.last
	r.last = nil
	return rec
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and, if needed, the mock API server
// 2. Load the definition and plugins
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	var def *ir.Definition
	if scenario.Definition != "" {
		def, err = definition.Load(scenario.Definition)
		if err != nil {
			return nil, fmt.Errorf("failed to load definition: %w", err)
		}
	}

	initial, err := ir.NormalizeDocument(scenario.Context)
	if err != nil {
		return nil, fmt.Errorf("initial context: %w", err)
	}

	plugins := actions.NewPluginRegistry()
	for _, ps := range scenario.Plugins {
		var p *actions.ScriptPlugin
		if ps.Script != "" {
			p, err = actions.LoadScriptPlugin(ps.Name, ps.Script)
		} else {
			p, err = actions.NewScriptPlugin(ps.Name, ps.Source)
		}
		if err != nil {
			return nil, err
		}
		if err := plugins.Register(ps.Name, p); err != nil {
			return nil, err
		}
	}

	baseURL := MockBaseURL
	if len(scenario.HTTP) > 0 {
		mock, err := newMockServer(scenario.HTTP)
		if err != nil {
			return nil, err
		}
		defer mock.Close()
		baseURL = mock.URL
	}

	flowID := scenario.FlowID
	if flowID == "" {
		flowID = testutil.DefaultFlowID
	}

	journal := &traceRecorder{next: st}
	flow, err := testutil.NewFlow(testutil.FlowOptions{
		FlowID:     flowID,
		Definition: def,
		Context:    initial,
		Handlers: []actions.Handler{
			actions.NewAPIHandler(actions.WithBaseURL(baseURL)),
			actions.NewEventHandler(),
			actions.NewPluginHandler(plugins),
		},
		Recorder:  journal,
		Persister: st.ContextPersister(flowID),
	})
	if err != nil {
		return nil, err
	}

	h := &Harness{
		store:    st,
		flow:     flow,
		journal:  journal,
		def:      def,
		executor: rules.NewExecutor(nil),
		baseURL:  baseURL,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	ctx := context.Background()
	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	doc, state, _ := flow.Machine.Snapshot()
	result.Context = doc
	result.State = state

	actx := &AssertionContext{
		Store:      st,
		Ctx:        ctx,
		FlowID:     flow.FlowID,
		Definition: def,
		Executor:   h.executor,
		Context:    doc,
		State:      state,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeFlow runs all flow steps and validates expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		switch {
		case len(step.Dispatch) > 0:
			for j, a := range step.Dispatch {
				payload, err := normalizePayload(a.Payload)
				if err != nil {
					return fmt.Errorf("flow step %d: dispatch[%d]: %w", i, j, err)
				}
				a.Payload = payload
				seq, ok := h.flow.Dispatcher.Submit(a)
				if !ok {
					return fmt.Errorf("flow step %d: dispatcher stopped", i)
				}
				a.Seq = seq
				result.AddDispatchTrace(a)
			}

		case step.Process:
			if err := h.process(ctx, i, step.Expect, result); err != nil {
				return err
			}

		case step.Set != nil:
			value, err := ir.Normalize(step.Set.Value)
			if err != nil {
				return fmt.Errorf("flow step %d: %w", i, err)
			}
			doc := h.flow.Machine.Context()
			if err := doc.Set(step.Set.Path, value); err != nil {
				return fmt.Errorf("flow step %d: %w", i, err)
			}
			h.flow.Machine.SetContext(doc)
			result.AddSetTrace(step.Set.Path, value)

		case step.Event != nil:
			payload, err := normalizePayload(step.Event.Payload)
			if err != nil {
				return fmt.Errorf("flow step %d: %w", i, err)
			}
			seen := h.flow.Events.Len()
			if err := h.flow.Machine.SendEvent(ctx, step.Event.Name, payload); err != nil {
				return fmt.Errorf("flow step %d: %w", i, err)
			}
			h.traceEvents(seen, result)
		}

		h.logger.Info("flow step completed", "step", i)
	}
	return nil
}

// process runs one batch and checks its expect clause. A failed batch is
// a scenario outcome, not a harness error.
func (h *Harness) process(ctx context.Context, index int, expect *ExpectClause, result *Result) error {
	seen := h.flow.Events.Len()
	res, err := h.flow.Dispatcher.ProcessPending(ctx)

	var berr *engine.BatchError
	if err != nil && !errors.As(err, &berr) {
		return fmt.Errorf("flow step %d: %w", index, err)
	}

	rec := h.journal.take()
	if rec != nil {
		for _, a := range rec.Actions {
			result.AddActionTrace(a, h.scrub(a.Error))
		}
	}
	h.traceEvents(seen, result)
	if rec != nil {
		result.AddBatchTrace(*rec, h.scrub(rec.Error))
	}

	if expect == nil {
		return nil
	}

	outcome := ExpectEmpty
	switch {
	case berr != nil:
		outcome = ExpectFailed
	case res != nil:
		outcome = ExpectOK
	}
	if outcome != expect.Outcome {
		msg := fmt.Sprintf("flow step %d: expected batch outcome %s, got %s", index, expect.Outcome, outcome)
		if berr != nil {
			msg += ": " + h.scrub(berr.Error())
		}
		result.AddError(msg)
		return nil
	}
	if berr == nil {
		return nil
	}

	if expect.Failed != "" && berr.Failed.Type != expect.Failed {
		result.AddError(fmt.Sprintf("flow step %d: expected failed action %s, got %s", index, expect.Failed, berr.Failed.Type))
	}
	if expect.Dropped != nil && len(berr.Dropped) != *expect.Dropped {
		result.AddError(fmt.Sprintf("flow step %d: expected %d dropped actions, got %d", index, *expect.Dropped, len(berr.Dropped)))
	}
	if expect.Error != "" && !strings.Contains(h.scrub(berr.Error()), expect.Error) {
		result.AddError(fmt.Sprintf("flow step %d: batch error %q does not contain %q", index, h.scrub(berr.Error()), expect.Error))
	}
	return nil
}

func (h *Harness) traceEvents(seen int, result *Result) {
	for _, ev := range h.flow.Events.Since(seen) {
		result.AddEventTrace(ev.Name, ev.Step, ev.Payload)
	}
}

func (h *Harness) scrub(s string) string {
	if h.baseURL == MockBaseURL {
		return s
	}
	return strings.ReplaceAll(s, h.baseURL, MockBaseURL)
}

func normalizePayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return nil, nil
	}
	doc, err := ir.NormalizeDocument(payload)
	if err != nil {
		return nil, err
	}
	return map[string]any(doc), nil
}

// newMockServer answers api actions with the scenario's canned responses.
// Unmatched requests get 404.
func newMockServer(responses []MockResponse) (*httptest.Server, error) {
	bodies := make([][]byte, len(responses))
	for i, r := range responses {
		if r.Body == nil {
			continue
		}
		plain, err := ir.Normalize(r.Body)
		if err != nil {
			return nil, fmt.Errorf("http[%d]: %w", i, err)
		}
		if bodies[i], err = json.Marshal(plain); err != nil {
			return nil, fmt.Errorf("http[%d]: %w", i, err)
		}
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		for i, r := range responses {
			if r.Path != req.URL.Path || (r.Method != "" && !strings.EqualFold(r.Method, req.Method)) {
				continue
			}
			status := r.Status
			if status == 0 {
				status = http.StatusOK
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write(bodies[i])
			return
		}
		http.NotFound(w, req)
	})), nil
}

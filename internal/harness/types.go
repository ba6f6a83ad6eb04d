package harness

import "github.com/roach88/flowrt/internal/ir"

// Trace event kinds.
const (
	KindDispatch = "dispatch"
	KindAction   = "action"
	KindEvent    = "event"
	KindBatch    = "batch"
	KindSet      = "set"
)

// TraceEvent is one entry of a scenario trace.
//
// A processed batch contributes one "action" entry per journaled action, in
// seq order, then the events its handlers sent, then one "batch" entry.
type TraceEvent struct {
	Kind        string `json:"kind"`
	Seq         int64  `json:"seq,omitempty"`
	Action      string `json:"action,omitempty"`
	Args        any    `json:"args,omitempty"`
	Event       string `json:"event,omitempty"`
	Step        string `json:"step,omitempty"`
	Path        string `json:"path,omitempty"`
	BatchID     string `json:"batch_id,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Error       string `json:"error,omitempty"`
	ContextHash string `json:"context_hash,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace lists dispatches, executed actions, events and batches in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Context is the final evaluation context.
	Context ir.Document `json:"context"`

	// State is the final UI state.
	State ir.UIState `json:"state"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Context: ir.Document{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

// AddDispatchTrace records an accepted action.
func (r *Result) AddDispatchTrace(action ir.Action) {
	r.add(TraceEvent{Kind: KindDispatch, Seq: action.Seq, Action: action.Type, Args: payloadArgs(action.Payload)})
}

// AddActionTrace records one journaled action.
func (r *Result) AddActionTrace(rec ir.ActionRecord, errText string) {
	r.add(TraceEvent{
		Kind:    KindAction,
		Seq:     rec.Seq,
		Action:  rec.Type,
		Args:    payloadArgs(rec.Payload),
		Outcome: rec.Outcome,
		Error:   errText,
	})
}

// AddEventTrace records an event sent to the machine.
func (r *Result) AddEventTrace(name, step string, payload map[string]any) {
	r.add(TraceEvent{Kind: KindEvent, Event: name, Step: step, Args: payloadArgs(payload)})
}

// AddBatchTrace records a batch outcome.
func (r *Result) AddBatchTrace(rec ir.BatchRecord, errText string) {
	r.add(TraceEvent{
		Kind:        KindBatch,
		BatchID:     rec.BatchID,
		Outcome:     rec.Outcome,
		Error:       errText,
		ContextHash: rec.ContextHash,
	})
}

// AddSetTrace records a direct context write.
func (r *Result) AddSetTrace(path string, value any) {
	r.add(TraceEvent{Kind: KindSet, Path: path, Args: value})
}

func payloadArgs(payload map[string]any) any {
	if len(payload) == 0 {
		return nil
	}
	return payload
}

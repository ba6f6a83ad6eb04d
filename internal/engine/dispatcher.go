package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/flowrt/internal/actions"
	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
)

// State is the dispatcher's processing state.
type State int32

const (
	// Idle means no batch is running.
	Idle State = iota
	// ProcessingBatch means a batch is running. Dispatched actions wait for
	// the next batch.
	ProcessingBatch
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ProcessingBatch:
		return "processing_batch"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// BatchResult describes a batch that completed and wrote its context back.
type BatchResult struct {
	BatchID     string
	Actions     []ir.Action
	Context     ir.Document
	ContextHash string
}

// Recorder journals processed batches.
type Recorder interface {
	RecordBatch(ctx context.Context, rec ir.BatchRecord) error
}

// BatchHook observes every batch outcome. On failure res is nil and err is
// a *BatchError.
type BatchHook func(res *BatchResult, err error)

// loadingSetter is implemented by *machine.Machine. The flag is raised for
// the duration of a batch.
type loadingSetter interface {
	SetLoading(loading bool)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithActionTimeout bounds each handler invocation. Zero means no deadline.
func WithActionTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.actionTimeout = d }
}

// WithRecorder journals every batch.
func WithRecorder(r Recorder) Option {
	return func(disp *Dispatcher) { disp.recorder = r }
}

// WithBatchIDs sets the batch id generator. Defaults to UUIDv7Generator.
func WithBatchIDs(g BatchIDGenerator) Option {
	return func(disp *Dispatcher) { disp.ids = g }
}

// WithOnBatch adds a batch hook. Hooks run after the dispatcher is Idle again.
func WithOnBatch(fn BatchHook) Option {
	return func(disp *Dispatcher) { disp.hooks = append(disp.hooks, fn) }
}

// WithClock sets the logical clock that stamps Seq. Use NewClockAt to resume
// after a journal.
func WithClock(c *Clock) Option {
	return func(disp *Dispatcher) { disp.clock = c }
}

// WithFlowID tags journal entries and spans with a flow id.
func WithFlowID(id string) Option {
	return func(disp *Dispatcher) { disp.flowID = id }
}

// Dispatcher queues actions and runs them in batches against the machine's
// context.
//
// A batch reads the context once, threads it through every handler in
// enqueue order and writes it back once at the end. If any action fails the
// rest of the batch is dropped and nothing is written back.
type Dispatcher struct {
	api      machine.API
	handlers *actions.Registry

	queue *actionQueue
	clock *Clock
	ids   BatchIDGenerator

	recorder      Recorder
	hooks         []BatchHook
	actionTimeout time.Duration
	flowID        string

	busy  atomic.Bool
	state atomic.Int32
}

// New creates a dispatcher over api using handlers.
func New(api machine.API, handlers *actions.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		api:      api,
		handlers: handlers,
		queue:    newActionQueue(),
		clock:    NewClock(),
		ids:      UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch stamps the action with the next sequence number and queues it.
// It never blocks and never runs the action. Returns false once stopped.
func (d *Dispatcher) Dispatch(action ir.Action) bool {
	_, ok := d.Submit(action)
	return ok
}

// Submit is Dispatch that also returns the sequence number the action was
// stamped with.
func (d *Dispatcher) Submit(action ir.Action) (int64, bool) {
	if action.Payload != nil {
		action.Payload = map[string]any(ir.Document(action.Payload).Clone())
	}
	queued, ok := d.queue.Enqueue(action, d.clock)
	if !ok {
		return 0, false
	}
	queueLength.Set(float64(d.queue.Len()))
	slog.Debug("action dispatched", "type", queued.Type, "seq", queued.Seq)
	return queued.Seq, true
}

// State returns the current processing state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Pending returns the number of actions waiting for the next batch.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Clock returns the dispatcher's logical clock.
func (d *Dispatcher) Clock() *Clock {
	return d.clock
}

// ProcessPending runs everything queued so far as one batch.
//
// Once started, a batch runs to completion or failure: cancelling ctx does
// not abort it. Only WithActionTimeout bounds a handler. Returns (nil, nil)
// when the queue is empty, ErrBatchInProgress when another batch is running
// and a *BatchError when the batch aborted.
func (d *Dispatcher) ProcessPending(ctx context.Context) (*BatchResult, error) {
	if d.queue.Closed() {
		return nil, ErrStopped
	}
	if !d.busy.CompareAndSwap(false, true) {
		return nil, ErrBatchInProgress
	}

	batch, res, err := d.runExclusive(ctx)
	if len(batch) == 0 {
		return nil, nil
	}
	for _, fn := range d.hooks {
		fn(res, err)
	}
	return res, err
}

func (d *Dispatcher) runExclusive(ctx context.Context) (batch []ir.Action, res *BatchResult, err error) {
	defer func() {
		d.state.Store(int32(Idle))
		d.busy.Store(false)
		// Actions dispatched during the batch are still queued.
		d.queue.Notify()
	}()

	batch = d.queue.Drain()
	queueLength.Set(float64(d.queue.Len()))
	if len(batch) == 0 {
		return nil, nil, nil
	}

	d.state.Store(int32(ProcessingBatch))
	if l, ok := d.api.(loadingSetter); ok {
		l.SetLoading(true)
		defer l.SetLoading(false)
	}
	res, err = d.processBatch(context.WithoutCancel(ctx), batch)
	return batch, res, err
}

func (d *Dispatcher) processBatch(ctx context.Context, batch []ir.Action) (*BatchResult, error) {
	batchID := d.ids.Generate()
	ctx, span := startBatchSpan(ctx, batchID, d.flowID, len(batch))
	defer span.End()

	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	slog.Debug("batch started", "batch_id", batchID, "actions", len(batch))

	doc := d.api.Context()
	if doc == nil {
		doc = ir.Document{}
	}

	records := make([]ir.ActionRecord, 0, len(batch))
	for i, action := range batch {
		next, err := d.runAction(ctx, batchID, doc, action)
		if err != nil {
			dropped := append([]ir.Action(nil), batch[i+1:]...)
			records = append(records, actionRecord(batchID, action, ir.OutcomeFailed, err))
			actionsTotal.WithLabelValues(actionLabel(action.Type), ir.OutcomeFailed).Inc()
			for _, a := range dropped {
				records = append(records, actionRecord(batchID, a, ir.OutcomeDropped, nil))
				actionsTotal.WithLabelValues(actionLabel(a.Type), ir.OutcomeDropped).Inc()
			}
			batchesTotal.WithLabelValues(ir.OutcomeFailed).Inc()

			berr := &BatchError{BatchID: batchID, Failed: action, Dropped: dropped, Err: err}
			failSpan(span, berr)
			slog.Error("batch aborted",
				"batch_id", batchID,
				"action", action.String(),
				"dropped", len(dropped),
				"error", err,
			)
			d.record(ctx, ir.BatchRecord{
				BatchID: batchID,
				FlowID:  d.flowID,
				Outcome: ir.OutcomeFailed,
				Error:   err.Error(),
				Actions: records,
			})
			return nil, berr
		}
		doc = next
		records = append(records, actionRecord(batchID, action, ir.OutcomeOK, nil))
		actionsTotal.WithLabelValues(actionLabel(action.Type), ir.OutcomeOK).Inc()
	}

	d.api.SetContext(doc)
	batchesTotal.WithLabelValues(ir.OutcomeOK).Inc()

	hash, err := ir.DocumentHash(doc)
	if err != nil {
		slog.Warn("context hash failed", "batch_id", batchID, "error", err)
	}

	slog.Info("batch processed",
		"batch_id", batchID,
		"actions", len(batch),
		"context_hash", hash,
	)
	d.record(ctx, ir.BatchRecord{
		BatchID:     batchID,
		FlowID:      d.flowID,
		Outcome:     ir.OutcomeOK,
		ContextHash: hash,
		Actions:     records,
	})

	return &BatchResult{
		BatchID:     batchID,
		Actions:     batch,
		Context:     doc.Clone(),
		ContextHash: hash,
	}, nil
}

func (d *Dispatcher) runAction(ctx context.Context, batchID string, doc ir.Document, action ir.Action) (ir.Document, error) {
	h, ok := d.handlers.Handler(action.Type)
	if !ok {
		return nil, &UnsupportedActionError{Type: action.Type, Seq: action.Seq}
	}

	ctx, span := startActionSpan(ctx, batchID, action)
	defer span.End()

	if d.actionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.actionTimeout)
		defer cancel()
	}

	next, err := runHandler(ctx, h, doc, action, d.api)
	if err == nil && next == nil {
		err = errors.New("handler returned no context")
	}
	if err != nil {
		herr := &HandlerExecutionError{Type: action.Type, Seq: action.Seq, Err: err}
		failSpan(span, herr)
		return nil, herr
	}

	slog.Debug("action executed", "batch_id", batchID, "type", action.Type, "seq", action.Seq)
	return next, nil
}

func runHandler(ctx context.Context, h actions.Handler, doc ir.Document, action ir.Action, api machine.API) (out ir.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Run(ctx, doc, action, api)
}

func (d *Dispatcher) record(ctx context.Context, rec ir.BatchRecord) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordBatch(ctx, rec); err != nil {
		slog.Error("record batch failed", "batch_id", rec.BatchID, "error", err)
	}
}

func actionRecord(batchID string, action ir.Action, outcome string, err error) ir.ActionRecord {
	id, idErr := ir.ActionID(batchID, action, action.Seq)
	if idErr != nil {
		id = fmt.Sprintf("%s/%d", batchID, action.Seq)
	}
	rec := ir.ActionRecord{
		ID:      id,
		Seq:     action.Seq,
		Type:    action.Type,
		Payload: action.Payload,
		Outcome: outcome,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	return rec
}

// Run processes batches until ctx is cancelled or Stop is called.
//
// Run is the dispatcher's single worker. Callers that drive batches
// synchronously with ProcessPending don't need it.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("dispatcher starting", "flow_id", d.flowID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopping: context cancelled")
			return ctx.Err()

		case _, ok := <-d.queue.Wait():
			if !ok {
				slog.Info("dispatcher stopping: queue closed")
				return nil
			}
			_, err := d.ProcessPending(ctx)
			switch {
			case errors.Is(err, ErrBatchInProgress):
				// The running batch re-signals the queue when it finishes.
			case errors.Is(err, ErrStopped):
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns and further dispatches are rejected.
// Actions still queued are discarded.
func (d *Dispatcher) Stop() {
	d.queue.Close()
	d.queue.Drain()
	queueLength.Set(0)
}

package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/flowrt/internal/actions"
	"github.com/roach88/flowrt/internal/engine"
	"github.com/roach88/flowrt/internal/events"
	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
)

// DefaultFlowID is used when FlowOptions.FlowID is empty.
const DefaultFlowID = "test-flow-default"

// FlowOptions configures NewFlow.
type FlowOptions struct {
	// FlowID tags journal entries. Defaults to DefaultFlowID.
	FlowID string

	// Definition seeds the UI state with one step per page. Optional.
	Definition *ir.Definition

	// Context is the initial evaluation context.
	Context ir.Document

	// Handlers are registered in order. Duplicate types are an error.
	Handlers []actions.Handler

	// Recorder journals batches. Optional.
	Recorder engine.Recorder

	// Persister stores the context after every write. Optional.
	Persister machine.Persister

	// Sinks receive machine events in addition to the flow's EventLog.
	Sinks []events.Sink

	// Hooks observe batch outcomes.
	Hooks []engine.BatchHook
}

// Flow is a machine and a dispatcher wired for deterministic tests.
//
// Batch ids are "batch-1", "batch-2", ... and sequence numbers start at 1,
// so the same inputs produce byte-identical journals.
type Flow struct {
	FlowID     string
	Machine    *machine.Machine
	Dispatcher *engine.Dispatcher
	Events     *EventLog
}

// NewFlow builds a Flow. It never starts the dispatcher's worker; callers
// drive batches with Dispatcher.ProcessPending.
func NewFlow(opts FlowOptions) (*Flow, error) {
	flowID := opts.FlowID
	if flowID == "" {
		flowID = DefaultFlowID
	}

	reg, err := actions.NewRegistry(opts.Handlers...)
	if err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}

	log := &EventLog{}
	sink := events.Fanout(append([]events.Sink{log}, opts.Sinks...))
	mopts := []machine.Option{machine.WithSink(sink)}
	if opts.Persister != nil {
		mopts = append(mopts, machine.WithPersister(opts.Persister))
	}
	m := machine.New(opts.Context, ir.NewUIState(opts.Definition), mopts...)

	dopts := []engine.Option{
		engine.WithFlowID(flowID),
		engine.WithBatchIDs(engine.NewSequentialGenerator("batch")),
	}
	if opts.Recorder != nil {
		dopts = append(dopts, engine.WithRecorder(opts.Recorder))
	}
	for _, h := range opts.Hooks {
		dopts = append(dopts, engine.WithOnBatch(h))
	}

	return &Flow{
		FlowID:     flowID,
		Machine:    m,
		Dispatcher: engine.New(m, reg, dopts...),
		Events:     log,
	}, nil
}

// EventLog records every published event. Safe for concurrent use.
type EventLog struct {
	mu     sync.Mutex
	events []events.Event
}

// Publish implements events.Sink.
func (l *EventLog) Publish(_ context.Context, ev events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

// Events returns a copy of the recorded events, in publish order.
func (l *EventLog) Events() []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.Event(nil), l.events...)
}

// Names returns the recorded event names, in publish order.
func (l *EventLog) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, len(l.events))
	for i, ev := range l.events {
		names[i] = ev.Name
	}
	return names
}

// Since returns the events recorded after the first n.
func (l *EventLog) Since(n int) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n >= len(l.events) {
		return nil
	}
	return append([]events.Event(nil), l.events[n:]...)
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

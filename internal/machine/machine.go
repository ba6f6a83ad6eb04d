// Package machine owns the single live evaluation context of a flow and its
// UI state. Handlers and the dispatcher read and write through the API
// interface; rule watchers observe changes through Subscribe.
package machine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/flowrt/internal/events"
	"github.com/roach88/flowrt/internal/ir"
)

// Stepper event names.
const (
	EventNext     = "NEXT"
	EventPrevious = "PREVIOUS"
)

// API is the state-machine surface consumed by action handlers and the
// dispatcher.
type API interface {
	// Context returns a deep copy of the live context.
	Context() ir.Document
	// SetContext replaces the live context wholesale.
	SetContext(doc ir.Document)
	UIState() ir.UIState
	SendEvent(ctx context.Context, name string, payload map[string]any) error

	Next()
	Prev()
	CompleteCurrent()
	Invalidate(index int, reason string)
	Warning(index int, reason string)
	UpdateStep(index int, data map[string]any)
}

// Change describes a context or state mutation.
type Change struct {
	ContextVersion uint64
	StateVersion   uint64
	ContextChanged bool
	StateChanged   bool
}

// Persister stores the context after every SetContext.
type Persister interface {
	PersistContext(doc ir.Document, version uint64) error
}

// Option configures a Machine.
type Option func(*Machine)

// WithSink sets the sink events are published to.
func WithSink(s events.Sink) Option {
	return func(m *Machine) { m.sink = s }
}

// WithPersister sets the context persister.
func WithPersister(p Persister) Option {
	return func(m *Machine) { m.persister = p }
}

// Machine implements API. All reads and writes are serialized by an RWMutex.
type Machine struct {
	mu           sync.RWMutex
	doc          ir.Document
	state        ir.UIState
	ctxVersion   uint64
	stateVersion uint64
	eventSeq     int64

	sink      events.Sink
	persister Persister

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

var _ API = (*Machine)(nil)

// New creates a machine holding a copy of initial.
func New(initial ir.Document, state ir.UIState, opts ...Option) *Machine {
	if initial == nil {
		initial = ir.Document{}
	}
	m := &Machine{
		doc:   initial.Clone(),
		state: state.Copy(),
		sink:  events.Discard,
		subs:  make(map[int]func(Change)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context implements API.
func (m *Machine) Context() ir.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Clone()
}

// SetContext implements API.
func (m *Machine) SetContext(doc ir.Document) {
	if doc == nil {
		doc = ir.Document{}
	}
	m.mu.Lock()
	m.doc = doc.Clone()
	m.ctxVersion++
	snapshot, version := m.doc, m.ctxVersion
	change := m.changeLocked(true, false)
	m.mu.Unlock()

	if m.persister != nil {
		if err := m.persister.PersistContext(snapshot.Clone(), version); err != nil {
			slog.Error("persist context failed", "version", version, "error", err)
		}
	}
	m.notify(change)
}

// UIState implements API.
func (m *Machine) UIState() ir.UIState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Copy()
}

// Snapshot returns a consistent copy of context, state and versions.
func (m *Machine) Snapshot() (ir.Document, ir.UIState, Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Clone(), m.state.Copy(), Change{ContextVersion: m.ctxVersion, StateVersion: m.stateVersion}
}

// Version returns the context and state versions.
func (m *Machine) Version() (contextVersion, stateVersion uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ctxVersion, m.stateVersion
}

// SendEvent implements API. NEXT and PREVIOUS move the stepper before the
// event is published.
func (m *Machine) SendEvent(ctx context.Context, name string, payload map[string]any) error {
	if name == "" {
		return fmt.Errorf("send event: empty event name")
	}
	switch name {
	case EventNext:
		m.Next()
	case EventPrevious:
		m.Prev()
	}

	m.mu.Lock()
	m.eventSeq++
	ev := events.Event{Seq: m.eventSeq, Name: name}
	if payload != nil {
		ev.Payload = ir.Document(payload).Clone()
	}
	if cur, ok := m.state.Current(); ok {
		ev.Step = cur.Name
	}
	m.mu.Unlock()

	slog.Debug("event sent", "event", name, "seq", ev.Seq, "step", ev.Step)
	if err := m.sink.Publish(ctx, ev); err != nil {
		return fmt.Errorf("send event %s: %w", name, err)
	}
	return nil
}

// Next implements API. The last step stays current.
func (m *Machine) Next() {
	m.mutateState(func(s *ir.UIState) bool {
		if s.CurrentStep+1 >= len(s.Steps) {
			return false
		}
		s.CurrentStep++
		return true
	})
}

// Prev implements API. The first step stays current.
func (m *Machine) Prev() {
	m.mutateState(func(s *ir.UIState) bool {
		if s.CurrentStep <= 0 {
			return false
		}
		s.CurrentStep--
		return true
	})
}

// CompleteCurrent implements API.
func (m *Machine) CompleteCurrent() {
	m.mutateState(func(s *ir.UIState) bool {
		if _, ok := s.Current(); !ok {
			return false
		}
		s.Steps[s.CurrentStep].Status = ir.StepCompleted
		s.Steps[s.CurrentStep].Reason = ""
		return true
	})
}

// Invalidate implements API.
func (m *Machine) Invalidate(index int, reason string) {
	m.setStatus(index, ir.StepInvalid, reason)
}

// Warning implements API.
func (m *Machine) Warning(index int, reason string) {
	m.setStatus(index, ir.StepWarning, reason)
}

// UpdateStep implements API. data is deep-merged into the step's data.
func (m *Machine) UpdateStep(index int, data map[string]any) {
	m.mutateState(func(s *ir.UIState) bool {
		if index < 0 || index >= len(s.Steps) {
			return false
		}
		s.Steps[index].Data = map[string]any(ir.Document(s.Steps[index].Data).Merge(data))
		return true
	})
}

// SetLoading toggles the state's loading flag.
func (m *Machine) SetLoading(loading bool) {
	m.mutateState(func(s *ir.UIState) bool {
		if s.Loading == loading {
			return false
		}
		s.Loading = loading
		return true
	})
}

func (m *Machine) setStatus(index int, status ir.StepStatus, reason string) {
	m.mutateState(func(s *ir.UIState) bool {
		if index < 0 || index >= len(s.Steps) {
			return false
		}
		s.Steps[index].Status = status
		s.Steps[index].Reason = reason
		return true
	})
}

// mutateState applies fn under the write lock; fn reports whether it
// changed anything.
func (m *Machine) mutateState(fn func(*ir.UIState) bool) {
	m.mu.Lock()
	if !fn(&m.state) {
		m.mu.Unlock()
		return
	}
	m.stateVersion++
	change := m.changeLocked(false, true)
	m.mu.Unlock()
	m.notify(change)
}

func (m *Machine) changeLocked(ctxChanged, stateChanged bool) Change {
	return Change{
		ContextVersion: m.ctxVersion,
		StateVersion:   m.stateVersion,
		ContextChanged: ctxChanged,
		StateChanged:   stateChanged,
	}
}

// Subscribe registers fn to be called after every change, outside the
// machine's lock. The returned function unsubscribes.
func (m *Machine) Subscribe(fn func(Change)) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Machine) notify(c Change) {
	m.subMu.Lock()
	fns := make([]func(Change), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

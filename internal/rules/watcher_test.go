package rules

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
)

func TestWatcherRecomputesOnChange(t *testing.T) {
	m := machine.New(ir.Document{}, ir.UIState{Steps: []ir.Step{{Name: "a"}, {Name: "b"}}})
	rules := []ir.Rule{logicRule(t, `{"==": [{"var": "foo"}, 1]}`)}
	w := NewWatcher(NewExecutor(nil), m, rules, nil)
	defer w.Close()

	require.Equal(t, 1, w.Runs())
	assert.False(t, w.Results()[0].Result)

	var notified [][]ir.RuleTestResult
	w.Subscribe(func(r []ir.RuleTestResult) { notified = append(notified, r) })

	m.SetContext(ir.Document{"foo": 1.0})
	assert.Equal(t, 2, w.Runs())
	assert.True(t, w.Results()[0].Result)
	require.Len(t, notified, 1)

	m.Next()
	assert.Equal(t, 3, w.Runs(), "state changes recompute")

	assert.False(t, w.Refresh(), "nothing changed")
	w.SetRules(rules, nil)
	assert.Equal(t, 3, w.Runs(), "same rule slice and element do not recompute")

	w.SetRules([]ir.Rule{logicRule(t, `false`)}, nil)
	assert.Equal(t, 4, w.Runs())
	assert.False(t, w.Results()[0].Result)

	w.SetRules(w.rules, &ir.UIElement{Name: "x"})
	assert.Equal(t, 5, w.Runs(), "element identity change recomputes")
}

func TestWatcherCloseStopsFollowing(t *testing.T) {
	m := machine.New(ir.Document{}, ir.UIState{})
	w := NewWatcher(NewExecutor(nil), m, []ir.Rule{{Type: "xpath"}}, nil)
	require.Error(t, w.Err())

	w.Close()
	m.SetContext(ir.Document{"a": 1.0})
	assert.Equal(t, 1, w.Runs())
}

// gatedSource is a Source whose next Snapshot can be held open after it has
// read the state, so a refresh can be stalled mid-flight.
type gatedSource struct {
	mu      sync.Mutex
	doc     ir.Document
	version machine.Change
	gate    chan struct{}
	entered chan struct{}
}

func (s *gatedSource) Snapshot() (ir.Document, ir.UIState, machine.Change) {
	s.mu.Lock()
	doc, version, gate, entered := s.doc.Clone(), s.version, s.gate, s.entered
	s.gate, s.entered = nil, nil
	s.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return doc, ir.UIState{}, version
}

func (s *gatedSource) Subscribe(func(machine.Change)) func() { return func() {} }

func (s *gatedSource) set(doc ir.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.version.ContextVersion++
}

// holdNext stalls the next Snapshot until the returned release is called.
func (s *gatedSource) holdNext() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{})
	return s.entered, func() { close(s.gate) }
}

func TestWatcherSlowRefreshDoesNotOverwriteNewerResults(t *testing.T) {
	src := &gatedSource{doc: ir.Document{"ok": false}}
	w := NewWatcher(NewExecutor(nil), src, []ir.Rule{logicRule(t, `{"var": "ok"}`)}, nil)
	defer w.Close()

	var mu sync.Mutex
	var last []ir.RuleTestResult
	w.Subscribe(func(r []ir.RuleTestResult) {
		mu.Lock()
		last = r
		mu.Unlock()
	})

	// A reads the old context and stalls.
	src.set(ir.Document{"ok": false})
	entered, release := src.holdNext()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); w.Refresh() }()
	<-entered

	// B refreshes after the context moved on.
	src.set(ir.Document{"ok": true})
	go func() { defer wg.Done(); w.Refresh() }()
	time.Sleep(20 * time.Millisecond)

	release()
	wg.Wait()

	require.Len(t, w.Results(), 1)
	assert.True(t, w.Results()[0].Result, "results must reflect the newest context")
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, last, 1)
	assert.True(t, last[0].Result, "subscribers must end on the newest results")

	assert.False(t, w.Refresh(), "already current")
}

func TestWatcherUnsubscribe(t *testing.T) {
	m := machine.New(ir.Document{}, ir.UIState{})
	w := NewWatcher(NewExecutor(nil), m, []ir.Rule{logicRule(t, `{"var": "a"}`)}, nil)
	defer w.Close()

	calls := 0
	unsubscribe := w.Subscribe(func([]ir.RuleTestResult) { calls++ })
	m.SetContext(ir.Document{"a": 1.0})
	unsubscribe()
	m.SetContext(ir.Document{"a": 2.0})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, w.Runs())
}

func TestElementWatcherFollowsCurrentPage(t *testing.T) {
	def := &ir.Definition{Pages: []*ir.Page{
		{StateName: "details", Elements: []*ir.UIElement{{
			Name: "submit",
			AvailableOn: []ir.Rule{
				{Type: DialectJSONLogic, Value: map[string]any{"!!": []any{map[string]any{"var": "name"}}}},
			},
		}}},
		{StateName: "review", Elements: []*ir.UIElement{{Name: "confirm"}}},
	}}
	m := machine.New(ir.Document{}, ir.NewUIState(def))
	w := NewElementWatcher(NewExecutor(nil), m, def)
	defer w.Close()

	require.NoError(t, w.Err())
	got := w.Results()
	require.Len(t, got, 1)
	assert.Equal(t, "submit", got[0].Name)
	assert.False(t, got[0].Available)

	var pushed [][]ElementResult
	w.Subscribe(func(r []ElementResult) { pushed = append(pushed, r) })

	m.SetContext(ir.Document{"name": "Acme"})
	assert.True(t, w.Results()[0].Available)

	m.Next()
	got = w.Results()
	require.Len(t, got, 1)
	assert.Equal(t, "review", got[0].Page)
	assert.Equal(t, "confirm", got[0].Name)

	require.Len(t, pushed, 2)
	assert.True(t, pushed[0][0].Available)
	assert.Equal(t, 3, w.Runs())
}

package rules

import (
	"sync"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
)

// Source is the observable state a Watcher evaluates against.
// *machine.Machine implements it.
type Source interface {
	Snapshot() (ir.Document, ir.UIState, machine.Change)
	Subscribe(fn func(machine.Change)) func()
}

// watch is the recompute loop shared by Watcher and ElementWatcher. compute
// and inputs run under mu.
type watch[T any] struct {
	src     Source
	compute func(doc ir.Document, state ir.UIState) (T, error)
	inputs  func() any
	clone   func(T) T

	mu         sync.Mutex
	computed   bool
	seen       machine.Change
	seenInputs any
	results    T
	err        error
	runs       int
	gen        uint64
	nextSub    int
	subs       map[int]func(T)

	pubMu     sync.Mutex
	published uint64

	unsubscribe func()
}

func (w *watch[T]) follow() {
	w.Refresh()
	w.unsubscribe = w.src.Subscribe(func(machine.Change) { w.Refresh() })
}

// Refresh recomputes if the versions or the inputs changed since the last
// computation and reports whether it did.
//
// The snapshot is taken under mu, so computations happen in version order.
// Subscribers are called outside mu but never see a generation older than
// one they were already given.
func (w *watch[T]) Refresh() bool {
	w.mu.Lock()
	doc, state, version := w.src.Snapshot()
	var inputs any
	if w.inputs != nil {
		inputs = w.inputs()
	}
	if w.computed &&
		w.seen.ContextVersion == version.ContextVersion &&
		w.seen.StateVersion == version.StateVersion &&
		w.seenInputs == inputs {
		w.mu.Unlock()
		return false
	}

	results, err := w.compute(doc, state)
	w.results, w.err = results, err
	w.computed = true
	w.seen, w.seenInputs = version, inputs
	w.runs++
	w.gen++
	gen := w.gen
	subs := make([]func(T), 0, len(w.subs))
	for _, fn := range w.subs {
		subs = append(subs, fn)
	}
	w.mu.Unlock()

	w.pubMu.Lock()
	defer w.pubMu.Unlock()
	if gen < w.published {
		return true
	}
	w.published = gen
	for _, fn := range subs {
		fn(w.clone(results))
	}
	return true
}

// Results returns the latest results.
func (w *watch[T]) Results() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clone(w.results)
}

// Err returns the error of the latest computation.
func (w *watch[T]) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Runs returns how many times results were computed.
func (w *watch[T]) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// Subscribe registers fn for every recomputation. The returned function
// unsubscribes.
func (w *watch[T]) Subscribe(fn func(T)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.subs == nil {
		w.subs = make(map[int]func(T))
	}
	id := w.nextSub
	w.nextSub++
	w.subs[id] = fn
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.subs, id)
	}
}

// Close stops following the source.
func (w *watch[T]) Close() {
	if w.unsubscribe != nil {
		w.unsubscribe()
	}
}

// Watcher keeps the results of one rule list current. It recomputes when
// the context version, the state version, the rule slice or the element
// changes, and only then.
type Watcher struct {
	watch[[]ir.RuleTestResult]

	rules   []ir.Rule
	element *ir.UIElement
}

type ruleInputs struct {
	head    *ir.Rule
	n       int
	element *ir.UIElement
}

// NewWatcher evaluates rules once and then follows src.
func NewWatcher(exec *Executor, src Source, rules []ir.Rule, element *ir.UIElement) *Watcher {
	w := &Watcher{rules: rules, element: element}
	w.src = src
	w.clone = cloneResults
	w.inputs = func() any {
		return ruleInputs{head: sliceHead(w.rules), n: len(w.rules), element: w.element}
	}
	w.compute = func(doc ir.Document, state ir.UIState) ([]ir.RuleTestResult, error) {
		return exec.Execute(doc, w.rules, w.element, state)
	}
	w.follow()
	return w
}

// SetRules swaps the observed rule list and element. Passing the same
// slice and element does not recompute.
func (w *Watcher) SetRules(rules []ir.Rule, element *ir.UIElement) {
	w.mu.Lock()
	w.rules = rules
	w.element = element
	w.mu.Unlock()
	w.Refresh()
}

// ElementWatcher keeps the element results of the current step's page
// current. Without a current step every page is evaluated.
type ElementWatcher struct {
	watch[[]ElementResult]
}

// NewElementWatcher evaluates def once and then follows src.
func NewElementWatcher(exec *Executor, src Source, def *ir.Definition) *ElementWatcher {
	w := &ElementWatcher{}
	w.src = src
	w.clone = cloneElementResults
	w.compute = func(doc ir.Document, state ir.UIState) ([]ElementResult, error) {
		page := ""
		if cur, ok := state.Current(); ok {
			page = cur.Name
		}
		return exec.EvaluateElements(doc, def, state, page)
	}
	w.follow()
	return w
}

func sliceHead(rules []ir.Rule) *ir.Rule {
	if len(rules) == 0 {
		return nil
	}
	return &rules[0]
}

func cloneResults(in []ir.RuleTestResult) []ir.RuleTestResult {
	if in == nil {
		return nil
	}
	out := make([]ir.RuleTestResult, len(in))
	copy(out, in)
	return out
}

func cloneElementResults(in []ElementResult) []ElementResult {
	if in == nil {
		return nil
	}
	out := make([]ElementResult, len(in))
	copy(out, in)
	return out
}

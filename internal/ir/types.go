package ir

import "fmt"

// Action is a request to perform a side effect.
//
// Actions are immutable once enqueued. The dispatcher stamps Seq from its
// logical clock when the action is accepted.
type Action struct {
	Type    string         `json:"type" yaml:"type"`
	Payload map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
	Seq     int64          `json:"seq,omitempty" yaml:"-"`
}

// String renders the action for logs.
func (a Action) String() string {
	if a.Seq == 0 {
		return a.Type
	}
	return fmt.Sprintf("%s#%d", a.Type, a.Seq)
}

// PayloadString returns a string payload field, or "" when absent or not a string.
func (a Action) PayloadString(key string) string {
	s, _ := a.Payload[key].(string)
	return s
}

// Rule is a dialect tag plus a dialect-specific expression.
//
// Rules are declared statically in a UI definition and never mutated.
type Rule struct {
	Type  string `json:"type" yaml:"type"`
	Value any    `json:"value" yaml:"value"`
}

// RuleError is a single diagnostic produced while testing a rule.
type RuleError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// RuleTestResult is the outcome of testing one rule.
//
// Result lists are ordered like the rule list they were produced from;
// consumers index into them positionally.
type RuleTestResult struct {
	Rule   Rule        `json:"rule"`
	Result bool        `json:"result"`
	Value  any         `json:"value,omitempty"`
	Errors []RuleError `json:"errors,omitempty"`
}

// UIElement is one node of a page definition.
type UIElement struct {
	Name             string         `json:"name,omitempty" yaml:"name,omitempty"`
	Type             string         `json:"type" yaml:"type"`
	Value            any            `json:"value,omitempty" yaml:"value,omitempty"`
	ValueDestination string         `json:"valueDestination,omitempty" yaml:"valueDestination,omitempty"`
	Options          map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
	VisibleOn        []Rule         `json:"visibleOn,omitempty" yaml:"visibleOn,omitempty"`
	AvailableOn      []Rule         `json:"availableOn,omitempty" yaml:"availableOn,omitempty"`
	Actions          []Action       `json:"actions,omitempty" yaml:"actions,omitempty"`
	Elements         []*UIElement   `json:"elements,omitempty" yaml:"elements,omitempty"`
}

// Walk visits the element and its descendants depth-first, pre-order.
// Returning false from fn stops the walk below that element.
func (e *UIElement) Walk(fn func(*UIElement) bool) {
	if e == nil {
		return
	}
	if !fn(e) {
		return
	}
	for _, child := range e.Elements {
		child.Walk(fn)
	}
}

// Page is one step of a collection flow.
type Page struct {
	Type      string       `json:"type" yaml:"type"`
	Number    int          `json:"number" yaml:"number"`
	StateName string       `json:"stateName" yaml:"stateName"`
	Name      string       `json:"name" yaml:"name"`
	Elements  []*UIElement `json:"elements,omitempty" yaml:"elements,omitempty"`
	Actions   []Action     `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Definition is the static UI definition of a flow.
type Definition struct {
	Pages []*Page `json:"pages" yaml:"pages"`
}

// Page returns the page with the given state name.
func (d *Definition) Page(stateName string) (*Page, bool) {
	for _, p := range d.Pages {
		if p.StateName == stateName {
			return p, true
		}
	}
	return nil, false
}

// Element finds an element by name across all pages.
func (d *Definition) Element(name string) (*UIElement, bool) {
	var found *UIElement
	for _, p := range d.Pages {
		for _, el := range p.Elements {
			el.Walk(func(e *UIElement) bool {
				if found == nil && e.Name == name {
					found = e
				}
				return found == nil
			})
		}
	}
	return found, found != nil
}

// CountElements returns the number of elements on all pages, nested ones
// included.
func (d *Definition) CountElements() int {
	n := 0
	for _, p := range d.Pages {
		for _, el := range p.Elements {
			el.Walk(func(*UIElement) bool {
				n++
				return true
			})
		}
	}
	return n
}

// StepStatus is the status of one flow step.
type StepStatus string

const (
	StepIdle      StepStatus = "idle"
	StepCompleted StepStatus = "completed"
	StepWarning   StepStatus = "warning"
	StepInvalid   StepStatus = "invalid"
)

// Step is the ambient state of one flow step.
type Step struct {
	Name   string         `json:"name"`
	Status StepStatus     `json:"status"`
	Reason string         `json:"reason,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// UIState is the ambient flow state visible to rules and handlers.
type UIState struct {
	CurrentStep int    `json:"currentStep"`
	Steps       []Step `json:"steps"`
	Loading     bool   `json:"loading,omitempty"`
}

// Copy makes a deep copy of the state.
func (s UIState) Copy() UIState {
	steps := make([]Step, len(s.Steps))
	for i, st := range s.Steps {
		steps[i] = st
		if st.Data != nil {
			steps[i].Data = Document(st.Data).Clone()
		}
	}
	return UIState{
		CurrentStep: s.CurrentStep,
		Steps:       steps,
		Loading:     s.Loading,
	}
}

// Current returns the current step, or false when there are no steps.
func (s UIState) Current() (Step, bool) {
	if s.CurrentStep < 0 || s.CurrentStep >= len(s.Steps) {
		return Step{}, false
	}
	return s.Steps[s.CurrentStep], true
}

// AsMap exposes the state to rule dialects as a JSON-shaped value.
func (s UIState) AsMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, st := range s.Steps {
		m := map[string]any{
			"name":   st.Name,
			"status": string(st.Status),
		}
		if st.Reason != "" {
			m["reason"] = st.Reason
		}
		if st.Data != nil {
			m["data"] = map[string]any(Document(st.Data).Clone())
		}
		steps[i] = m
	}
	out := map[string]any{
		"currentStep": float64(s.CurrentStep),
		"steps":       steps,
		"loading":     s.Loading,
	}
	if cur, ok := s.Current(); ok {
		out["current"] = cur.Name
	}
	return out
}

// NewUIState creates a state with one idle step per page, in page order.
func NewUIState(def *Definition) UIState {
	if def == nil {
		return UIState{}
	}
	steps := make([]Step, len(def.Pages))
	for i, p := range def.Pages {
		name := p.StateName
		if name == "" {
			name = p.Name
		}
		steps[i] = Step{Name: name, Status: StepIdle}
	}
	return UIState{Steps: steps}
}

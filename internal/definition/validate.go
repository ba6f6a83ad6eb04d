package definition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/flowrt/internal/actions"
	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/rules"
)

// Validation error codes (E200-E299)
const (
	// Page errors (E201-E209)
	ErrNoPages            = "E201" // definition has no pages
	ErrPageStateNameEmpty = "E202" // page has no stateName
	ErrDuplicateName      = "E203" // duplicate page state name or element name
	ErrElementTypeEmpty   = "E204" // element has no type

	// Rule errors (E210-E219)
	ErrUnsupportedDialect = "E210" // rule type has no registered engine
	ErrInvalidRule        = "E211" // rule expression does not compile

	// Action errors (E220-E229)
	ErrActionTypeEmpty   = "E220" // action has no type
	ErrUnknownActionType = "E221" // no handler for action type
	ErrUnknownPlugin     = "E222" // plugin action names an unregistered plugin
)

// ValidationError is one static problem in a definition.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Options selects what Validate checks against. Nil fields skip the check.
type Options struct {
	Rules       *rules.Registry // defaults to rules.Default()
	ActionTypes []string
	Plugins     []string
}

// Validate checks a definition and returns every error found.
func Validate(def *ir.Definition, opts Options) []ValidationError {
	v := &validator{
		rules:       opts.Rules,
		actionTypes: toSet(opts.ActionTypes),
		plugins:     toSet(opts.Plugins),
		elements:    make(map[string]string),
	}
	if v.rules == nil {
		v.rules = rules.Default()
	}

	if def == nil || len(def.Pages) == 0 {
		v.add("pages", ErrNoPages, "at least one page is required")
		return v.errs
	}

	states := make(map[string]bool)
	for i, page := range def.Pages {
		field := fmt.Sprintf("pages[%d]", i)
		if page == nil {
			v.add(field, ErrPageStateNameEmpty, "page is null")
			continue
		}
		if strings.TrimSpace(page.StateName) == "" {
			v.add(field+".stateName", ErrPageStateNameEmpty, "stateName is required")
		} else if states[page.StateName] {
			v.add(field+".stateName", ErrDuplicateName, fmt.Sprintf("duplicate page stateName: %q", page.StateName))
		}
		states[page.StateName] = true

		for j, el := range page.Elements {
			v.element(fmt.Sprintf("%s.elements[%d]", field, j), el)
		}
		v.actions(field+".actions", page.Actions)
	}
	return v.errs
}

type validator struct {
	rules       *rules.Registry
	actionTypes map[string]bool
	plugins     map[string]bool
	elements    map[string]string // name -> first field path
	errs        []ValidationError
}

func (v *validator) add(field, code, msg string) {
	v.errs = append(v.errs, ValidationError{Field: field, Code: code, Message: msg})
}

func (v *validator) element(field string, el *ir.UIElement) {
	if el == nil {
		return
	}
	if strings.TrimSpace(el.Type) == "" {
		v.add(field+".type", ErrElementTypeEmpty, "element type is required")
	}
	if el.Name != "" {
		if first, seen := v.elements[el.Name]; seen {
			v.add(field+".name", ErrDuplicateName, fmt.Sprintf("duplicate element name %q (first at %s)", el.Name, first))
		} else {
			v.elements[el.Name] = field
		}
	}

	v.ruleList(field+".visibleOn", el.VisibleOn)
	v.ruleList(field+".availableOn", el.AvailableOn)
	v.actions(field+".actions", el.Actions)

	for i, child := range el.Elements {
		v.element(fmt.Sprintf("%s.elements[%d]", field, i), child)
	}
}

func (v *validator) ruleList(field string, list []ir.Rule) {
	for i, rule := range list {
		path := fmt.Sprintf("%s[%d]", field, i)
		err := v.rules.Compile(rule)
		if err == nil {
			continue
		}
		var ude *rules.UnsupportedDialectError
		if errors.As(err, &ude) {
			v.add(path+".type", ErrUnsupportedDialect, err.Error())
			continue
		}
		v.add(path+".value", ErrInvalidRule, err.Error())
	}
}

func (v *validator) actions(field string, list []ir.Action) {
	for i, a := range list {
		path := fmt.Sprintf("%s[%d]", field, i)
		if strings.TrimSpace(a.Type) == "" {
			v.add(path+".type", ErrActionTypeEmpty, "action type is required")
			continue
		}
		if v.actionTypes != nil && !v.actionTypes[a.Type] {
			v.add(path+".type", ErrUnknownActionType, fmt.Sprintf("no handler for action type %q", a.Type))
		}
		if a.Type == actions.TypePlugin && v.plugins != nil {
			name := a.PayloadString("pluginName")
			if !v.plugins[name] {
				v.add(path+".payload.pluginName", ErrUnknownPlugin, fmt.Sprintf("unknown plugin %q", name))
			}
		}
	}
}

func toSet(items []string) map[string]bool {
	if items == nil {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// Err joins validation errors into one error, or nil.
func Err(errs []ValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

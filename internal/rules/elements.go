package rules

import (
	"errors"
	"fmt"

	"github.com/roach88/flowrt/internal/ir"
)

// ElementResult is the rule outcome of one element.
type ElementResult struct {
	Page        string              `json:"page"`
	Name        string              `json:"name,omitempty"`
	Type        string              `json:"type"`
	Visible     bool                `json:"visible"`
	Available   bool                `json:"available"`
	VisibleOn   []ir.RuleTestResult `json:"visibleOn,omitempty"`
	AvailableOn []ir.RuleTestResult `json:"availableOn,omitempty"`
}

// EvaluateElements evaluates visibleOn and availableOn for every element
// that has a name or rules, in definition order. An empty stateName covers
// all pages.
//
// Elements below an invisible parent are reported invisible without
// evaluating their visibleOn rules.
func (x *Executor) EvaluateElements(doc ir.Document, def *ir.Definition, state ir.UIState, stateName string) ([]ElementResult, error) {
	if def == nil {
		return nil, errors.New("evaluate elements: nil definition")
	}

	var out []ElementResult
	var errs []error
	found := stateName == ""
	for _, page := range def.Pages {
		if stateName != "" && page.StateName != stateName {
			continue
		}
		found = true
		for _, el := range page.Elements {
			x.walkElement(doc, page.StateName, el, state, true, &out, &errs)
		}
	}
	if !found {
		return nil, fmt.Errorf("evaluate elements: no page %q", stateName)
	}
	return out, errors.Join(errs...)
}

func (x *Executor) walkElement(doc ir.Document, page string, el *ir.UIElement, state ir.UIState, parentVisible bool, out *[]ElementResult, errs *[]error) {
	if el == nil {
		return
	}

	res := ElementResult{Page: page, Name: el.Name, Type: el.Type, Visible: parentVisible}
	if parentVisible && len(el.VisibleOn) > 0 {
		results, err := x.Execute(doc, el.VisibleOn, el, state)
		if err != nil {
			*errs = append(*errs, err)
		}
		res.VisibleOn = results
		res.Visible = AllPassed(results)
	}
	results, err := x.Execute(doc, el.AvailableOn, el, state)
	if err != nil {
		*errs = append(*errs, err)
	}
	res.AvailableOn = results
	res.Available = AllPassed(results)

	if el.Name != "" || len(el.VisibleOn) > 0 || len(el.AvailableOn) > 0 {
		*out = append(*out, res)
	}
	for _, child := range el.Elements {
		x.walkElement(doc, page, child, state, res.Visible, out, errs)
	}
}

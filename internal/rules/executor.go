package rules

import (
	"errors"

	"github.com/roach88/flowrt/internal/ir"
)

// Executor evaluates rule lists through a Registry.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an executor. A nil registry means Default().
func NewExecutor(registry *Registry) *Executor {
	if registry == nil {
		registry = Default()
	}
	return &Executor{registry: registry}
}

// Registry returns the registry rules are resolved against.
func (x *Executor) Registry() *Registry { return x.registry }

// Execute tests every rule and returns one result per rule, in input order.
//
// A rule whose dialect is not registered yields Result=false with an error
// detail and does not stop the remaining rules. Every lookup failure is
// returned joined, so callers can errors.As for *UnsupportedDialectError.
func (x *Executor) Execute(doc ir.Document, rules []ir.Rule, element *ir.UIElement, state ir.UIState) ([]ir.RuleTestResult, error) {
	results := make([]ir.RuleTestResult, len(rules))
	var errs []error
	for i, rule := range rules {
		engine, err := x.registry.Engine(rule.Type)
		if err != nil {
			errs = append(errs, err)
			results[i] = failed(rule, "", err)
			rulesEvaluatedTotal.WithLabelValues(sanitizeDialect(rule.Type), "error").Inc()
			continue
		}
		res := engine.Test(doc, rule, element, state)
		res.Rule = rule
		results[i] = res
		rulesEvaluatedTotal.WithLabelValues(rule.Type, ruleOutcome(res.Result, len(res.Errors))).Inc()
	}
	return results, errors.Join(errs...)
}

// Visible evaluates an element's visibleOn rules. An element without rules
// is visible.
func (x *Executor) Visible(doc ir.Document, element *ir.UIElement, state ir.UIState) (bool, error) {
	if element == nil {
		return false, nil
	}
	results, err := x.Execute(doc, element.VisibleOn, element, state)
	return AllPassed(results), err
}

// Available evaluates an element's availableOn rules. An element without
// rules is available.
func (x *Executor) Available(doc ir.Document, element *ir.UIElement, state ir.UIState) (bool, error) {
	if element == nil {
		return false, nil
	}
	results, err := x.Execute(doc, element.AvailableOn, element, state)
	return AllPassed(results), err
}

// AllPassed reports whether every result passed. An empty list passes.
func AllPassed(results []ir.RuleTestResult) bool {
	for _, r := range results {
		if !r.Result {
			return false
		}
	}
	return true
}

package rules

import (
	"fmt"

	"github.com/roach88/flowrt/internal/ir"
)

// Dialect tags understood by the default registry.
const (
	DialectJSONLogic  = "json-logic"
	DialectJSONSchema = "json-schema"
	DialectJMESPath   = "jmespath"
	DialectCEL        = "cel"
)

// Engine evaluates rules of one dialect.
//
// Test never returns an error: evaluation failures are reported as
// Result=false with an error detail.
type Engine interface {
	Dialect() string
	Test(doc ir.Document, rule ir.Rule, element *ir.UIElement, state ir.UIState) ir.RuleTestResult
}

// Compiler is implemented by engines that can check an expression without
// evaluating it.
type Compiler interface {
	Compile(rule ir.Rule) error
}

// UnsupportedDialectError is returned when no engine is registered for a tag.
type UnsupportedDialectError struct {
	Dialect string
}

func (e *UnsupportedDialectError) Error() string {
	return fmt.Sprintf("unsupported rule dialect %q", e.Dialect)
}

// Registry maps dialect tags to engines. It is built once and read-only
// afterwards, so lookups need no locking.
type Registry struct {
	engines map[string]Engine
	order   []string
}

// NewRegistry builds a registry. Duplicate dialect tags are rejected.
func NewRegistry(engines ...Engine) (*Registry, error) {
	r := &Registry{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		tag := e.Dialect()
		if tag == "" {
			return nil, fmt.Errorf("rule engine %T has an empty dialect tag", e)
		}
		if _, dup := r.engines[tag]; dup {
			return nil, fmt.Errorf("duplicate rule dialect %q", tag)
		}
		r.engines[tag] = e
		r.order = append(r.order, tag)
	}
	return r, nil
}

// Default returns a registry with every built-in dialect.
func Default() *Registry {
	r, err := NewRegistry(
		NewJSONLogicEngine(),
		NewJSONSchemaEngine(),
		NewJMESPathEngine(),
		NewCELEngine(),
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Engine returns the engine for dialect or *UnsupportedDialectError.
func (r *Registry) Engine(dialect string) (Engine, error) {
	e, ok := r.engines[dialect]
	if !ok {
		return nil, &UnsupportedDialectError{Dialect: dialect}
	}
	return e, nil
}

// Dialects lists registered tags in registration order.
func (r *Registry) Dialects() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Compile statically checks a rule. Engines that do not implement Compiler
// accept any expression.
func (r *Registry) Compile(rule ir.Rule) error {
	e, err := r.Engine(rule.Type)
	if err != nil {
		return err
	}
	if c, ok := e.(Compiler); ok {
		return c.Compile(rule)
	}
	return nil
}

// failed builds a false result carrying a single error detail.
func failed(rule ir.Rule, path string, err error) ir.RuleTestResult {
	return ir.RuleTestResult{
		Rule:   rule,
		Result: false,
		Errors: []ir.RuleError{{Path: path, Message: err.Error()}},
	}
}

package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/roach88/flowrt/internal/ir"
)

// celCostLimit bounds the runtime cost of a single evaluation.
const celCostLimit = 1000000

// CELEngine evaluates CEL expressions with the variables context, state and
// element. Non-boolean results are false.
type CELEngine struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewCELEngine returns an engine with a dynamic-typed environment.
func NewCELEngine() *CELEngine {
	env, err := cel.NewEnv(
		cel.Variable("context", cel.DynType),
		cel.Variable("state", cel.DynType),
		cel.Variable("element", cel.DynType),
	)
	if err != nil {
		panic(fmt.Sprintf("create CEL environment: %v", err))
	}
	return &CELEngine{env: env, programs: make(map[string]cel.Program)}
}

// Dialect implements Engine.
func (e *CELEngine) Dialect() string { return DialectCEL }

// Compile implements Compiler.
func (e *CELEngine) Compile(rule ir.Rule) error {
	expr, ok := rule.Value.(string)
	if !ok {
		return fmt.Errorf("cel rule value must be a string, got %T", rule.Value)
	}
	_, err := e.program(expr)
	return err
}

// Test implements Engine.
func (e *CELEngine) Test(doc ir.Document, rule ir.Rule, element *ir.UIElement, state ir.UIState) ir.RuleTestResult {
	expr, ok := rule.Value.(string)
	if !ok {
		return failed(rule, "", fmt.Errorf("cel rule value must be a string, got %T", rule.Value))
	}
	prog, err := e.program(expr)
	if err != nil {
		return failed(rule, "", err)
	}

	vars := map[string]any{
		"context": map[string]any(doc),
		"state":   state.AsMap(),
		"element": map[string]any{},
	}
	if element != nil {
		el, err := ir.Normalize(element)
		if err != nil {
			return failed(rule, "", err)
		}
		vars["element"] = el
	}

	out, _, err := prog.Eval(vars)
	if err != nil {
		return failed(rule, "", fmt.Errorf("cel eval: %w", err))
	}
	matched, _ := out.Value().(bool)
	return ir.RuleTestResult{Rule: rule, Result: matched, Value: out.Value()}
}

func (e *CELEngine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel compile: %w", issues.Err())
	}
	prog, err := e.env.Program(ast, cel.CostLimit(celCostLimit))
	if err != nil {
		return nil, fmt.Errorf("cel program: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = prog
	e.mu.Unlock()
	return prog, nil
}

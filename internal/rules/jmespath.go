package rules

import (
	"fmt"
	"sync"

	"github.com/jmespath/go-jmespath"

	"github.com/roach88/flowrt/internal/ir"
)

// JMESPathEngine evaluates a JMESPath query against the context. The result
// is JMESPath truthiness of the query result.
type JMESPathEngine struct {
	mu      sync.RWMutex
	queries map[string]*jmespath.JMESPath
}

// NewJMESPathEngine returns an engine with an empty query cache.
func NewJMESPathEngine() *JMESPathEngine {
	return &JMESPathEngine{queries: make(map[string]*jmespath.JMESPath)}
}

// Dialect implements Engine.
func (e *JMESPathEngine) Dialect() string { return DialectJMESPath }

// Compile implements Compiler.
func (e *JMESPathEngine) Compile(rule ir.Rule) error {
	expr, err := expression(rule.Value)
	if err != nil {
		return err
	}
	_, err = e.query(expr)
	return err
}

// Test implements Engine.
func (e *JMESPathEngine) Test(doc ir.Document, rule ir.Rule, _ *ir.UIElement, _ ir.UIState) ir.RuleTestResult {
	expr, err := expression(rule.Value)
	if err != nil {
		return failed(rule, "", err)
	}
	q, err := e.query(expr)
	if err != nil {
		return failed(rule, "", err)
	}
	data, err := ir.Normalize(map[string]any(doc))
	if err != nil {
		return failed(rule, "", err)
	}
	out, err := q.Search(data)
	if err != nil {
		return failed(rule, "", fmt.Errorf("jmespath %q: %w", expr, err))
	}
	return ir.RuleTestResult{Rule: rule, Result: JMESPathTruthy(out), Value: out}
}

func (e *JMESPathEngine) query(expr string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	q, ok := e.queries[expr]
	e.mu.RUnlock()
	if ok {
		return q, nil
	}
	q, err := jmespath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("jmespath %q: %w", expr, err)
	}
	e.mu.Lock()
	e.queries[expr] = q
	e.mu.Unlock()
	return q, nil
}

// expression accepts a bare string or {"expression": "..."}.
func expression(v any) (string, error) {
	switch val := v.(type) {
	case string:
		if val == "" {
			return "", fmt.Errorf("empty jmespath expression")
		}
		return val, nil
	case map[string]any:
		if s, ok := val["expression"].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("jmespath rule value must be a string or {expression}, got %T", v)
}

// JMESPathTruthy reports JMESPath truthiness: null, false, "", [] and {} are
// false; everything else, including 0, is true.
func JMESPathTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

package rules

import (
	"fmt"
	"math"
	"regexp"
	"sync"

	"github.com/diegoholiveira/jsonlogic/v3"

	"github.com/roach88/flowrt/internal/ir"
)

// Data keys that expose the UI state and the element to json-logic vars,
// as in {"var": "$state.current"}.
const (
	stateKey   = "$state"
	elementKey = "$element"
)

// logicOperators are the operators a rule may use: the JsonLogic set plus
// "regex".
var logicOperators = map[string]bool{
	"var": true, "missing": true, "missing_some": true,
	"if": true, "?:": true,
	"==": true, "===": true, "!=": true, "!==": true, "!": true, "!!": true,
	"and": true, "or": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"max": true, "min": true, "+": true, "-": true, "*": true, "/": true, "%": true,
	"in": true, "cat": true, "substr": true, "merge": true,
	"map": true, "filter": true, "reduce": true, "all": true, "some": true, "none": true,
	"regex": true,
}

var (
	registerRegex sync.Once
	regexCache    sync.Map // pattern -> *regexp.Regexp
)

// JSONLogicEngine evaluates JsonLogic operator trees.
type JSONLogicEngine struct{}

// NewJSONLogicEngine returns an engine with the standard operator set plus
// "regex".
func NewJSONLogicEngine() *JSONLogicEngine {
	registerRegex.Do(func() {
		jsonlogic.AddOperator("regex", regexOperator)
	})
	return &JSONLogicEngine{}
}

// Dialect implements Engine.
func (e *JSONLogicEngine) Dialect() string { return DialectJSONLogic }

// Test implements Engine. The context is the var root; "$state." and
// "$element." paths read the UI state and element definition.
func (e *JSONLogicEngine) Test(doc ir.Document, rule ir.Rule, element *ir.UIElement, state ir.UIState) ir.RuleTestResult {
	if err := e.Compile(rule); err != nil {
		return failed(rule, "", err)
	}

	scope := make(map[string]any, len(doc)+2)
	for k, v := range doc {
		scope[k] = v
	}
	scope[stateKey] = state.AsMap()
	if element != nil {
		scope[elementKey] = element
	}
	// data is a deep copy of the scope in plain JSON types.
	data, err := ir.Normalize(scope)
	if err != nil {
		return failed(rule, "", err)
	}
	logic, err := ir.Normalize(rule.Value)
	if err != nil {
		return failed(rule, "", err)
	}

	out, err := jsonlogic.ApplyInterface(logic, data)
	if err != nil {
		return failed(rule, "", err)
	}
	return ir.RuleTestResult{Rule: rule, Result: truthy(out), Value: out}
}

// Compile implements Compiler by checking that every operator is known and
// every regex literal compiles.
func (e *JSONLogicEngine) Compile(rule ir.Rule) error {
	return checkLogic(rule.Value)
}

func checkLogic(logic any) error {
	switch v := logic.(type) {
	case []any:
		for _, item := range v {
			if err := checkLogic(item); err != nil {
				return err
			}
		}
	case ir.Document:
		return checkLogic(map[string]any(v))
	case map[string]any:
		if len(v) != 1 {
			return nil
		}
		for op, raw := range v {
			if !logicOperators[op] {
				return fmt.Errorf("unrecognized operation %q", op)
			}
			args, ok := raw.([]any)
			if !ok {
				args = []any{raw}
			}
			if op == "regex" && len(args) > 1 {
				if pattern, isStr := args[1].(string); isStr {
					if _, err := compileRegex(pattern); err != nil {
						return err
					}
				}
			}
			for _, a := range args {
				if err := checkLogic(a); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// regexOperator matches the first argument against the pattern in the
// second. A nil value never matches.
func regexOperator(values, data any) any {
	args, ok := values.([]any)
	if !ok {
		args = []any{values}
	}
	if len(args) < 2 {
		return false
	}
	value, pattern := resolveArg(args[0], data), resolveArg(args[1], data)
	if value == nil {
		return false
	}
	re, err := compileRegex(fmt.Sprint(pattern))
	if err != nil {
		return false
	}
	return re.MatchString(fmt.Sprint(value))
}

// resolveArg evaluates an argument that is still a logic node.
func resolveArg(arg, data any) any {
	if m, ok := arg.(map[string]any); ok && len(m) == 1 {
		if v, err := jsonlogic.ApplyInterface(m, data); err == nil {
			return v
		}
	}
	return arg
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("regex %q: %w", pattern, err)
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// truthy follows JsonLogic: 0, "", [], nil and false are falsy.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case float64:
		return val != 0 && !math.IsNaN(val)
	case int:
		return val != 0
	case int64:
		return val != 0
	default:
		return true
	}
}

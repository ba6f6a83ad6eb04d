package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
	"cuelang.org/go/encoding/jsonschema"

	"github.com/roach88/flowrt/internal/ir"
)

// JSONSchemaEngine validates the whole context against the JSON Schema in
// rule.Value. The result is validity; violations become error details.
//
// Schemas are translated to CUE once and cached by canonical form. A CUE
// runtime is not safe for concurrent use, so evaluation is serialized.
type JSONSchemaEngine struct {
	mu      sync.Mutex
	ctx     *cue.Context
	schemas map[string]cue.Value
}

// NewJSONSchemaEngine returns an engine with its own CUE runtime.
func NewJSONSchemaEngine() *JSONSchemaEngine {
	return &JSONSchemaEngine{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
}

// Dialect implements Engine.
func (e *JSONSchemaEngine) Dialect() string { return DialectJSONSchema }

// Compile implements Compiler.
func (e *JSONSchemaEngine) Compile(rule ir.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.schema(rule.Value)
	return err
}

// Test implements Engine.
func (e *JSONSchemaEngine) Test(doc ir.Document, rule ir.Rule, _ *ir.UIElement, _ ir.UIState) ir.RuleTestResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	schema, err := e.schema(rule.Value)
	if err != nil {
		return failed(rule, "", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return failed(rule, "", fmt.Errorf("encode context: %w", err))
	}
	expr, err := cuejson.Extract("context", data)
	if err != nil {
		return failed(rule, "", fmt.Errorf("decode context: %w", err))
	}

	err = schema.Unify(e.ctx.BuildExpr(expr)).Validate(cue.Concrete(true))
	if err == nil {
		return ir.RuleTestResult{Rule: rule, Result: true}
	}

	result := ir.RuleTestResult{Rule: rule, Result: false}
	for _, ce := range cueerrors.Errors(err) {
		msg, args := ce.Msg()
		result.Errors = append(result.Errors, ir.RuleError{
			Path:    strings.Join(ce.Path(), "."),
			Message: fmt.Sprintf(msg, args...),
		})
	}
	if len(result.Errors) == 0 {
		result.Errors = []ir.RuleError{{Message: err.Error()}}
	}
	return result
}

// schema returns the cached CUE translation of a JSON Schema document.
// Callers hold e.mu.
func (e *JSONSchemaEngine) schema(raw any) (cue.Value, error) {
	if _, ok := raw.(map[string]any); !ok {
		if _, isBool := raw.(bool); !isBool {
			return cue.Value{}, fmt.Errorf("json-schema rule value must be an object, got %T", raw)
		}
	}
	key, err := ir.MarshalCanonical(raw)
	if err != nil {
		return cue.Value{}, fmt.Errorf("json-schema: %w", err)
	}
	if v, ok := e.schemas[string(key)]; ok {
		return v, nil
	}

	expr, err := cuejson.Extract("schema", key)
	if err != nil {
		return cue.Value{}, fmt.Errorf("json-schema: %w", err)
	}
	file, err := jsonschema.Extract(e.ctx.BuildExpr(expr), &jsonschema.Config{})
	if err != nil {
		return cue.Value{}, fmt.Errorf("json-schema: %w", err)
	}
	v := e.ctx.BuildFile(file)
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("json-schema: %w", err)
	}
	e.schemas[string(key)] = v
	return v, nil
}

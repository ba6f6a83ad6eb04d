package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dop251/goja"

	"github.com/roach88/flowrt/internal/ir"
)

// ErrScriptInterrupted is returned when a script is stopped by context
// cancellation.
var ErrScriptInterrupted = errors.New("script interrupted")

// ScriptPlugin runs a JavaScript plugin. The script must define a function
// run(context, params) that returns the new context.
//
// Every invocation gets a fresh runtime; a compiled program is shared.
type ScriptPlugin struct {
	name    string
	program *goja.Program
}

// NewScriptPlugin compiles src.
func NewScriptPlugin(name, src string) (*ScriptPlugin, error) {
	p, err := goja.Compile(name, src, true)
	if err != nil {
		return nil, fmt.Errorf("compile plugin %s: %w", name, err)
	}
	return &ScriptPlugin{name: name, program: p}, nil
}

// LoadScriptPlugin reads and compiles a script file.
func LoadScriptPlugin(name, path string) (*ScriptPlugin, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load plugin %s: %w", name, err)
	}
	return NewScriptPlugin(name, string(src))
}

// Run implements Plugin.
func (s *ScriptPlugin) Run(ctx context.Context, doc ir.Document, params map[string]any) (ir.Document, error) {
	o := goja.New()
	o.Set("log", func(msg string) {
		slog.Info("plugin log", "plugin", s.name, "message", msg)
	})

	if _, err := o.RunProgram(s.program); err != nil {
		return nil, s.runErr(err)
	}
	run, ok := goja.AssertFunction(o.Get("run"))
	if !ok {
		return nil, fmt.Errorf("plugin %s: script does not define run(context, params)", s.name)
	}

	if params == nil {
		params = map[string]any{}
	}

	ictx, cancel := context.WithCancel(ctx)
	go func() {
		<-ictx.Done()
		o.Interrupt(ErrScriptInterrupted)
	}()
	v, err := run(goja.Undefined(), o.ToValue(map[string]any(doc.Clone())), o.ToValue(params))
	cancel()
	if err != nil {
		return nil, s.runErr(err)
	}
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("plugin %s: run returned no context", s.name)
	}

	out, err := ir.NormalizeDocument(v.Export())
	if err != nil {
		return nil, fmt.Errorf("plugin %s: result: %w", s.name, err)
	}
	return out, nil
}

func (s *ScriptPlugin) runErr(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return fmt.Errorf("plugin %s: %w", s.name, ErrScriptInterrupted)
	}
	return fmt.Errorf("plugin %s: %w", s.name, err)
}

package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
)

// Plugin transforms the context. The returned document becomes the context
// seen by the next action.
type Plugin interface {
	Run(ctx context.Context, doc ir.Document, params map[string]any) (ir.Document, error)
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(ctx context.Context, doc ir.Document, params map[string]any) (ir.Document, error)

// Run implements Plugin.
func (f PluginFunc) Run(ctx context.Context, doc ir.Document, params map[string]any) (ir.Document, error) {
	return f(ctx, doc, params)
}

// UnknownPluginError is returned when a plugin action names an
// unregistered plugin.
type UnknownPluginError struct {
	Name string
}

func (e *UnknownPluginError) Error() string {
	return fmt.Sprintf("unknown plugin %q", e.Name)
}

// PluginRegistry holds named plugins.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewPluginRegistry creates an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin. Names must be unique.
func (r *PluginRegistry) Register(name string, p Plugin) error {
	if name == "" {
		return fmt.Errorf("register plugin: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.plugins[name]; dup {
		return fmt.Errorf("register plugin: duplicate name %q", name)
	}
	r.plugins[name] = p
	return nil
}

// Lookup returns the named plugin or *UnknownPluginError.
func (r *PluginRegistry) Lookup(name string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return nil, &UnknownPluginError{Name: name}
	}
	return p, nil
}

// Names lists registered plugin names, sorted.
func (r *PluginRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// PluginHandler runs payload.pluginName with payload.params.
type PluginHandler struct {
	plugins *PluginRegistry
}

// NewPluginHandler creates the plugin handler.
func NewPluginHandler(plugins *PluginRegistry) *PluginHandler {
	if plugins == nil {
		plugins = NewPluginRegistry()
	}
	return &PluginHandler{plugins: plugins}
}

// Type implements Handler.
func (*PluginHandler) Type() string { return TypePlugin }

// Run implements Handler.
func (h *PluginHandler) Run(ctx context.Context, doc ir.Document, action ir.Action, _ machine.API) (ir.Document, error) {
	name := action.PayloadString("pluginName")
	if name == "" {
		return nil, fmt.Errorf("plugin action: payload.pluginName is required")
	}
	p, err := h.plugins.Lookup(name)
	if err != nil {
		return nil, err
	}
	params, err := payloadMap(action, "params")
	if err != nil {
		return nil, fmt.Errorf("plugin action: %w", err)
	}
	out, err := p.Run(ctx, doc.Clone(), params)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", name, err)
	}
	if out == nil {
		return nil, fmt.Errorf("plugin %s: returned no context", name)
	}
	return out, nil
}

// Package actions implements the side-effecting action handlers: HTTP API
// calls, state-machine events and plugin invocation.
//
// A handler receives the batch-local context and returns the context the
// next action observes. Handlers never write the live context directly; the
// dispatcher writes back once per successful batch.
package actions

import (
	"context"
	"fmt"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
)

// Action type tags of the built-in handlers.
const (
	TypeAPI    = "api"
	TypeEvent  = "event"
	TypePlugin = "plugin"
)

// Handler performs one action type.
type Handler interface {
	Type() string
	Run(ctx context.Context, doc ir.Document, action ir.Action, api machine.API) (ir.Document, error)
}

// Registry maps action types to handlers. Built once, read-only afterwards.
type Registry struct {
	handlers map[string]Handler
	order    []string
}

// NewRegistry builds a registry. Duplicate types are rejected.
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{handlers: make(map[string]Handler, len(handlers))}
	for _, h := range handlers {
		t := h.Type()
		if t == "" {
			return nil, fmt.Errorf("action handler %T has an empty type", h)
		}
		if _, dup := r.handlers[t]; dup {
			return nil, fmt.Errorf("duplicate action handler %q", t)
		}
		r.handlers[t] = h
		r.order = append(r.order, t)
	}
	return r, nil
}

// Handler returns the handler for an action type.
func (r *Registry) Handler(actionType string) (Handler, bool) {
	h, ok := r.handlers[actionType]
	return h, ok
}

// Types lists registered action types in registration order.
func (r *Registry) Types() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// HandlerFunc adapts a function to Handler for the given type.
func HandlerFunc(actionType string, fn func(ctx context.Context, doc ir.Document, action ir.Action, api machine.API) (ir.Document, error)) Handler {
	return funcHandler{t: actionType, fn: fn}
}

type funcHandler struct {
	t  string
	fn func(ctx context.Context, doc ir.Document, action ir.Action, api machine.API) (ir.Document, error)
}

func (h funcHandler) Type() string { return h.t }

func (h funcHandler) Run(ctx context.Context, doc ir.Document, action ir.Action, api machine.API) (ir.Document, error) {
	return h.fn(ctx, doc, action, api)
}

// payloadMap returns a nested object from an action payload.
func payloadMap(action ir.Action, key string) (map[string]any, error) {
	raw, ok := action.Payload[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload.%s: expected object, got %T", key, raw)
	}
	return m, nil
}

package actions

import (
	"context"
	"fmt"

	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/machine"
)

// EventHandler sends payload.eventName to the state machine. The context
// passes through unchanged.
type EventHandler struct{}

// NewEventHandler returns the event handler.
func NewEventHandler() *EventHandler { return &EventHandler{} }

// Type implements Handler.
func (*EventHandler) Type() string { return TypeEvent }

// Run implements Handler.
func (*EventHandler) Run(ctx context.Context, doc ir.Document, action ir.Action, api machine.API) (ir.Document, error) {
	name := action.PayloadString("eventName")
	if name == "" {
		return nil, fmt.Errorf("event action: payload.eventName is required")
	}
	payload, err := payloadMap(action, "payload")
	if err != nil {
		return nil, fmt.Errorf("event action: %w", err)
	}
	if err := api.SendEvent(ctx, name, payload); err != nil {
		return nil, err
	}
	return doc, nil
}

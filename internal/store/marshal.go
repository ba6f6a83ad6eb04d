package store

import (
	"fmt"

	"github.com/roach88/flowrt/internal/ir"
)

// marshalDocument converts a document to canonical JSON TEXT for storage.
func marshalDocument(doc ir.Document) (string, error) {
	if doc == nil {
		doc = ir.Document{}
	}
	data, err := ir.MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

// marshalPayload converts an action payload to canonical JSON TEXT.
func marshalPayload(payload map[string]any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	data, err := ir.MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

func unmarshalDocument(data string) (ir.Document, error) {
	if data == "" || data == "{}" {
		return ir.Document{}, nil
	}
	doc, err := ir.ParseDocument([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return doc, nil
}

// unmarshalPayload returns nil for an empty payload so journal records
// compare equal to the actions they were built from.
func unmarshalPayload(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	doc, err := ir.ParseDocument([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return map[string]any(doc), nil
}

package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainDocument   = "flowrt/document/v1"
	DomainAction     = "flowrt/action/v1"
	DomainDefinition = "flowrt/definition/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DocumentHash computes the content identity of a context snapshot.
// Equal documents hash equally regardless of key order.
func DocumentHash(doc Document) (string, error) {
	canonical, err := MarshalCanonical(map[string]any(doc))
	if err != nil {
		return "", fmt.Errorf("DocumentHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDocument, canonical), nil
}

// DefinitionHash computes the content identity of a compiled definition.
func DefinitionHash(def *Definition) (string, error) {
	canonical, err := MarshalCanonical(def)
	if err != nil {
		return "", fmt.Errorf("DefinitionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDefinition, canonical), nil
}

// ActionID computes the journal identity of an action within a batch.
func ActionID(batchID string, action Action, seq int64) (string, error) {
	obj := map[string]any{
		"batch_id": batchID,
		"type":     action.Type,
		"payload":  action.Payload,
		"seq":      seq,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ActionID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainAction, canonical), nil
}

// MustDocumentHash is like DocumentHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDocumentHash(doc Document) string {
	h, err := DocumentHash(doc)
	if err != nil {
		panic(err)
	}
	return h
}

package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentHashDeterminism(t *testing.T) {
	a := Document{"entity": map[string]any{"id": "e1", "n": 1.0}, "flag": true}
	b := Document{"flag": true, "entity": map[string]any{"n": 1.0, "id": "e1"}}

	ha, err := DocumentHash(a)
	require.NoError(t, err)
	hb, err := DocumentHash(b)
	require.NoError(t, err)

	assert.Equal(t, ha, hb, "key order must not affect the hash")
	assert.Len(t, ha, 64, "SHA-256 hex is 64 characters")
}

func TestDocumentHashChangesWithContent(t *testing.T) {
	h1 := MustDocumentHash(Document{"a": 1.0})
	h2 := MustDocumentHash(Document{"a": 2.0})
	assert.NotEqual(t, h1, h2)
}

func TestActionIDChangesWithInput(t *testing.T) {
	act := Action{Type: "event", Payload: map[string]any{"eventName": "NEXT"}}

	id1, err := ActionID("batch-1", act, 1)
	require.NoError(t, err)
	id2, err := ActionID("batch-2", act, 1)
	require.NoError(t, err)
	id3, err := ActionID("batch-1", act, 2)
	require.NoError(t, err)
	id4, err := ActionID("batch-1", Action{Type: "plugin"}, 1)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2, "different batches")
	assert.NotEqual(t, id1, id3, "different seq")
	assert.NotEqual(t, id1, id4, "different action")
}

func TestDomainSeparation(t *testing.T) {
	data := []byte(`{}`)
	assert.NotEqual(t, hashWithDomain(DomainDocument, data), hashWithDomain(DomainAction, data))
}

func TestDefinitionHash_Stable(t *testing.T) {
	a := &Definition{Pages: []*Page{{Type: "page", StateName: "one", Elements: []*UIElement{
		{Name: "x", Type: "text", Options: map[string]any{"b": 1.0, "a": "first"}},
	}}}}
	b := &Definition{Pages: []*Page{{Type: "page", StateName: "one", Elements: []*UIElement{
		{Name: "x", Type: "text", Options: map[string]any{"a": "first", "b": 1.0}},
	}}}}

	ha, err := DefinitionHash(a)
	require.NoError(t, err)
	hb, err := DefinitionHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)

	b.Pages[0].StateName = "two"
	hc, err := DefinitionHash(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoreDocument(t *testing.T) Document {
	t.Helper()
	doc, err := ParseDocument([]byte(`{
		"entity": {"data": {"additionalInfo": {"store": {"websiteUrls": ["https://a.example"]}}}},
		"flowConfig": {"apiUrl": "https://api.example"}
	}`))
	require.NoError(t, err)
	return doc
}

func TestDocumentGet(t *testing.T) {
	doc := newStoreDocument(t)

	v, ok := doc.Get("entity.data.additionalInfo.store.websiteUrls.0")
	assert.True(t, ok)
	assert.Equal(t, "https://a.example", v)

	_, ok = doc.Get("entity.data.missing.deeper")
	assert.False(t, ok)

	_, ok = doc.Get("flowConfig.apiUrl.length")
	assert.False(t, ok, "traversing a scalar is a miss, not an error")

	root, ok := doc.Get("")
	assert.True(t, ok)
	assert.IsType(t, map[string]any{}, root)
}

func TestDocumentSetCreatesIntermediates(t *testing.T) {
	doc := Document{}
	require.NoError(t, doc.Set("a.b.c", "x"))

	v, ok := doc.Get("a.b.c")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	require.Error(t, doc.Set("", 1))
}

func TestDocumentCloneIsDeep(t *testing.T) {
	doc := newStoreDocument(t)
	clone := doc.Clone()

	require.NoError(t, clone.Set("entity.data.additionalInfo.store.mobileAppName", "App"))
	urls, _ := clone.Get("entity.data.additionalInfo.store.websiteUrls")
	urls.([]any)[0] = "changed"

	_, ok := doc.Get("entity.data.additionalInfo.store.mobileAppName")
	assert.False(t, ok)
	orig, _ := doc.Get("entity.data.additionalInfo.store.websiteUrls.0")
	assert.Equal(t, "https://a.example", orig)
}

func TestDocumentMerge(t *testing.T) {
	doc := Document{"a": map[string]any{"x": 1.0, "y": 2.0}, "b": "keep"}
	merged := doc.Merge(map[string]any{"a": map[string]any{"y": 3.0, "z": 4.0}, "c": []any{1.0}})

	assert.Equal(t, Document{
		"a": map[string]any{"x": 1.0, "y": 3.0, "z": 4.0},
		"b": "keep",
		"c": []any{1.0},
	}, merged)
	assert.Equal(t, 2.0, doc["a"].(map[string]any)["y"], "Merge must not mutate the receiver")
}

func TestDocumentMergeAt(t *testing.T) {
	doc := Document{"entity": map[string]any{"id": "e1"}}

	out, err := doc.MergeAt("entity.data", map[string]any{"name": "n"})
	require.NoError(t, err)
	v, ok := out.Get("entity.data.name")
	require.True(t, ok)
	assert.Equal(t, "n", v)

	out, err = out.MergeAt("entity", map[string]any{"status": "ok"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "e1", "status": "ok", "data": map[string]any{"name": "n"}}, out["entity"])

	_, err = doc.MergeAt("", "scalar")
	require.Error(t, err)

	out, err = doc.MergeAt("", map[string]any{"foo": 1.0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, out["foo"])
}

func TestNormalizeDocument(t *testing.T) {
	doc, err := NormalizeDocument(map[string]any{"n": 3, "list": []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, Document{"n": 3.0, "list": []any{"a"}}, doc)

	_, err = NormalizeDocument([]any{1})
	require.Error(t, err)

	empty, err := NormalizeDocument(nil)
	require.NoError(t, err)
	assert.Equal(t, Document{}, empty)
}

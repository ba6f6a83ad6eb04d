package ir

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Document is the evaluation context: the mutable business-data record
// that rules read and actions transform.
//
// Values are JSON-shaped: map[string]any, []any, string, float64, bool and
// nil. Use Normalize to coerce values decoded by other codecs.
type Document map[string]any

// ParseDocument decodes a JSON object into a Document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// SplitPath splits a "." separated key path. An empty path has no segments.
func SplitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// Get resolves a key path. Missing segments resolve to (nil, false), never
// an error. Numeric segments index into arrays.
func (d Document) Get(path string) (any, bool) {
	return Lookup(map[string]any(d), path)
}

// Lookup resolves a key path against an arbitrary JSON-shaped value.
func Lookup(v any, path string) (any, bool) {
	cur := v
	for _, seg := range SplitPath(path) {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case Document:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at path, creating intermediate objects as needed.
// An intermediate that is not an object is replaced by one.
func (d Document) Set(path string, value any) error {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("set: empty path")
	}
	node := map[string]any(d)
	for _, seg := range segs[:len(segs)-1] {
		next, ok := node[seg].(map[string]any)
		if !ok {
			if doc, isDoc := node[seg].(Document); isDoc {
				next = map[string]any(doc)
			} else {
				next = make(map[string]any)
				node[seg] = next
			}
		}
		node = next
	}
	node[segs[len(segs)-1]] = value
	return nil
}

// Clone makes a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneValue(map[string]any(d)).(map[string]any))
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = cloneValue(elem)
		}
		return out
	case Document:
		return cloneValue(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return val
	}
}

// Merge deep-merges other into a copy of d and returns the copy.
// Objects merge recursively; every other value in other replaces the value in d.
func (d Document) Merge(other map[string]any) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	mergeInto(map[string]any(out), other)
	return out
}

// MergeAt deep-merges value at path. A non-object value replaces whatever is
// at path; an empty path merges into the root and requires an object.
func (d Document) MergeAt(path string, value any) (Document, error) {
	if path == "" {
		obj, ok := asObject(value)
		if !ok {
			return nil, fmt.Errorf("merge at root: value is %T, not an object", value)
		}
		return d.Merge(obj), nil
	}
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	existing, _ := out.Get(path)
	exObj, exIsObj := asObject(existing)
	valObj, valIsObj := asObject(value)
	if exIsObj && valIsObj {
		merged := cloneValue(exObj).(map[string]any)
		mergeInto(merged, valObj)
		value = merged
	} else {
		value = cloneValue(value)
	}
	if err := out.Set(path, value); err != nil {
		return nil, err
	}
	return out, nil
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		srcObj, srcIsObj := asObject(v)
		dstObj, dstIsObj := asObject(dst[k])
		if srcIsObj && dstIsObj {
			mergeInto(dstObj, srcObj)
			dst[k] = dstObj
			continue
		}
		dst[k] = cloneValue(v)
	}
}

func asObject(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case Document:
		return map[string]any(val), true
	default:
		return nil, false
	}
}

// Normalize coerces a decoded value into JSON shape by round-tripping it
// through encoding/json. YAML and script runtimes produce int, int64 or
// typed maps that rule dialects do not expect.
func Normalize(v any) (any, error) {
	js, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	var out any
	if err := json.Unmarshal(js, &out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}

// NormalizeDocument is Normalize for values that must be objects.
func NormalizeDocument(v any) (Document, error) {
	out, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	switch obj := out.(type) {
	case map[string]any:
		return Document(obj), nil
	case nil:
		return Document{}, nil
	default:
		return nil, fmt.Errorf("normalize: %T is not an object", out)
	}
}

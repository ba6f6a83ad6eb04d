package store

import (
	"testing"

	"github.com/roach88/flowrt/internal/ir"
)

func TestMarshalDocument_Canonical(t *testing.T) {
	got, err := marshalDocument(ir.Document{"b": 1.0, "a": []any{true, nil}})
	if err != nil {
		t.Fatalf("marshalDocument() failed: %v", err)
	}
	if want := `{"a":[true,null],"b":1}`; got != want {
		t.Errorf("marshalDocument() = %s, want %s", got, want)
	}

	empty, err := marshalDocument(nil)
	if err != nil || empty != "{}" {
		t.Errorf("marshalDocument(nil) = %q, %v; want {}", empty, err)
	}
}

func TestUnmarshalPayload_EmptyIsNil(t *testing.T) {
	for _, in := range []string{"", "{}"} {
		p, err := unmarshalPayload(in)
		if err != nil {
			t.Fatalf("unmarshalPayload(%q) failed: %v", in, err)
		}
		if p != nil {
			t.Errorf("unmarshalPayload(%q) = %v, want nil", in, p)
		}
	}

	if _, err := unmarshalPayload("[1,2]"); err == nil {
		t.Error("unmarshalPayload should reject non-objects")
	}
}

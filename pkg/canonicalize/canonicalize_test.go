package canonicalize

import (
	"math"
	"testing"
)

func TestJCS_Sorting(t *testing.T) {
	input := map[string]interface{}{
		"c": 3,
		"a": 1,
		"b": 2,
	}

	expected := `{"a":1,"b":2,"c":3}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_RecursiveSorting(t *testing.T) {
	input := map[string]interface{}{
		"z": map[string]interface{}{
			"y": "foo",
			"x": "bar",
		},
		"a": 1,
	}

	expected := `{"a":1,"z":{"x":"bar","y":"foo"}}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{
		"html": "<script>alert('xss')</script> &",
	}

	// RFC 8785 forbids HTML escaping.
	expected := `{"html":"<script>alert('xss')</script> &"}`

	b, err := JCS(input)
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestJCS_StructTags(t *testing.T) {
	type S struct {
		B int    `json:"b"`
		A string `json:"a"`
	}

	b, err := JCS(S{B: 2, A: "x"})
	if err != nil {
		t.Fatalf("JCS failed: %v", err)
	}
	if string(b) != `{"a":"x","b":2}` {
		t.Errorf("unexpected canonical form: %s", string(b))
	}
}

func TestCanonicalHash_Stability(t *testing.T) {
	v1 := map[string]interface{}{"a": 1, "b": 2}

	type S struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	v2 := S{A: 1, B: 2}

	h1, err := CanonicalHash(v1)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := CanonicalHash(v2)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("structurally equal values hashed differently: %s vs %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected 64-char hex digest, got %d chars", len(h1))
	}
}

func TestCheckFinite(t *testing.T) {
	if err := CheckFinite(1.5); err != nil {
		t.Errorf("finite value rejected: %v", err)
	}
	if err := CheckFinite(math.NaN()); err == nil {
		t.Error("NaN accepted")
	}
	if err := CheckFinite(math.Inf(1)); err == nil {
		t.Error("+Inf accepted")
	}
	if err := CheckFinite(math.Inf(-1)); err == nil {
		t.Error("-Inf accepted")
	}
}

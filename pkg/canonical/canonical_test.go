package canonical

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestMarshalSortsKeysRecursively(t *testing.T) {
	v := map[string]any{
		"b": 1,
		"a": map[string]any{"z": true, "m": "x"},
	}
	out, err := Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":{"m":"x","z":true},"b":1}`
	if string(out) != want {
		t.Fatalf("expected %s, got %s", want, out)
	}
}

func TestMarshalNoWhitespaceNoTrailingNewline(t *testing.T) {
	out, err := Marshal(map[string]any{"k": []any{1, 2, 3}})
	if err != nil {
		t.Fatal(err)
	}
	if strings.ContainsAny(string(out), " \n\t") {
		t.Fatalf("canonical form must contain no whitespace: %q", out)
	}
}

func TestMarshalUTF8NotEscaped(t *testing.T) {
	out, err := Marshal(map[string]any{"name": "héllo ☃"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(out), `\u`) {
		t.Fatalf("non-ASCII must be raw UTF-8, got %q", out)
	}
}

func TestMarshalNoHTMLEscape(t *testing.T) {
	out, err := Marshal(map[string]any{"a": "<b>&</b>"})
	if err != nil {
		t.Fatal(err)
	}
	// Canonical form keeps <, > and & as literal bytes.
	if want := `{"a":"<b>&</b>"}`; string(out) != want {
		t.Fatalf("expected %s, got %q", want, out)
	}
	if strings.Contains(string(out), "\\u003c") {
		t.Fatalf("HTML escaping must be disabled, got %q", out)
	}
}

func TestMarshalRejectsNaNAndInf(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := Marshal(map[string]any{"x": bad}); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}

func TestContentDigestStable(t *testing.T) {
	v := map[string]any{"event_type": "DECISION_CREATED", "payload": map[string]any{"goal": "rotate keys"}}
	d1, err := ContentDigest(v)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := ContentDigest(v)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Fatalf("digest not stable: %s vs %s", d1, d2)
	}
	if len(d1) != 64 || strings.ToLower(d1) != d1 {
		t.Fatalf("digest must be 64 lowercase hex chars, got %q", d1)
	}
}

func TestPrefixedDigest(t *testing.T) {
	d, err := PrefixedDigest("hello")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(d, "sha256:") || len(d) != len("sha256:")+64 {
		t.Fatalf("bad prefixed digest %q", d)
	}
}

// Re-encoding a parsed canonical form must reproduce the same bytes.
func TestMarshalRoundTripFixedPoint(t *testing.T) {
	v := map[string]any{
		"z": []any{"a", map[string]any{"k2": nil, "k1": false}},
		"n": 42,
		"s": "über",
	}
	first, err := Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	var parsed any
	dec := json.NewDecoder(strings.NewReader(string(first)))
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		t.Fatal(err)
	}
	second, err := Marshal(parsed)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Fatalf("not a fixed point:\n%s\n%s", first, second)
	}
}

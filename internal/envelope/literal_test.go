package envelope

import (
	"encoding/json"
	"testing"
)

func TestNormalizeLiteral_Basic(t *testing.T) {
	in := `{'name': 'DHL Express', 'active': True, 'parent': None, 'zones': False}`
	out := normalizeLiteral(in)

	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("normalized output not JSON: %v\n%s", err, out)
	}
	if m["name"] != "DHL Express" {
		t.Errorf("name = %v", m["name"])
	}
	if m["active"] != true || m["zones"] != false || m["parent"] != nil {
		t.Errorf("literals wrong: %v", m)
	}
}

func TestNormalizeLiteral_BoxedDecimal(t *testing.T) {
	out := normalizeLiteral(`{'rate': Decimal('12.50'), 'min': Decimal("0.99")}`)
	var m map[string]float64
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, out)
	}
	if m["rate"] != 12.50 || m["min"] != 0.99 {
		t.Errorf("m = %v", m)
	}
}

func TestNormalizeLiteral_EscapedQuoteInString(t *testing.T) {
	out := normalizeLiteral(`{'note': 'driver\'s manifest'}`)
	var m map[string]string
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, out)
	}
	if m["note"] != "driver's manifest" {
		t.Errorf("note = %q", m["note"])
	}
}

func TestNormalizeLiteral_DoubleQuoteInsideSingleQuoted(t *testing.T) {
	out := normalizeLiteral(`{'label': '24" pallet'}`)
	var m map[string]string
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, out)
	}
	if m["label"] != `24" pallet` {
		t.Errorf("label = %q", m["label"])
	}
}

func TestNormalizeLiteral_KeywordsInsideStringsUntouched(t *testing.T) {
	out := normalizeLiteral(`{'status': 'True North', 'kind': 'NoneSuch'}`)
	var m map[string]string
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, out)
	}
	if m["status"] != "True North" || m["kind"] != "NoneSuch" {
		t.Errorf("m = %v", m)
	}
}

func TestNormalizeLiteral_WordBoundary(t *testing.T) {
	// Truex is an identifier-looking token, not the True literal.
	out := normalizeLiteral(`[Truex, True]`)
	if out != `[Truex, true]` {
		t.Errorf("out = %q", out)
	}
}

func TestNormalizeLiteral_PassesStrictJSONThrough(t *testing.T) {
	in := `{"already": "json", "n": 1.5, "ok": true}`
	if out := normalizeLiteral(in); out != in {
		t.Errorf("strict JSON changed: %q", out)
	}
}

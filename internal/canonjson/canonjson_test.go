package canonjson

import (
	"encoding/json"
	"testing"
)

func TestMarshal_SortsKeysRecursively(t *testing.T) {
	input := map[string]any{
		"b": 2,
		"a": map[string]any{
			"z": 1,
			"y": 2,
		},
	}

	got, err := Marshal(input)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	want := `{"a":{"y":2,"z":1},"b":2}`
	if string(got) != want {
		t.Fatalf("unexpected canonical json:\n got: %s\nwant: %s", got, want)
	}
}

func TestMarshal_IsFixedPoint(t *testing.T) {
	input := map[string]any{"c": 3, "a": 1, "b": []any{3, 1, 2}}

	first, err := Marshal(input)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := json.Unmarshal(first, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	second, err := Marshal(decoded)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}

	if string(first) != string(second) {
		t.Fatalf("canonicalize is not a fixed point:\n first: %s\nsecond: %s", first, second)
	}
}

func TestMarshal_RoundTripPreservesValue(t *testing.T) {
	input := map[string]any{"points": 52.0, "title": "50 Bomb"}

	encoded, err := Marshal(input)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded["points"] != 52.0 {
		t.Fatalf("unexpected points after round trip: %v", decoded["points"])
	}
	if decoded["title"] != "50 Bomb" {
		t.Fatalf("unexpected title after round trip: %v", decoded["title"])
	}
}

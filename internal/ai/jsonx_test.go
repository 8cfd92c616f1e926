package ai

import "testing"

func TestExtractJSONPlainObject(t *testing.T) {
	var out map[string]any
	if !ExtractJSON(`{"category":"primary","spam":false}`, &out) {
		t.Fatal("expected success")
	}
	if out["category"] != "primary" {
		t.Errorf("category = %v", out["category"])
	}
}

func TestExtractJSONFencedObject(t *testing.T) {
	text := "Here is the result:\n```json\n{\"category\": \"updates\", \"confidence\": 0.8}\n```\nLet me know if you need anything else."
	var out struct {
		Category   string  `json:"category"`
		Confidence float64 `json:"confidence"`
	}
	if !ExtractJSON(text, &out) {
		t.Fatal("expected success")
	}
	if out.Category != "updates" || out.Confidence != 0.8 {
		t.Errorf("got %+v", out)
	}
}

func TestExtractJSONNestedBraces(t *testing.T) {
	text := `The answer is {"action":{"type":"reply","details":{"urgency":"high"}},"note":"a } inside a string"} done`
	var out map[string]any
	if !ExtractJSON(text, &out) {
		t.Fatal("expected success")
	}
	if out["note"] != "a } inside a string" {
		t.Errorf("note = %v", out["note"])
	}
}

func TestExtractJSONArray(t *testing.T) {
	var out []int
	if !ExtractJSON("values: [1, 2, 3]", &out) {
		t.Fatal("expected success")
	}
	if len(out) != 3 || out[2] != 3 {
		t.Errorf("got %v", out)
	}
}

func TestExtractJSONGarbage(t *testing.T) {
	var out map[string]any
	if ExtractJSON("no structured data here", &out) {
		t.Error("expected failure for plain prose")
	}
	if ExtractJSON("{broken", &out) {
		t.Error("expected failure for unterminated object")
	}
}

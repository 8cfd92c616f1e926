package ai

import "testing"

func TestNeedsSummary(t *testing.T) {
	cases := map[string]bool{
		"primary":     true,
		"updates":     true,
		"social":      false,
		"newsletters": false,
		"promotions":  false,
		"other":       false,
		"bogus":       false,
	}
	for name, want := range cases {
		if got := NeedsSummary(name); got != want {
			t.Errorf("NeedsSummary(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNormalizeCategory(t *testing.T) {
	if got := NormalizeCategory(" Updates "); got != "updates" {
		t.Errorf("got %q", got)
	}
	// 未知类别回退到 primary，宁可多看一眼也不丢
	if got := NormalizeCategory("invoices"); got != "primary" {
		t.Errorf("unknown category = %q, want primary", got)
	}
	if got := NormalizeCategory(""); got != "primary" {
		t.Errorf("empty category = %q, want primary", got)
	}
}

func TestCategoryByName(t *testing.T) {
	if cat := CategoryByName("promotions"); cat == nil || cat.Name != "promotions" {
		t.Fatalf("got %+v", cat)
	}
	if CategoryByName("nope") != nil {
		t.Error("expected nil for unknown name")
	}
}

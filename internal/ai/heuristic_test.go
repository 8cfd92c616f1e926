package ai

import (
	"strings"
	"testing"
)

func TestHeuristicClassifySpam(t *testing.T) {
	result := HeuristicClassify("You are a WINNER", "promo@example.com", "claim your free money today")
	if !result.Spam {
		t.Fatal("expected spam to be flagged")
	}
	if result.Category != "other" {
		t.Errorf("spam category = %q, want other", result.Category)
	}
	if result.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", result.Confidence)
	}
	if !strings.Contains(result.Reason, "heuristic") {
		t.Errorf("reason %q should mention heuristic", result.Reason)
	}
}

func TestHeuristicClassifyColdOutreach(t *testing.T) {
	result := HeuristicClassify(
		"Quick question",
		"sales@vendor.example",
		"Hi, I am reaching out to discuss a partnership opportunity with your team.",
	)
	if !result.Cold {
		t.Fatal("expected cold outreach to be flagged")
	}
	if result.Spam {
		t.Error("cold outreach should not be marked spam")
	}
}

func TestHeuristicClassifyKeywords(t *testing.T) {
	cases := []struct {
		name     string
		subject  string
		body     string
		category string
	}{
		{"account", "Security alert", "your password was changed", "updates"},
		{"login", "New sign-in", "a new login to your account was detected", "updates"},
		{"social", "New follower", "someone followed you on instagram", "social"},
		{"newsletter", "This week in Go", "click to unsubscribe from this newsletter", "newsletters"},
		{"promotion", "Flash sale", "everything is 50% off with this coupon", "promotions"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := HeuristicClassify(tc.subject, "sender@example.com", tc.body)
			if result.Category != tc.category {
				t.Errorf("category = %q, want %q (reason: %s)", result.Category, tc.category, result.Reason)
			}
			if result.Confidence != 0.6 {
				t.Errorf("keyword confidence = %v, want 0.6", result.Confidence)
			}
		})
	}
}

func TestHeuristicClassifyNoMatch(t *testing.T) {
	result := HeuristicClassify("Hello", "friend@example.com", "see you at dinner")
	if result.Category != "other" {
		t.Errorf("category = %q, want other", result.Category)
	}
	if result.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", result.Confidence)
	}
	if result.Reason != "no heuristic match" {
		t.Errorf("reason = %q", result.Reason)
	}
}

func TestHeuristicAlwaysReturnsResult(t *testing.T) {
	if HeuristicClassify("", "", "") == nil {
		t.Fatal("heuristic must never return nil")
	}
}

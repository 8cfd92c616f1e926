package ai

import (
	"testing"
	"time"
)

func TestFallbackSummaryFirstSentence(t *testing.T) {
	body := "Your package was delivered this morning. Sign for it at the front desk.\nThanks!"
	result := fallbackSummary("Delivery update", body)
	if result.Summary != "Your package was delivered this morning." {
		t.Errorf("summary = %q", result.Summary)
	}
	if result.Action != "none" {
		t.Errorf("action = %q, want none", result.Action)
	}
	if result.ActionDetails["reason"] != "could not generate recommendation" {
		t.Errorf("reason = %v", result.ActionDetails["reason"])
	}
}

func TestFallbackSummaryEmptyBodyUsesSubject(t *testing.T) {
	result := fallbackSummary("Meeting moved to Friday", "")
	if result.Summary != "Meeting moved to Friday" {
		t.Errorf("summary = %q", result.Summary)
	}
}

func TestFallbackSummaryNoPunctuation(t *testing.T) {
	result := fallbackSummary("subject", "just one line with no terminal punctuation")
	if result.Summary != "just one line with no terminal punctuation" {
		t.Errorf("summary = %q", result.Summary)
	}
}

func TestParseEventTime(t *testing.T) {
	got := parseEventTime("2026-03-14T09:30:00Z")
	if got == nil {
		t.Fatal("expected RFC3339 to parse")
	}
	want := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if parseEventTime("2026-03-14") == nil {
		t.Error("expected date-only to parse")
	}
	if parseEventTime("next tuesday") != nil {
		t.Error("expected prose to fail")
	}
	if parseEventTime("") != nil {
		t.Error("expected empty to be nil")
	}
}

func TestSummaryFromOutputNormalizesAction(t *testing.T) {
	output := &SummaryOutput{Summary: "Summary text."}
	result := summaryFromOutput(output, "gpt-4o-mini", "openai")
	if result.Action != "none" {
		t.Errorf("empty action type should become none, got %q", result.Action)
	}
	if result.Model != "gpt-4o-mini" || result.Provider != "openai" {
		t.Errorf("model/provider = %q/%q", result.Model, result.Provider)
	}
}

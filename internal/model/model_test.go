package model

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StagePending, StageClassified, true},
		{StageClassified, StageSummarized, true},
		{StageClassified, StageSkipped, true},
		// re-classification is always allowed
		{StageClassified, StageClassified, true},
		{StageSummarized, StageClassified, true},
		{StageSkipped, StageClassified, true},
		// a summary needs a classification first
		{StagePending, StageSummarized, false},
		{StagePending, StageSkipped, false},
		{StageSkipped, StageSummarized, false},
		{StageSummarized, StageSkipped, false},
		// stages never move back to pending
		{StageClassified, StagePending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

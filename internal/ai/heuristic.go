package ai

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	spamPattern = regexp.MustCompile(`(free money|winner|viagra|casino|bitcoin|crypto giveaway|act now|urgent action required)`)
	coldPattern = regexp.MustCompile(`(i am reaching out to|contacting you regarding|we would like to offer|business proposal|partnership opportunity)`)
)

// Result 分类结果（三层通用）
type Result struct {
	Category   string
	Spam       bool
	Confidence float64
	Cold       bool
	Reason     string
}

// HeuristicClassify is the last tier: deterministic regex and keyword
// rules. It always produces a result, so classification terminates even
// with every network dependency down.
func HeuristicClassify(subject, from, body string) *Result {
	text := strings.ToLower(subject + " " + from + " " + body)

	if spamPattern.MatchString(text) {
		return &Result{Category: "other", Spam: true, Confidence: 0.9, Reason: "heuristic spam match"}
	}
	if coldPattern.MatchString(text) {
		return &Result{Category: "other", Cold: true, Confidence: 0.9, Reason: "heuristic cold match"}
	}

	for _, cat := range Categories {
		for _, kw := range cat.Keywords {
			if strings.Contains(text, kw) {
				return &Result{
					Category:   cat.Name,
					Confidence: 0.6,
					Reason:     fmt.Sprintf("heuristic matched keyword: %s", kw),
				}
			}
		}
	}

	return &Result{Category: "other", Confidence: 0.5, Reason: "no heuristic match"}
}

package ai

import (
	"encoding/json"
	"strings"
)

// ExtractJSON finds the first balanced JSON object or array embedded in
// free text and unmarshals it into v. LLMs wrap their JSON in prose or
// code fences often enough that strict parsing alone is not viable.
func ExtractJSON(text string, v any) bool {
	if text == "" {
		return false
	}

	firstCurly := strings.Index(text, "{")
	firstBracket := strings.Index(text, "[")

	var start int
	var openCh, closeCh byte
	switch {
	case firstCurly == -1 && firstBracket == -1:
		return false
	case firstBracket == -1 || (firstCurly != -1 && firstCurly < firstBracket):
		start, openCh, closeCh = firstCurly, '{', '}'
	default:
		start, openCh, closeCh = firstBracket, '[', ']'
	}

	// 括号配对扫描，忽略字符串内部的括号
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == openCh:
			depth++
		case ch == closeCh:
			depth--
			if depth == 0 {
				if json.Unmarshal([]byte(text[start:i+1]), v) == nil {
					return true
				}
				i = len(text) // fall through to the looser attempts
			}
		}
	}

	// fallback attempts
	if json.Unmarshal([]byte(strings.TrimSpace(text)), v) == nil {
		return true
	}
	if lastClose := strings.LastIndexByte(text, closeCh); lastClose > start {
		if json.Unmarshal([]byte(text[start:lastClose+1]), v) == nil {
			return true
		}
	}
	return false
}

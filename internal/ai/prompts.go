package ai

import (
	"fmt"
	"strings"
)

const classifySystemPrompt = "You are an email classifier. Return JSON only."

const summarySystemPrompt = "You are an assistant that reads an email and returns a short (1-2 sentence) summary, " +
	"a single recommended action if appropriate, any calendar event(s), and shipment tracking information. " +
	"Return JSON only. Tracking must be for shipments only (carriers like Amazon, UPS, USPS, FedEx, DHL). " +
	"Do not treat marketing/analytics link tracking parameters as shipment tracking."

func buildClassifyUserPrompt(subject, from, body string) string {
	opts := make([]string, len(Categories))
	for i, c := range Categories {
		opts[i] = fmt.Sprintf("%s (%s)", c.Name, c.Prompt)
	}

	return fmt.Sprintf("Classify this email into one of: %s. "+
		"Also set spam true/false. Determine cold true/false (whether this is a cold email). "+
		"Give a one sentence reason for why you chose this category.\n\n"+
		"If there is bad grammar or the text looks obfuscated with random characters or non-english characters, "+
		"it is likely spam. Links that look obfuscated does not necessarily mean spam.\n\n"+
		`Respond with a single JSON object with the most likely category: `+
		`{"category":"...","spam":true|false,"confidence":0..1,"cold":true|false,"reason":"..."}.`+
		"\n\nSubject: %s\nFrom: %s\nBody: %s",
		strings.Join(opts, ", "), subject, from, body)
}

func buildSummaryUserPrompt(subject, from, body string) string {
	return `Return a single JSON object only: {"summary":"...",` +
		`"action":{"type":"reply"|"click_link"|"mark_read"|"archive"|"flag"|"none","reason":"...","details":{}},` +
		`"confidence":0..1,` +
		`"events":[{"summary":"..","start":"ISO8601","end":"ISO8601","location":"...","attendees":["name <email>"]}],` +
		`"tracking":[{"carrier":"AMAZON|UPS|USPS|FEDEX|DHL|OTHER","trackingNumber":"...","url":"...","status":"...","deliveryDate":"ISO8601"}]}.` +
		"\n\nTracking entries must be for shipments only. Do NOT add tracking items for links that merely include " +
		"tracking parameters (utm_*, ref=, clickId, etc.). If no events or shipment tracking items are found, " +
		"return empty arrays for those keys.\n\n" +
		fmt.Sprintf("Email:\nSubject: %s\nFrom: %s\nBody: %s", subject, from, body)
}

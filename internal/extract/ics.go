package extract

import (
	"strings"
	"time"

	"mailpipe/internal/model"
)

// CalendarEvents scans text for inline VCALENDAR data and returns one
// candidate per VEVENT block. Pure function: text in, candidates out.
func CalendarEvents(text string) []model.CalendarEvent {
	if !strings.Contains(text, "BEGIN:VCALENDAR") {
		return nil
	}

	lines := unfoldICSLines(text)

	var events []model.CalendarEvent
	var cur *model.CalendarEvent
	for _, line := range lines {
		switch {
		case line == "BEGIN:VEVENT":
			cur = &model.CalendarEvent{Source: "ics"}
		case line == "END:VEVENT":
			if cur != nil && cur.Summary != "" {
				events = append(events, *cur)
			}
			cur = nil
		case cur == nil:
			continue
		default:
			name, params, value := splitICSLine(line)
			switch name {
			case "SUMMARY":
				cur.Summary = unescapeICS(value)
			case "LOCATION":
				cur.Location = unescapeICS(value)
			case "DTSTART":
				if t, ok := parseICSTime(value, params); ok {
					cur.StartsAt = &t
				}
			case "DTEND":
				if t, ok := parseICSTime(value, params); ok {
					cur.EndsAt = &t
				}
			case "ATTENDEE":
				if addr := attendeeAddr(value); addr != "" {
					cur.Attendees = append(cur.Attendees, addr)
				}
			}
		}
	}
	return events
}

// unfoldICSLines normalizes line endings and joins folded continuation
// lines (RFC 5545 §3.1: a line starting with SP/HTAB continues the
// previous one).
func unfoldICSLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	var lines []string
	for _, line := range raw {
		if (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) && len(lines) > 0 {
			lines[len(lines)-1] += line[1:]
			continue
		}
		lines = append(lines, strings.TrimRight(line, "\r"))
	}
	return lines
}

// splitICSLine splits "NAME;PARAM=V:value" into its parts.
func splitICSLine(line string) (name, params, value string) {
	colon := strings.Index(line, ":")
	if colon < 0 {
		return line, "", ""
	}
	left, value := line[:colon], line[colon+1:]
	if semi := strings.Index(left, ";"); semi >= 0 {
		return left[:semi], left[semi+1:], value
	}
	return left, "", value
}

var icsTimeLayouts = []string{
	"20060102T150405Z",
	"20060102T150405",
	"20060102",
}

func parseICSTime(value, params string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range icsTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	// TZID parameters are ignored: the UTC forms above cover the vast
	// majority of invitation mail and a wrong-zone guess is worse than
	// none.
	_ = params
	return time.Time{}, false
}

func unescapeICS(s string) string {
	r := strings.NewReplacer("\\n", "\n", "\\,", ",", "\\;", ";", "\\\\", "\\")
	return r.Replace(s)
}

func attendeeAddr(value string) string {
	v := strings.TrimSpace(value)
	if strings.HasPrefix(strings.ToLower(v), "mailto:") {
		return v[len("mailto:"):]
	}
	return ""
}

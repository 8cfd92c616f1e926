package extract

import (
	"strings"
	"testing"
	"time"
)

const sampleICS = `BEGIN:VCALENDAR
VERSION:2.0
BEGIN:VEVENT
SUMMARY:Team sync\, weekly
LOCATION:Room 4
DTSTART:20260310T140000Z
DTEND:20260310T150000Z
ATTENDEE;CN=Alice:mailto:alice@example.com
ATTENDEE:mailto:bob@example.com
END:VEVENT
BEGIN:VEVENT
SUMMARY:All hands
DTSTART;VALUE=DATE:20260401
END:VEVENT
END:VCALENDAR`

func TestCalendarEvents(t *testing.T) {
	events := CalendarEvents(sampleICS)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.Summary != "Team sync, weekly" {
		t.Errorf("summary = %q", first.Summary)
	}
	if first.Location != "Room 4" {
		t.Errorf("location = %q", first.Location)
	}
	if first.StartsAt == nil || !first.StartsAt.Equal(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("starts_at = %v", first.StartsAt)
	}
	if len(first.Attendees) != 2 || first.Attendees[0] != "alice@example.com" {
		t.Errorf("attendees = %v", first.Attendees)
	}

	second := events[1]
	if second.Summary != "All hands" {
		t.Errorf("summary = %q", second.Summary)
	}
	if second.StartsAt == nil || second.StartsAt.Year() != 2026 || second.StartsAt.Month() != time.April {
		t.Errorf("date-only starts_at = %v", second.StartsAt)
	}
}

func TestCalendarEventsFoldedLines(t *testing.T) {
	ics := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"SUMMARY:A very long meeting title that the",
		" producer folded across lines",
		"DTSTART:20260501T090000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	events := CalendarEvents(ics)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if want := "A very long meeting title that theproducer folded across lines"; events[0].Summary != want {
		t.Errorf("unfolded summary = %q", events[0].Summary)
	}
}

func TestCalendarEventsNoCalendar(t *testing.T) {
	if events := CalendarEvents("just a normal email body"); events != nil {
		t.Errorf("expected nil, got %v", events)
	}
}

func TestCalendarEventsIgnoresSummarylessEvent(t *testing.T) {
	ics := "BEGIN:VCALENDAR\nBEGIN:VEVENT\nDTSTART:20260101T000000Z\nEND:VEVENT\nEND:VCALENDAR"
	if events := CalendarEvents(ics); len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestTrackingItems(t *testing.T) {
	body := `Your package has shipped!
Track it here: https://www.ups.com/track?tracknum=1Z999AA10123456784
Estimated delivery: March 14, 2026
Unsubscribe: https://click.example.com/u/abc?utm_source=email`

	items := TrackingItems(body)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d: %v", len(items), items)
	}
	if items[0].Carrier != "UPS" {
		t.Errorf("carrier = %q", items[0].Carrier)
	}
	if items[0].DeliveryDate != "March 14, 2026" {
		t.Errorf("delivery date = %q", items[0].DeliveryDate)
	}
}

func TestTrackingItemsCarriers(t *testing.T) {
	tests := []struct {
		url     string
		carrier string
		match   bool
	}{
		{"https://www.fedex.com/fedextrack/?trknbr=1234", "FedEx", true},
		{"https://tools.usps.com/go/TrackConfirmAction?tLabels=9400", "USPS", true},
		{"https://www.dhl.com/en/express/tracking.html?AWB=123", "DHL", true},
		{"https://shop.example.com/orders/track/55", "", true},
		{"https://example.com/product/5", "", false},
		{"https://www.ups.com/track?id=1&utm_campaign=promo", "", false},
	}

	for _, tt := range tests {
		items := TrackingItems("see " + tt.url)
		if tt.match && len(items) != 1 {
			t.Errorf("%s: expected a match", tt.url)
			continue
		}
		if !tt.match {
			if len(items) != 0 {
				t.Errorf("%s: expected no match, got %v", tt.url, items)
			}
			continue
		}
		if items[0].Carrier != tt.carrier {
			t.Errorf("%s: carrier = %q, want %q", tt.url, items[0].Carrier, tt.carrier)
		}
	}
}

func TestDeliveryDateFormats(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Estimated delivery 2026-03-14", "2026-03-14"},
		{"expected by 3/14/2026", "3/14/2026"},
		{"Arriving Saturday, March 14", "Saturday, March 14"},
		{"delivery date: Mar 14, 2026", "Mar 14, 2026"},
		{"no date talk at all", ""},
	}
	for _, tt := range tests {
		if got := deliveryDateSnippet(tt.text); got != tt.want {
			t.Errorf("%q: got %q, want %q", tt.text, got, tt.want)
		}
	}
}

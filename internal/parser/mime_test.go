package parser

import (
	"strings"
	"testing"
	"time"

	"mailpipe/internal/model"
)

const sampleMessage = "Mime-Version: 1.0\r\n" +
	"From: Alice <alice@example.com>\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Quarterly report\r\n" +
	"Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Please find the report attached.\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>Please find the <b>report</b> attached.</p>\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"JVBERi0xLjQ=\r\n" +
	"--BOUNDARY--\r\n"

func TestParseMIME(t *testing.T) {
	parsed := ParseMIME([]byte(sampleMessage))

	if !strings.Contains(parsed.Text, "Please find the report attached.") {
		t.Errorf("text body = %q", parsed.Text)
	}
	if !strings.Contains(parsed.HTML, "<b>report</b>") {
		t.Errorf("html body = %q", parsed.HTML)
	}
	if len(parsed.Attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(parsed.Attachments))
	}

	att := parsed.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("filename = %q", att.Filename)
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("content type = %q", att.ContentType)
	}
	if att.Size == 0 {
		t.Error("attachment size should reflect decoded bytes")
	}
	if len(att.SHA256) != 64 {
		t.Errorf("sha256 fingerprint = %q", att.SHA256)
	}
}

func TestParseMIMECalendarAttachment(t *testing.T) {
	msg := "Mime-Version: 1.0\r\n" +
		"From: cal@example.com\r\n" +
		"Subject: Invite\r\n" +
		"Content-Type: multipart/mixed; boundary=\"B\"\r\n" +
		"\r\n" +
		"--B\r\n" +
		"Content-Type: text/calendar; method=REQUEST\r\n" +
		"Content-Disposition: attachment; filename=\"invite.ics\"\r\n" +
		"\r\n" +
		"BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nSUMMARY:Standup\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n" +
		"--B--\r\n"

	parsed := ParseMIME([]byte(msg))
	if len(parsed.CalendarTexts) != 1 {
		t.Fatalf("expected 1 calendar text, got %d", len(parsed.CalendarTexts))
	}
	if !strings.Contains(parsed.CalendarTexts[0], "SUMMARY:Standup") {
		t.Errorf("calendar text = %q", parsed.CalendarTexts[0])
	}
}

func TestParseMIMEUnparsableFallsBack(t *testing.T) {
	raw := []byte("not a mime message at all")
	parsed := ParseMIME(raw)
	if parsed.Text != string(raw) {
		t.Errorf("expected raw fallback, got %q", parsed.Text)
	}
}

func TestBestTextPrefersPlain(t *testing.T) {
	p := &ParsedBody{Text: "plain", HTML: "<p>html</p>"}
	if got := p.BestText(); got != "plain" {
		t.Errorf("got %q", got)
	}

	p = &ParsedBody{HTML: "<p>Hello <b>world</b></p>"}
	if got := p.BestText(); got != "Hello world" {
		t.Errorf("stripped html = %q", got)
	}
}

func TestStripHTML(t *testing.T) {
	in := `<div class="x"><a href="https://e.com">Click</a> here   now</div>`
	if got := StripHTML(in); got != "Click here now" {
		t.Errorf("got %q", got)
	}
}

func TestHeuristicTrackingFromParsedBody(t *testing.T) {
	msg := "Mime-Version: 1.0\r\n" +
		"From: shop@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: Your order has shipped\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Track your package: https://www.ups.com/track?tracknum=1Z999AA10123456784\r\n" +
		"Estimated delivery: 2026-09-02\r\n"

	parsed := ParseMIME([]byte(msg))
	items := heuristicTracking(parsed)
	if len(items) != 1 {
		t.Fatalf("expected 1 tracking item, got %d", len(items))
	}
	if items[0].Carrier != "UPS" {
		t.Errorf("carrier = %q, want UPS", items[0].Carrier)
	}
	if items[0].DeliveryDate == "" {
		t.Error("delivery date phrase should be captured")
	}
}

func TestHeuristicTrackingIgnoresMarketingLinks(t *testing.T) {
	msg := "Mime-Version: 1.0\r\n" +
		"From: promo@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: Big sale\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Shop now: https://shop.example.com/sale?utm_source=email\r\n"

	if items := heuristicTracking(ParseMIME([]byte(msg))); len(items) != 0 {
		t.Fatalf("marketing link produced tracking items: %+v", items)
	}
}

func TestCreatedChangesSummarizesNewMessage(t *testing.T) {
	msg := &model.Message{
		ID:        "msg-1",
		MailboxID: "mb-1",
		Subject:   "Quarterly report",
		FromAddr:  "alice@example.com",
		Date:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Read:      false,
	}
	parsed := &ParsedBody{
		Text:        "Hi Bob,\n\nplease   find the report attached.\n",
		Attachments: []AttachmentMeta{{Filename: "report.pdf"}},
	}

	changes := createdChanges(msg, parsed)
	if changes.Mailbox != "mb-1" || changes.Subject != "Quarterly report" {
		t.Errorf("unexpected changes: %+v", changes)
	}
	if changes.Snippet != "Hi Bob, please find the report attached." {
		t.Errorf("snippet = %q", changes.Snippet)
	}
	if !changes.Unread {
		t.Error("new message should be unread")
	}
	if !changes.HasAtt {
		t.Error("attachment flag should be set")
	}
	if changes.Category != "" {
		t.Errorf("category should be empty before classification, got %q", changes.Category)
	}
}

func TestSnippetTruncatesAtRuneBoundary(t *testing.T) {
	long := strings.Repeat("日本語 ", 100)
	got := snippet(long, 20)
	if runes := []rune(got); len(runes) != 20 {
		t.Errorf("snippet length = %d runes, want 20", len(runes))
	}
	if snippet("short", 20) != "short" {
		t.Error("short text should pass through unchanged")
	}
}

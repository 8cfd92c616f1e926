package parser

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
)

// ParsedBody is the result of MIME-decoding one raw message.
type ParsedBody struct {
	Text          string
	HTML          string
	Attachments   []AttachmentMeta
	CalendarTexts []string
}

// AttachmentMeta carries attachment metadata plus the sha256 content
// fingerprint. Content bytes are not kept: retrieval re-derives them
// from the stored raw message by fingerprint.
type AttachmentMeta struct {
	Filename    string
	ContentType string
	ContentID   string
	Size        int64
	SHA256      string
}

// ParseMIME decodes a raw RFC 5322 message. Parsing is best-effort: an
// unparsable message degrades to its raw bytes as plain text instead of
// failing the job.
func ParseMIME(raw []byte) *ParsedBody {
	parsed := &ParsedBody{}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		parsed.Text = string(raw)
		return parsed
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				if parsed.Text == "" {
					parsed.Text = string(body)
				}
			case strings.HasPrefix(contentType, "text/html"):
				if parsed.HTML == "" {
					parsed.HTML = string(body)
				}
			case strings.HasPrefix(contentType, "text/calendar"):
				parsed.CalendarTexts = append(parsed.CalendarTexts, string(body))
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			contentID := strings.Trim(h.Get("Content-Id"), "<>")

			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}

			sum := sha256.Sum256(body)
			parsed.Attachments = append(parsed.Attachments, AttachmentMeta{
				Filename:    filename,
				ContentType: contentType,
				ContentID:   contentID,
				Size:        int64(len(body)),
				SHA256:      hex.EncodeToString(sum[:]),
			})

			// 日历附件也参与事件提取
			if strings.HasPrefix(contentType, "text/calendar") ||
				strings.HasSuffix(strings.ToLower(filename), ".ics") {
				parsed.CalendarTexts = append(parsed.CalendarTexts, string(body))
			}
		}
	}

	return parsed
}

// BestText returns the body most useful for classification: plain text
// when present, stripped HTML otherwise.
func (p *ParsedBody) BestText() string {
	if strings.TrimSpace(p.Text) != "" {
		return p.Text
	}
	return StripHTML(p.HTML)
}

// StripHTML removes tags crudely. Good enough for keyword heuristics
// and LLM prompt bodies; not a sanitizer.
func StripHTML(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteRune(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

package parser

import (
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"mailpipe/internal/model"
)

// messageFromBuffer maps a fetched IMAP buffer onto the storage model.
func messageFromBuffer(mailboxID string, buf *imapclient.FetchMessageBuffer, raw []byte) *model.Message {
	msg := &model.Message{
		MailboxID:    mailboxID,
		UID:          uint32(buf.UID),
		InternalDate: buf.InternalDate,
		Size:         buf.RFC822Size,
		Raw:          raw,
	}

	if buf.Envelope != nil {
		msg.MessageID = buf.Envelope.MessageID
		msg.Subject = buf.Envelope.Subject
		msg.Date = buf.Envelope.Date

		if len(buf.Envelope.From) > 0 {
			from := buf.Envelope.From[0]
			msg.FromAddr = from.Addr()
			msg.FromName = from.Name
		}
		for _, to := range buf.Envelope.To {
			msg.ToAddrs = append(msg.ToAddrs, to.Addr())
		}
	}

	for _, flag := range buf.Flags {
		msg.Flags = append(msg.Flags, string(flag))
		if flag == imap.FlagSeen {
			msg.Read = true
		}
	}

	if msg.Date.IsZero() {
		if !msg.InternalDate.IsZero() {
			msg.Date = msg.InternalDate
		} else {
			msg.Date = time.Now()
		}
	}
	return msg
}

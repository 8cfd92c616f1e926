package mq

import "time"

// Notification types published on the bus and relayed to clients.
const (
	NotificationMessageCreated = "message.created"
	NotificationMessageUpdated = "message.updated"
)

// Notification is the envelope published on the Redis notification
// channel. UserID selects which subscribers receive it.
type Notification struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	MessageID string    `json:"message_id"`
	Changes   any       `json:"changes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageCreatedChanges 新邮件通知携带的摘要字段
type MessageCreatedChanges struct {
	Mailbox  string    `json:"mailbox"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	Date     time.Time `json:"date"`
	Snippet  string    `json:"snippet,omitempty"`
	Unread   bool      `json:"unread"`
	HasAtt   bool      `json:"has_attachments"`
	Category string    `json:"category,omitempty"`
}

package model

import "time"

// Account 邮箱账户
type Account struct {
	ID            string
	UserID        string
	Email         string
	EncryptedCred []byte
	SyncEnabled   bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Mailbox 账户下的一个文件夹，(account_id, path) 唯一
type Mailbox struct {
	ID        string
	AccountID string
	Path      string
	CreatedAt time.Time
}

// SyncState is the per-mailbox cursor: the highest UID known to be fully
// processed, plus the time of the most recent check. LastUID only ever
// grows (max-merge on write).
type SyncState struct {
	MailboxID     string
	LastUID       uint32
	LastCheckedAt time.Time
}

// Message 持久化的邮件，(mailbox_id, uid) 唯一
type Message struct {
	ID           string
	MailboxID    string
	UID          uint32
	MessageID    string // RFC 5322 Message-ID header
	Subject      string
	FromAddr     string
	FromName     string
	ToAddrs      []string
	Date         time.Time
	InternalDate time.Time
	Flags        []string
	Raw          []byte
	Size         int64
	Read         bool
	Archived     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MessageVersion 不可变的原始快照，(message_id, version) 唯一
type MessageVersion struct {
	ID        string
	MessageID string
	Version   int
	Raw       []byte
	CreatedAt time.Time
}

// Attachment metadata only: content is re-derived from the message raw
// bytes on retrieval, matched by the sha256 fingerprint.
type Attachment struct {
	ID          string
	MessageID   string
	Filename    string
	ContentType string
	Size        int64
	ContentID   string
	SHA256      string
	CreatedAt   time.Time
}

// CanTransition is the pipeline stage table. Classification may run
// again from any stage (it invalidates derived data); summarization and
// skipping only follow a classification.
func CanTransition(from, to string) bool {
	switch to {
	case StageClassified:
		return true
	case StageSummarized, StageSkipped:
		return from == StageClassified
	default:
		return false
	}
}

// Pipeline stages for AiMetadata.
const (
	StagePending    = "pending"
	StageClassified = "classified"
	StageSummarized = "summarized"
	StageSkipped    = "skipped"
)

// AiMetadata 每封邮件一条（message_id, version=1 唯一），
// 由 Parse 创建、Classification/Summarization 就地更新
type AiMetadata struct {
	ID            string
	MessageID     string
	Version       int
	Stage         string
	Category      *string
	Spam          *bool
	Confidence    *float64
	Cold          *bool
	Reason        *string
	Method        *string
	Summary       *string
	Action        *string
	ActionDetails map[string]any
	Events        []CalendarEvent
	Tracking      []TrackingItem
	Model         *string
	Provider      *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CalendarEvent 从日历附件或 LLM 输出提取的事件
type CalendarEvent struct {
	ID        string     `json:"id,omitempty"`
	MessageID string     `json:"-"`
	Summary   string     `json:"summary"`
	Location  string     `json:"location,omitempty"`
	StartsAt  *time.Time `json:"starts_at,omitempty"`
	EndsAt    *time.Time `json:"ends_at,omitempty"`
	Attendees []string   `json:"attendees,omitempty"`
	Source    string     `json:"source,omitempty"` // ics / llm
}

// TrackingItem 从正文提取的物流跟踪条目
type TrackingItem struct {
	URL            string `json:"url"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Status         string `json:"status,omitempty"`
	DeliveryDate   string `json:"delivery_date,omitempty"`
}

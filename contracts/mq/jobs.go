package mq

import "fmt"

// Routing keys for the jobs exchange. One durable queue per stage.
const (
	RoutingKeyFetch     = "mail.fetch"
	RoutingKeyParse     = "mail.parse"
	RoutingKeyClassify  = "mail.classify"
	RoutingKeySummarize = "mail.summarize"
)

// Fetch reasons name the trigger. Import seeds a freshly connected
// account, idle reacts to a server push, poll is the scheduled sweep.
const (
	FetchReasonImport = "import"
	FetchReasonIdle   = "idle"
	FetchReasonPoll   = "poll"
)

// FetchJobPayload 同步任务的 payload
type FetchJobPayload struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
	// Import options, only set when Reason is "import".
	LookbackDays int `json:"lookback_days,omitempty"`
	MaxMessages  int `json:"max_messages,omitempty"`
}

// ParseJobPayload identifies one message to download and persist.
// UID 为 0 时表示只有序列号，需要先翻译成 UID。
type ParseJobPayload struct {
	AccountID string `json:"account_id"`
	Mailbox   string `json:"mailbox"`
	UID       uint32 `json:"uid"`
	Seq       uint32 `json:"seq,omitempty"`
}

// JobID returns the deterministic job id for a parse job so that the
// broker deduplicates re-enqueues of the same message.
func (p ParseJobPayload) JobID() string {
	return fmt.Sprintf("%s-%s-%d", p.AccountID, p.Mailbox, p.UID)
}

// ClassifyJobPayload 分类任务的 payload
type ClassifyJobPayload struct {
	MessageID    string `json:"message_id"`
	AiMetadataID string `json:"ai_metadata_id"`
}

// SummarizeJobPayload 摘要任务的 payload
type SummarizeJobPayload struct {
	MessageID    string `json:"message_id"`
	AiMetadataID string `json:"ai_metadata_id"`
}

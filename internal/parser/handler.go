package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
	"mailpipe/internal/extract"
	"mailpipe/internal/imapx"
	"mailpipe/internal/model"
	"mailpipe/internal/repository"
	"mailpipe/pkg/logger"
	"mailpipe/pkg/metrics"
	"mailpipe/pkg/mq"
	"mailpipe/pkg/outbox"
	"mailpipe/pkg/util"
	"mailpipe/pkg/vault"
)

// Handler downloads, parses and persists one message per job. It is
// the only component that creates Message rows and the only one that
// advances the UID ledger.
type Handler struct {
	accountRepo *repository.AccountRepository
	mailboxRepo *repository.MailboxRepository
	messageRepo *repository.MessageRepository
	syncRepo    *repository.SyncStateRepository
	aimetaRepo  *repository.AiMetadataRepository
	eventRepo   *repository.EventRepository
	outboxRepo  *outbox.Repository

	registry  *imapx.Registry
	vault     *vault.Vault
	publisher *mq.Publisher
	deduper   *util.Deduper
	logger    *zap.Logger
}

func NewHandler(
	accountRepo *repository.AccountRepository,
	mailboxRepo *repository.MailboxRepository,
	messageRepo *repository.MessageRepository,
	syncRepo *repository.SyncStateRepository,
	aimetaRepo *repository.AiMetadataRepository,
	eventRepo *repository.EventRepository,
	outboxRepo *outbox.Repository,
	registry *imapx.Registry,
	v *vault.Vault,
	publisher *mq.Publisher,
	deduper *util.Deduper,
	log *zap.Logger,
) *Handler {
	return &Handler{
		accountRepo: accountRepo,
		mailboxRepo: mailboxRepo,
		messageRepo: messageRepo,
		syncRepo:    syncRepo,
		aimetaRepo:  aimetaRepo,
		eventRepo:   eventRepo,
		outboxRepo:  outboxRepo,
		registry:    registry,
		vault:       v,
		publisher:   publisher,
		deduper:     deduper,
		logger:      log,
	}
}

func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) error {
	// --------------------------
	// Step 1: decode payload
	// --------------------------
	var payload mqcontracts.ParseJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid ParseJobPayload",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return fmt.Errorf("bad_payload: %w", err)
	}

	traceLogger := logger.WithTrace(ctx, h.logger)
	traceLogger.Info("Parse: received job",
		zap.String("account_id", payload.AccountID),
		zap.String("mailbox", payload.Mailbox),
		zap.Uint32("uid", payload.UID),
	)

	// --------------------------
	// Step 2: load account + credentials
	// --------------------------
	account, err := h.accountRepo.FindByID(ctx, payload.AccountID)
	if err != nil {
		return err
	}
	if !account.SyncEnabled {
		return fmt.Errorf("sync disabled for account %s", account.ID)
	}

	settings, err := h.vault.Decrypt(account.EncryptedCred)
	if err != nil {
		return err
	}

	mailbox, err := h.mailboxRepo.Upsert(ctx, account.ID, payload.Mailbox)
	if err != nil {
		return err
	}

	// --------------------------
	// Step 3: skip-if-present 快速路径
	// --------------------------
	if payload.UID > 0 {
		stored, err := h.messageRepo.HasRaw(ctx, mailbox.ID, payload.UID)
		if err != nil {
			return err
		}
		if stored {
			traceLogger.Debug("Message already stored, refreshing ledger only",
				zap.String("mailbox", payload.Mailbox),
				zap.Uint32("uid", payload.UID),
			)
			metrics.IncrementMessagesParsed("skipped")
			return h.syncRepo.AdvanceUID(ctx, mailbox.ID, payload.UID)
		}
	}

	// Redis 去重（避免并发重复消费同一 UID）
	dedupID := payload.JobID()
	if !h.deduper.AcquireOnce(ctx, "parse", dedupID) {
		traceLogger.Info("Duplicated parse job, skip", zap.String("job_id", dedupID))
		return nil
	}
	defer h.deduper.Release(ctx, "parse", dedupID)

	// --------------------------
	// Step 4: fetch from IMAP
	// --------------------------
	session, err := h.registry.Acquire(ctx, account.ID, settings)
	if err != nil {
		return err
	}
	defer h.registry.Release(account.ID, session)

	if _, err := session.SelectReadOnly(ctx, payload.Mailbox); err != nil {
		return err
	}

	uid := imap.UID(payload.UID)
	if uid == 0 && payload.Seq > 0 {
		// 有些服务器返回序列号，先翻译成 UID
		uid, err = session.ResolveSeq(ctx, payload.Seq)
		if err != nil {
			return err
		}
	}
	if uid == 0 {
		return fmt.Errorf("message not found: no uid or seq in job")
	}

	buf, rawMsg, err := session.FetchFull(ctx, uid)
	if err != nil {
		metrics.IncrementMessagesParsed("failed")
		return err
	}
	if len(rawMsg) == 0 {
		return fmt.Errorf("message not found: empty body for uid %d", uid)
	}

	// --------------------------
	// Step 5: parse + persist
	// --------------------------
	msg := messageFromBuffer(mailbox.ID, buf, rawMsg)
	parsed := ParseMIME(rawMsg)

	inserted, metaID, err := h.persist(ctx, account.UserID, msg, parsed)
	if err != nil {
		metrics.IncrementMessagesParsed("failed")
		return err
	}

	if !inserted {
		metrics.IncrementMessagesParsed("updated")
		traceLogger.Info("Message refreshed",
			zap.String("message_id", msg.ID),
			zap.Uint32("uid", msg.UID),
		)
		return nil
	}

	// --------------------------
	// Step 6: chain into classification (first insert only)
	// --------------------------
	classifyPayload := mqcontracts.ClassifyJobPayload{
		MessageID:    msg.ID,
		AiMetadataID: metaID,
	}
	if err := h.publisher.Publish(ctx, mqcontracts.RoutingKeyClassify, classifyPayload); err != nil {
		// 分类任务丢失可由重新分类补救，不让解析失败
		traceLogger.Error("Failed to enqueue classify job",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
	}

	metrics.IncrementMessagesParsed("inserted")
	traceLogger.Info("Message stored",
		zap.String("message_id", msg.ID),
		zap.String("mailbox", payload.Mailbox),
		zap.Uint32("uid", msg.UID),
		zap.Int("attachments", len(parsed.Attachments)),
	)
	return nil
}

// persist writes the message and all first-insert side effects in one
// transaction: version snapshot, attachments, extracted events, pending
// ai metadata, the message.created outbox event, and the ledger merge.
func (h *Handler) persist(ctx context.Context, userID string, msg *model.Message, parsed *ParsedBody) (inserted bool, metaID string, err error) {
	tx, err := h.messageRepo.Pool().Begin(ctx)
	if err != nil {
		return false, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err = h.messageRepo.UpsertTx(ctx, tx, msg)
	if err != nil {
		return false, "", err
	}

	if inserted {
		if err := h.messageRepo.InsertVersionTx(ctx, tx, msg.ID, 1, msg.Raw); err != nil {
			return false, "", err
		}

		for _, a := range parsed.Attachments {
			att := &model.Attachment{
				MessageID:   msg.ID,
				Filename:    a.Filename,
				ContentType: a.ContentType,
				Size:        a.Size,
				ContentID:   a.ContentID,
				SHA256:      a.SHA256,
			}
			if err := h.messageRepo.InsertAttachmentTx(ctx, tx, att); err != nil {
				return false, "", err
			}
		}

		metaID, err = h.aimetaRepo.CreatePendingTx(ctx, tx, msg.ID)
		if err != nil {
			return false, "", err
		}

		// 启发式提取：日历事件 + 物流跟踪，永不致命
		h.extractHeuristics(ctx, tx, msg, metaID, parsed)

		if err := h.insertCreatedEvent(ctx, tx, userID, msg, parsed); err != nil {
			h.logger.Error("Failed to insert message.created to outbox",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			// 通知失败不影响主流程
		}
	}

	if err := h.syncRepo.AdvanceUIDTx(ctx, tx, msg.MailboxID, msg.UID); err != nil {
		return false, "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, metaID, nil
}

func (h *Handler) extractHeuristics(ctx context.Context, tx pgx.Tx, msg *model.Message, metaID string, parsed *ParsedBody) {
	texts := append([]string{}, parsed.CalendarTexts...)
	if t := parsed.BestText(); t != "" {
		texts = append(texts, t)
	}

	if tracking := heuristicTracking(parsed); len(tracking) > 0 {
		if err := h.aimetaRepo.SetTrackingTx(ctx, tx, metaID, tracking); err != nil {
			h.logger.Warn("Failed to store tracking items",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		} else {
			h.logger.Info("Extracted tracking items",
				zap.String("message_id", msg.ID),
				zap.Int("count", len(tracking)),
			)
		}
	}

	seen := 0
	for _, text := range texts {
		for _, ev := range extract.CalendarEvents(text) {
			ev.MessageID = msg.ID
			if err := h.eventRepo.InsertTx(ctx, tx, &ev); err != nil {
				h.logger.Warn("Failed to insert calendar event",
					zap.String("message_id", msg.ID),
					zap.Error(err),
				)
				continue
			}
			seen++
		}
	}
	if seen > 0 {
		h.logger.Info("Extracted calendar events",
			zap.String("message_id", msg.ID),
			zap.Int("count", seen),
		)
	}
}

// heuristicTracking scans the best body text for shipment tracking
// links and nearby delivery dates.
func heuristicTracking(parsed *ParsedBody) []model.TrackingItem {
	return extract.TrackingItems(parsed.BestText())
}

const snippetLimit = 160

// createdChanges builds the summary fields pushed to subscribers when
// a new message lands. Category is unknown until classification.
func createdChanges(msg *model.Message, parsed *ParsedBody) mqcontracts.MessageCreatedChanges {
	return mqcontracts.MessageCreatedChanges{
		Mailbox: msg.MailboxID,
		Subject: msg.Subject,
		From:    msg.FromAddr,
		Date:    msg.Date,
		Snippet: snippet(parsed.BestText(), snippetLimit),
		Unread:  !msg.Read,
		HasAtt:  len(parsed.Attachments) > 0,
	}
}

// snippet collapses whitespace and cuts at a rune boundary.
func snippet(text string, limit int) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) <= limit {
		return collapsed
	}
	return string(runes[:limit])
}

func (h *Handler) insertCreatedEvent(ctx context.Context, tx pgx.Tx, userID string, msg *model.Message, parsed *ParsedBody) error {
	notification := mqcontracts.Notification{
		Type:      mqcontracts.NotificationMessageCreated,
		UserID:    userID,
		MessageID: msg.ID,
		Changes:   createdChanges(msg, parsed),
		CreatedAt: time.Now(),
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	messageID := msg.ID
	return h.outboxRepo.InsertEvent(ctx, tx, &outbox.Event{
		AggregateType: "message",
		AggregateID:   &messageID,
		RoutingKey:    mqcontracts.NotificationMessageCreated,
		Payload:       payload,
		Status:        "pending",
	})
}

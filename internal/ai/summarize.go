package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
	"mailpipe/internal/model"
	"mailpipe/internal/parser"
	"mailpipe/internal/repository"
	"mailpipe/pkg/logger"
	"mailpipe/pkg/outbox"
	"mailpipe/pkg/util"
)

const summarizeBodyLimit = 8000

// firstSentencePattern cuts at the first terminal punctuation mark
// followed by whitespace or end of input.
var firstSentencePattern = regexp.MustCompile(`(?s)^(.*?[.!?])(\s|$)`)

// SummarizeHandler produces a summary and an action recommendation for
// messages whose category asks for one. LLM failures degrade to a
// deterministic fallback instead of leaving the row half done.
type SummarizeHandler struct {
	messageRepo *repository.MessageRepository
	aimetaRepo  *repository.AiMetadataRepository
	eventRepo   *repository.EventRepository
	outboxRepo  *outbox.Repository

	llm     *LLMClient
	deduper *util.Deduper
	logger  *zap.Logger
}

func NewSummarizeHandler(
	messageRepo *repository.MessageRepository,
	aimetaRepo *repository.AiMetadataRepository,
	eventRepo *repository.EventRepository,
	outboxRepo *outbox.Repository,
	llm *LLMClient,
	deduper *util.Deduper,
	log *zap.Logger,
) *SummarizeHandler {
	return &SummarizeHandler{
		messageRepo: messageRepo,
		aimetaRepo:  aimetaRepo,
		eventRepo:   eventRepo,
		outboxRepo:  outboxRepo,
		llm:         llm,
		deduper:     deduper,
		logger:      log,
	}
}

func (h *SummarizeHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	// --------------------------
	// Step 1: decode payload
	// --------------------------
	var payload mqcontracts.SummarizeJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid SummarizeJobPayload",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return fmt.Errorf("bad_payload: %w", err)
	}

	traceLogger := logger.WithTrace(ctx, h.logger)
	traceLogger.Info("Summarize: received job",
		zap.String("message_id", payload.MessageID),
		zap.String("ai_metadata_id", payload.AiMetadataID),
	)

	// --------------------------
	// Step 2: re-read current labels
	// 分类可能在任务排队期间变了，以当前行为准
	// --------------------------
	meta, err := h.aimetaRepo.FindByID(ctx, payload.AiMetadataID)
	if err != nil {
		return err
	}
	if !model.CanTransition(meta.Stage, model.StageSummarized) {
		traceLogger.Info("Stage does not allow summarization, skip",
			zap.String("ai_metadata_id", meta.ID),
			zap.String("stage", meta.Stage),
		)
		return nil
	}
	category := ""
	if meta.Category != nil {
		category = *meta.Category
	}
	if !NeedsSummary(category) {
		traceLogger.Info("Category no longer needs a summary, skip",
			zap.String("ai_metadata_id", meta.ID),
			zap.String("category", category),
		)
		return h.aimetaRepo.MarkSkipped(ctx, meta.ID)
	}

	if !h.deduper.AcquireOnce(ctx, "summarize", meta.ID) {
		traceLogger.Info("Duplicated summarize job, skip", zap.String("ai_metadata_id", meta.ID))
		return nil
	}
	defer h.deduper.Release(ctx, "summarize", meta.ID)

	message, err := h.messageRepo.FindByID(ctx, payload.MessageID)
	if err != nil {
		return err
	}

	subject := message.Subject
	from := formatFrom(message.FromName, message.FromAddr)
	body := parser.ParseMIME(message.Raw).BestText()

	// --------------------------
	// Step 3: ask the LLM, degrade to the deterministic fallback
	// --------------------------
	result := h.summarize(ctx, traceLogger, subject, from, truncate(body, summarizeBodyLimit), body)

	// --------------------------
	// Step 4: persist summary, rebuild LLM events, notify
	// --------------------------
	tx, err := h.messageRepo.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := h.aimetaRepo.UpdateSummaryTx(ctx, tx, meta.ID, result); err != nil {
		return err
	}

	if err := h.eventRepo.DeleteBySourceTx(ctx, tx, message.ID, "llm"); err != nil {
		return err
	}
	for i := range result.Events {
		event := result.Events[i]
		event.MessageID = message.ID
		event.Source = "llm"
		if err := h.eventRepo.InsertTx(ctx, tx, &event); err != nil {
			return err
		}
	}

	if err := h.insertUpdatedEvent(ctx, tx, message, result); err != nil {
		traceLogger.Error("Failed to insert message.updated to outbox", zap.Error(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	traceLogger.Info("Message summarized",
		zap.String("message_id", message.ID),
		zap.String("action", result.Action),
		zap.Int("events", len(result.Events)),
		zap.Int("tracking", len(result.Tracking)),
	)
	return nil
}

func (h *SummarizeHandler) summarize(ctx context.Context, traceLogger *zap.Logger, subject, from, truncated, fullBody string) *repository.SummaryResult {
	if h.llm != nil {
		output, err := h.llm.SummarizeAndAction(ctx, subject, from, truncated)
		if err != nil {
			traceLogger.Warn("LLM summarization failed, using fallback", zap.Error(err))
		} else if output != nil {
			return summaryFromOutput(output, h.llm.SummaryModel(), h.llm.Provider())
		}
	}
	return fallbackSummary(subject, fullBody)
}

func summaryFromOutput(output *SummaryOutput, llmModel, provider string) *repository.SummaryResult {
	result := &repository.SummaryResult{
		Summary:       strings.TrimSpace(output.Summary),
		Action:        output.Action.Type,
		ActionDetails: output.Action.Details,
		Model:         llmModel,
		Provider:      provider,
	}
	if result.Action == "" {
		result.Action = "none"
	}
	if output.Action.Reason != "" {
		if result.ActionDetails == nil {
			result.ActionDetails = map[string]any{}
		}
		result.ActionDetails["reason"] = output.Action.Reason
	}

	for _, e := range output.Events {
		if e.Summary == "" {
			continue
		}
		result.Events = append(result.Events, model.CalendarEvent{
			Summary:   e.Summary,
			Location:  e.Location,
			StartsAt:  parseEventTime(e.Start),
			EndsAt:    parseEventTime(e.End),
			Attendees: e.Attendees,
			Source:    "llm",
		})
	}
	for _, t := range output.Tracking {
		if t.URL == "" && t.TrackingNumber == "" {
			continue
		}
		result.Tracking = append(result.Tracking, model.TrackingItem{
			URL:            t.URL,
			Carrier:        t.Carrier,
			TrackingNumber: t.TrackingNumber,
			Status:         t.Status,
			DeliveryDate:   t.DeliveryDate,
		})
	}
	return result
}

// fallbackSummary keeps the pipeline moving when the LLM is down: the
// first sentence of the body (or the subject) plus a no-op action.
func fallbackSummary(subject, body string) *repository.SummaryResult {
	summary := strings.TrimSpace(body)
	if m := firstSentencePattern.FindStringSubmatch(summary); m != nil {
		summary = strings.TrimSpace(m[1])
	}
	if summary == "" {
		summary = subject
	}
	summary = truncate(summary, 300)

	return &repository.SummaryResult{
		Summary: summary,
		Action:  "none",
		ActionDetails: map[string]any{
			"reason": "could not generate recommendation",
		},
	}
}

func parseEventTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t
		}
	}
	return nil
}

func (h *SummarizeHandler) insertUpdatedEvent(ctx context.Context, tx pgx.Tx, message *model.Message, result *repository.SummaryResult) error {
	userID, err := h.messageRepo.OwnerUserID(ctx, message.ID)
	if err != nil {
		return err
	}

	notification := mqcontracts.Notification{
		Type:      mqcontracts.NotificationMessageUpdated,
		UserID:    userID,
		MessageID: message.ID,
		Changes: map[string]any{
			"summary": result.Summary,
			"action":  result.Action,
		},
		CreatedAt: time.Now(),
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	messageID := message.ID
	return h.outboxRepo.InsertEvent(ctx, tx, &outbox.Event{
		AggregateType: "message",
		AggregateID:   &messageID,
		RoutingKey:    mqcontracts.NotificationMessageUpdated,
		Payload:       payload,
		Status:        "pending",
	})
}

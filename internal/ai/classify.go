package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	mqcontracts "mailpipe/contracts/mq"
	"mailpipe/internal/model"
	"mailpipe/internal/parser"
	"mailpipe/internal/repository"
	"mailpipe/pkg/logger"
	"mailpipe/pkg/metrics"
	"mailpipe/pkg/mq"
	"mailpipe/pkg/outbox"
	"mailpipe/pkg/util"
)

const classifyBodyLimit = 4000

// ClassifyHandler assigns labels through the three-tier chain: local
// classifier, LLM, deterministic heuristics. The last tier cannot fail,
// so every message ends up with a category.
type ClassifyHandler struct {
	messageRepo *repository.MessageRepository
	aimetaRepo  *repository.AiMetadataRepository
	eventRepo   *repository.EventRepository
	outboxRepo  *outbox.Repository

	local     *LocalClassifier
	llm       *LLMClient
	publisher *mq.Publisher
	deduper   *util.Deduper
	logger    *zap.Logger

	summarizeEnabled bool
}

func NewClassifyHandler(
	messageRepo *repository.MessageRepository,
	aimetaRepo *repository.AiMetadataRepository,
	eventRepo *repository.EventRepository,
	outboxRepo *outbox.Repository,
	local *LocalClassifier,
	llm *LLMClient,
	publisher *mq.Publisher,
	deduper *util.Deduper,
	summarizeEnabled bool,
	log *zap.Logger,
) *ClassifyHandler {
	return &ClassifyHandler{
		messageRepo:      messageRepo,
		aimetaRepo:       aimetaRepo,
		eventRepo:        eventRepo,
		outboxRepo:       outboxRepo,
		local:            local,
		llm:              llm,
		publisher:        publisher,
		deduper:          deduper,
		summarizeEnabled: summarizeEnabled,
		logger:           log,
	}
}

func (h *ClassifyHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	// --------------------------
	// Step 1: decode payload
	// --------------------------
	var payload mqcontracts.ClassifyJobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.logger.Error("Invalid ClassifyJobPayload",
			zap.String("raw", string(raw)),
			zap.Error(err),
		)
		return fmt.Errorf("bad_payload: %w", err)
	}

	traceLogger := logger.WithTrace(ctx, h.logger)
	traceLogger.Info("Classify: received job",
		zap.String("message_id", payload.MessageID),
		zap.String("ai_metadata_id", payload.AiMetadataID),
	)

	// --------------------------
	// Step 2: re-read current state
	// 重试的任务必须读当前行，不能信任触发时的字段
	// --------------------------
	meta, err := h.aimetaRepo.FindByID(ctx, payload.AiMetadataID)
	if err != nil {
		return err
	}

	// Redis 去重（避免并发重复消费）
	if !h.deduper.AcquireOnce(ctx, "classify", meta.ID) {
		traceLogger.Info("Duplicated classify job, skip", zap.String("ai_metadata_id", meta.ID))
		return nil
	}
	defer h.deduper.Release(ctx, "classify", meta.ID)

	message, err := h.messageRepo.FindByID(ctx, payload.MessageID)
	if err != nil {
		return err
	}

	subject := message.Subject
	from := formatFrom(message.FromName, message.FromAddr)
	body := truncate(parser.ParseMIME(message.Raw).BestText(), classifyBodyLimit)

	// --------------------------
	// Step 3: three-tier classification
	// --------------------------
	result, method := h.classify(ctx, subject, from, body)

	// --------------------------
	// Step 4: persist labels + notify in one transaction
	// --------------------------
	clsModel, clsProvider := "", ""
	if method == "llm" {
		clsModel, clsProvider = h.llm.ClassifyModel(), h.llm.Provider()
	}

	tx, err := h.messageRepo.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := h.aimetaRepo.UpdateClassificationTx(ctx, tx, meta.ID, &repository.ClassificationResult{
		Category:   result.Category,
		Spam:       result.Spam,
		Confidence: result.Confidence,
		Cold:       result.Cold,
		Reason:     result.Reason,
		Method:     method,
		Model:      clsModel,
		Provider:   clsProvider,
	}); err != nil {
		return err
	}

	// 重新分类使旧的衍生事件失效
	if err := h.eventRepo.DeleteBySourceTx(ctx, tx, message.ID, "llm"); err != nil {
		return err
	}

	if err := h.insertUpdatedEvent(ctx, tx, message, result); err != nil {
		traceLogger.Error("Failed to insert message.updated to outbox", zap.Error(err))
		// 通知失败不影响主流程
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.IncrementClassification(method)
	traceLogger.Info("Message classified",
		zap.String("message_id", message.ID),
		zap.String("category", result.Category),
		zap.Bool("spam", result.Spam),
		zap.String("method", method),
	)

	// --------------------------
	// Step 5: chain into summarization when the category wants it
	// --------------------------
	if !h.summarizeEnabled || !NeedsSummary(result.Category) {
		if err := h.aimetaRepo.MarkSkipped(ctx, meta.ID); err != nil {
			traceLogger.Warn("Failed to mark summary skipped", zap.Error(err))
		}
		return nil
	}

	summarizePayload := mqcontracts.SummarizeJobPayload{
		MessageID:    message.ID,
		AiMetadataID: meta.ID,
	}
	if err := h.publisher.Publish(ctx, mqcontracts.RoutingKeySummarize, summarizePayload); err != nil {
		traceLogger.Error("Failed to enqueue summarize job",
			zap.String("message_id", message.ID),
			zap.Error(err),
		)
	}
	return nil
}

// classify runs the fallback chain. The returned method is one of
// local / llm / heuristic.
func (h *ClassifyHandler) classify(ctx context.Context, subject, from, body string) (*Result, string) {
	if h.local != nil {
		if result := h.local.Classify(ctx, subject, body); result != nil {
			return result, "local"
		}
	}

	if h.llm != nil {
		result, err := h.llm.Classify(ctx, subject, from, body)
		if err != nil {
			h.logger.Warn("LLM classification failed, falling back to heuristic", zap.Error(err))
		} else if result != nil {
			return result, "llm"
		}
	}

	return HeuristicClassify(subject, from, body), "heuristic"
}

func (h *ClassifyHandler) insertUpdatedEvent(ctx context.Context, tx pgx.Tx, message *model.Message, result *Result) error {
	userID, err := h.messageRepo.OwnerUserID(ctx, message.ID)
	if err != nil {
		return err
	}

	notification := mqcontracts.Notification{
		Type:      mqcontracts.NotificationMessageUpdated,
		UserID:    userID,
		MessageID: message.ID,
		Changes: map[string]any{
			"category":   result.Category,
			"spam":       result.Spam,
			"cold":       result.Cold,
			"confidence": result.Confidence,
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

func formatFrom(name, addr string) string {
	switch {
	case name != "" && addr != "":
		return fmt.Sprintf("%s <%s>", name, addr)
	case addr != "":
		return addr
	default:
		return "unknown"
	}
}

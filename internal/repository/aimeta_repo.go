package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailpipe/internal/model"
	"mailpipe/pkg/metrics"
)

type AiMetadataRepository struct {
	db *pgxpool.Pool
}

func NewAiMetadataRepository(db *pgxpool.Pool) *AiMetadataRepository {
	return &AiMetadataRepository{db: db}
}

// CreatePendingTx creates the single active metadata row for a message.
// (message_id, version) uniqueness makes duplicate creation a no-op; the
// returned id is the surviving row's id either way.
func (r *AiMetadataRepository) CreatePendingTx(ctx context.Context, tx pgx.Tx, messageID string) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("insert", "ai_metadata", time.Since(start)) }()

	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO ai_metadata (message_id, version, stage)
		VALUES ($1, 1, 'pending')
		ON CONFLICT (message_id, version) DO UPDATE SET message_id = EXCLUDED.message_id
		RETURNING id
	`, messageID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to create ai metadata: %w", err)
	}
	return id, nil
}

// FindByID 根据 ID 查找元数据
func (r *AiMetadataRepository) FindByID(ctx context.Context, id string) (*model.AiMetadata, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "ai_metadata", time.Since(start)) }()

	query := `
		SELECT id, message_id, version, stage, category, spam, confidence, cold, reason, method,
		       summary, action, action_details, events, tracking, model, provider, created_at, updated_at
		FROM ai_metadata
		WHERE id = $1
	`
	var m model.AiMetadata
	var actionDetails, events, tracking []byte
	err := r.db.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.MessageID, &m.Version, &m.Stage, &m.Category, &m.Spam, &m.Confidence, &m.Cold,
		&m.Reason, &m.Method, &m.Summary, &m.Action, &actionDetails, &events, &tracking,
		&m.Model, &m.Provider, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ai metadata not found: %s", id)
		}
		return nil, err
	}
	if len(actionDetails) > 0 {
		_ = json.Unmarshal(actionDetails, &m.ActionDetails)
	}
	if len(events) > 0 {
		_ = json.Unmarshal(events, &m.Events)
	}
	if len(tracking) > 0 {
		_ = json.Unmarshal(tracking, &m.Tracking)
	}
	return &m, nil
}

// ClassificationResult 分类阶段要写入的标签
type ClassificationResult struct {
	Category   string
	Spam       bool
	Confidence float64
	Cold       bool
	Reason     string
	Method     string
	Model      string
	Provider   string
}

// UpdateClassificationTx writes labels and clears all derived data.
// A re-classification invalidates any summary, action, events and
// tracking produced for the previous labels.
func (r *AiMetadataRepository) UpdateClassificationTx(ctx context.Context, tx pgx.Tx, id string, res *ClassificationResult) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("update", "ai_metadata", time.Since(start)) }()

	query := `
		UPDATE ai_metadata
		SET stage = 'classified',
		    category = $1, spam = $2, confidence = $3, cold = $4, reason = $5, method = $6,
		    model = NULLIF($7, ''), provider = NULLIF($8, ''),
		    summary = NULL, action = NULL, action_details = NULL, events = NULL,
		    updated_at = NOW()
		WHERE id = $9
	`
	_, err := tx.Exec(ctx, query,
		res.Category, res.Spam, res.Confidence, res.Cold, res.Reason, res.Method,
		res.Model, res.Provider, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update classification: %w", err)
	}
	return nil
}

// SetTrackingTx 写入解析阶段启发式提取的物流跟踪
func (r *AiMetadataRepository) SetTrackingTx(ctx context.Context, tx pgx.Tx, id string, items []model.TrackingItem) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("update", "ai_metadata", time.Since(start)) }()

	tracking, err := json.Marshal(items)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE ai_metadata SET tracking = $1, updated_at = NOW() WHERE id = $2
	`, tracking, id)
	if err != nil {
		return fmt.Errorf("failed to set tracking: %w", err)
	}
	return nil
}

// SummaryResult 摘要阶段要写入的结果
type SummaryResult struct {
	Summary       string
	Action        string
	ActionDetails map[string]any
	Events        []model.CalendarEvent
	Tracking      []model.TrackingItem
	Model         string
	Provider      string
}

// UpdateSummaryTx persists summarization output and marks the stage.
func (r *AiMetadataRepository) UpdateSummaryTx(ctx context.Context, tx pgx.Tx, id string, res *SummaryResult) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("update", "ai_metadata", time.Since(start)) }()

	actionDetails, err := json.Marshal(res.ActionDetails)
	if err != nil {
		return err
	}
	events, err := json.Marshal(res.Events)
	if err != nil {
		return err
	}
	tracking, err := json.Marshal(res.Tracking)
	if err != nil {
		return err
	}

	query := `
		UPDATE ai_metadata
		SET stage = 'summarized',
		    summary = $1, action = $2, action_details = $3, events = $4,
		    tracking = COALESCE(NULLIF($5::jsonb, 'null'::jsonb), tracking),
		    model = COALESCE(NULLIF($6, ''), model), provider = COALESCE(NULLIF($7, ''), provider),
		    updated_at = NOW()
		WHERE id = $8
	`
	if _, err := tx.Exec(ctx, query, res.Summary, res.Action, actionDetails, events, tracking, res.Model, res.Provider, id); err != nil {
		return fmt.Errorf("failed to update summary: %w", err)
	}
	return nil
}

// MarkSkipped 当前类别不需要摘要时记录跳过
func (r *AiMetadataRepository) MarkSkipped(ctx context.Context, id string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("update", "ai_metadata", time.Since(start)) }()

	_, err := r.db.Exec(ctx, `
		UPDATE ai_metadata SET stage = 'skipped', updated_at = NOW() WHERE id = $1
	`, id)
	return err
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailpipe/internal/model"
	"mailpipe/pkg/metrics"
)

type MessageRepository struct {
	db *pgxpool.Pool
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

// Pool 返回底层连接池，供调用方开启事务
func (r *MessageRepository) Pool() *pgxpool.Pool {
	return r.db
}

// UpsertTx inserts or refreshes a message keyed by (mailbox_id, uid).
// Conflicts update mutable metadata but preserve row identity. The
// (xmax = 0) trick reports whether this call performed the insert, so
// racing Parse jobs agree on exactly one winner.
func (r *MessageRepository) UpsertTx(ctx context.Context, tx pgx.Tx, m *model.Message) (inserted bool, err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("upsert", "messages", time.Since(start)) }()

	query := `
		INSERT INTO messages (
			mailbox_id, uid, message_id, subject, from_addr, from_name, to_addrs,
			date, internal_date, flags, raw, size
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (mailbox_id, uid) DO UPDATE
		SET subject = EXCLUDED.subject,
		    flags = EXCLUDED.flags,
		    raw = EXCLUDED.raw,
		    size = EXCLUDED.size,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at, (xmax = 0) AS inserted
	`
	err = tx.QueryRow(ctx, query,
		m.MailboxID,
		int64(m.UID),
		m.MessageID,
		m.Subject,
		m.FromAddr,
		m.FromName,
		m.ToAddrs,
		m.Date,
		m.InternalDate,
		m.Flags,
		m.Raw,
		m.Size,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt, &inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert message: %w", err)
	}
	return inserted, nil
}

// HasRaw reports whether message bytes are already stored for a UID.
// Parse 用它做 skip-if-present 快速路径
func (r *MessageRepository) HasRaw(ctx context.Context, mailboxID string, uid uint32) (bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "messages", time.Since(start)) }()

	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE mailbox_id = $1 AND uid = $2 AND raw IS NOT NULL
		)
	`, mailboxID, int64(uid)).Scan(&exists)
	return exists, err
}

// FilterStoredUIDs returns the subset of candidate UIDs already present
// for the mailbox. Fetch subtracts these before enqueueing Parse jobs.
func (r *MessageRepository) FilterStoredUIDs(ctx context.Context, mailboxID string, uids []uint32) (map[uint32]bool, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "messages", time.Since(start)) }()

	if len(uids) == 0 {
		return map[uint32]bool{}, nil
	}

	candidates := make([]int64, len(uids))
	for i, uid := range uids {
		candidates[i] = int64(uid)
	}

	rows, err := r.db.Query(ctx, `
		SELECT uid FROM messages
		WHERE mailbox_id = $1 AND uid = ANY($2)
	`, mailboxID, candidates)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stored := make(map[uint32]bool, len(uids))
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		stored[uint32(uid)] = true
	}
	return stored, rows.Err()
}

// FindByID 根据 ID 查找消息（含原始字节）
func (r *MessageRepository) FindByID(ctx context.Context, id string) (*model.Message, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "messages", time.Since(start)) }()

	query := `
		SELECT id, mailbox_id, uid, message_id, subject, from_addr, from_name, to_addrs,
		       date, internal_date, flags, raw, size, read, archived, created_at, updated_at
		FROM messages
		WHERE id = $1
	`
	var m model.Message
	var uid int64
	err := r.db.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.MailboxID, &uid, &m.MessageID, &m.Subject, &m.FromAddr, &m.FromName, &m.ToAddrs,
		&m.Date, &m.InternalDate, &m.Flags, &m.Raw, &m.Size, &m.Read, &m.Archived, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message not found: %s", id)
		}
		return nil, err
	}
	m.UID = uint32(uid)
	return &m, nil
}

// OwnerUserID resolves the user owning the account a message belongs to.
// Notifications are addressed by user, not account.
func (r *MessageRepository) OwnerUserID(ctx context.Context, messageID string) (string, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "messages", time.Since(start)) }()

	var userID string
	err := r.db.QueryRow(ctx, `
		SELECT a.user_id
		FROM messages m
		JOIN mailboxes mb ON mb.id = m.mailbox_id
		JOIN accounts a ON a.id = mb.account_id
		WHERE m.id = $1
	`, messageID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("message not found: %s", messageID)
		}
		return "", err
	}
	return userID, nil
}

// InsertVersionTx writes the immutable raw snapshot. ON CONFLICT DO
// NOTHING keeps version 1 append-only under races.
func (r *MessageRepository) InsertVersionTx(ctx context.Context, tx pgx.Tx, messageID string, version int, raw []byte) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("insert", "message_versions", time.Since(start)) }()

	query := `
		INSERT INTO message_versions (message_id, version, raw)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, version) DO NOTHING
	`
	_, err := tx.Exec(ctx, query, messageID, version, raw)
	return err
}

// InsertAttachmentTx 写入附件元数据，按指纹去重
func (r *MessageRepository) InsertAttachmentTx(ctx context.Context, tx pgx.Tx, a *model.Attachment) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("insert", "attachments", time.Since(start)) }()

	query := `
		INSERT INTO attachments (message_id, filename, content_type, size, content_id, sha256)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id, sha256) DO NOTHING
	`
	_, err := tx.Exec(ctx, query, a.MessageID, a.Filename, a.ContentType, a.Size, a.ContentID, a.SHA256)
	return err
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailpipe/internal/model"
	"mailpipe/pkg/metrics"
)

type SyncStateRepository struct {
	db *pgxpool.Pool
}

func NewSyncStateRepository(db *pgxpool.Pool) *SyncStateRepository {
	return &SyncStateRepository{db: db}
}

// Get returns the cursor for a mailbox, or nil when no sync has run yet.
func (r *SyncStateRepository) Get(ctx context.Context, mailboxID string) (*model.SyncState, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "sync_state", time.Since(start)) }()

	query := `
		SELECT mailbox_id, last_uid, last_checked_at
		FROM sync_state
		WHERE mailbox_id = $1
	`
	var s model.SyncState
	err := r.db.QueryRow(ctx, query, mailboxID).Scan(&s.MailboxID, &s.LastUID, &s.LastCheckedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// AdvanceUID merges a processed UID into the cursor. The GREATEST merge
// keeps last_uid monotonic under concurrent Parse completions that
// finish out of order.
func (r *SyncStateRepository) AdvanceUID(ctx context.Context, mailboxID string, uid uint32) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("upsert", "sync_state", time.Since(start)) }()

	query := `
		INSERT INTO sync_state (mailbox_id, last_uid, last_checked_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (mailbox_id) DO UPDATE
		SET last_uid = GREATEST(sync_state.last_uid, EXCLUDED.last_uid),
		    last_checked_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, mailboxID, int64(uid))
	return err
}

// AdvanceUIDTx 在事务中推进游标
func (r *SyncStateRepository) AdvanceUIDTx(ctx context.Context, tx pgx.Tx, mailboxID string, uid uint32) error {
	query := `
		INSERT INTO sync_state (mailbox_id, last_uid, last_checked_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (mailbox_id) DO UPDATE
		SET last_uid = GREATEST(sync_state.last_uid, EXCLUDED.last_uid),
		    last_checked_at = NOW()
	`
	_, err := tx.Exec(ctx, query, mailboxID, int64(uid))
	return err
}

// Touch refreshes last_checked_at without moving the cursor.
func (r *SyncStateRepository) Touch(ctx context.Context, mailboxID string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("upsert", "sync_state", time.Since(start)) }()

	query := `
		INSERT INTO sync_state (mailbox_id, last_uid, last_checked_at)
		VALUES ($1, 0, NOW())
		ON CONFLICT (mailbox_id) DO UPDATE SET last_checked_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, mailboxID)
	return err
}

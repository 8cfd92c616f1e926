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

type AccountRepository struct {
	db *pgxpool.Pool
}

func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByID 根据 ID 查找账户
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*model.Account, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "accounts", time.Since(start)) }()

	query := `
		SELECT id, user_id, email, encrypted_cred, sync_enabled, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`
	var a model.Account
	err := r.db.QueryRow(ctx, query, id).Scan(
		&a.ID,
		&a.UserID,
		&a.Email,
		&a.EncryptedCred,
		&a.SyncEnabled,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("account not found: %s", id)
		}
		return nil, err
	}
	return &a, nil
}

// ListSyncEnabled 列出所有启用同步的账户
func (r *AccountRepository) ListSyncEnabled(ctx context.Context) ([]*model.Account, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "accounts", time.Since(start)) }()

	query := `
		SELECT id, user_id, email, encrypted_cred, sync_enabled, created_at, updated_at
		FROM accounts
		WHERE sync_enabled = TRUE AND encrypted_cred IS NOT NULL
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.Email,
			&a.EncryptedCred,
			&a.SyncEnabled,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// ListStale lists sync-enabled accounts whose newest mailbox check is
// older than the given window. Accounts with no sync state at all are
// included: they have never been checked.
func (r *AccountRepository) ListStale(ctx context.Context, olderThan time.Duration) ([]*model.Account, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "accounts", time.Since(start)) }()

	query := `
		SELECT a.id, a.user_id, a.email, a.encrypted_cred, a.sync_enabled, a.created_at, a.updated_at
		FROM accounts a
		LEFT JOIN mailboxes m ON m.account_id = a.id
		LEFT JOIN sync_state s ON s.mailbox_id = m.id
		WHERE a.sync_enabled = TRUE AND a.encrypted_cred IS NOT NULL
		GROUP BY a.id
		HAVING COALESCE(MAX(s.last_checked_at), 'epoch'::timestamptz) < NOW() - $1::interval
	`
	rows, err := r.db.Query(ctx, query, olderThan.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.Email,
			&a.EncryptedCred,
			&a.SyncEnabled,
			&a.CreatedAt,
			&a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

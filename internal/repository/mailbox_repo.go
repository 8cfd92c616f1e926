package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailpipe/internal/model"
	"mailpipe/pkg/metrics"
)

type MailboxRepository struct {
	db *pgxpool.Pool
}

func NewMailboxRepository(db *pgxpool.Pool) *MailboxRepository {
	return &MailboxRepository{db: db}
}

// Upsert ensures a mailbox row exists for (accountID, path) and returns
// it. The DO UPDATE no-op makes RETURNING work on the conflict path.
func (r *MailboxRepository) Upsert(ctx context.Context, accountID, path string) (*model.Mailbox, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("upsert", "mailboxes", time.Since(start)) }()

	query := `
		INSERT INTO mailboxes (account_id, path)
		VALUES ($1, $2)
		ON CONFLICT (account_id, path) DO UPDATE SET path = EXCLUDED.path
		RETURNING id, account_id, path, created_at
	`
	var m model.Mailbox
	err := r.db.QueryRow(ctx, query, accountID, path).Scan(&m.ID, &m.AccountID, &m.Path, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListByAccount 列出账户下的所有文件夹
func (r *MailboxRepository) ListByAccount(ctx context.Context, accountID string) ([]*model.Mailbox, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "mailboxes", time.Since(start)) }()

	query := `
		SELECT id, account_id, path, created_at
		FROM mailboxes
		WHERE account_id = $1
		ORDER BY path ASC
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mailboxes []*model.Mailbox
	for rows.Next() {
		var m model.Mailbox
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Path, &m.CreatedAt); err != nil {
			return nil, err
		}
		mailboxes = append(mailboxes, &m)
	}
	return mailboxes, rows.Err()
}

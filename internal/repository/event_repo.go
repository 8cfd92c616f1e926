package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailpipe/internal/model"
	"mailpipe/pkg/metrics"
)

type EventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// InsertTx 写入一条日历事件
func (r *EventRepository) InsertTx(ctx context.Context, tx pgx.Tx, e *model.CalendarEvent) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("insert", "calendar_events", time.Since(start)) }()

	query := `
		INSERT INTO calendar_events (message_id, summary, location, starts_at, ends_at, attendees, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query, e.MessageID, e.Summary, e.Location, e.StartsAt, e.EndsAt, e.Attendees, e.Source)
	return err
}

// DeleteBySourceTx removes a message's events from one source. Used when
// re-summarization replaces previously extracted LLM events.
func (r *EventRepository) DeleteBySourceTx(ctx context.Context, tx pgx.Tx, messageID, source string) error {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("delete", "calendar_events", time.Since(start)) }()

	_, err := tx.Exec(ctx, `
		DELETE FROM calendar_events WHERE message_id = $1 AND source = $2
	`, messageID, source)
	return err
}

// ListByMessage 列出一封邮件的所有事件
func (r *EventRepository) ListByMessage(ctx context.Context, messageID string) ([]*model.CalendarEvent, error) {
	start := time.Now()
	defer func() { metrics.RecordDBQueryDuration("select", "calendar_events", time.Since(start)) }()

	rows, err := r.db.Query(ctx, `
		SELECT id, message_id, summary, location, starts_at, ends_at, attendees, source
		FROM calendar_events
		WHERE message_id = $1
		ORDER BY starts_at ASC NULLS LAST
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.CalendarEvent
	for rows.Next() {
		var e model.CalendarEvent
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Summary, &e.Location, &e.StartsAt, &e.EndsAt, &e.Attendees, &e.Source); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

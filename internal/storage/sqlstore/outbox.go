package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fjod/go_store/internal/events"
	"github.com/fjod/go_store/internal/storage"
)

const defaultFetchLimit = 100

type eventWriter struct{ t *tx }

func (w eventWriter) Append(ctx context.Context, e events.Event) error {
	query := `INSERT INTO outbox (event_id, event_type, aggregate_id, payload, occurred_at, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := w.t.tx.ExecContext(ctx, query,
		e.ID,
		e.Type,
		e.AggregateID,
		string(e.Payload),
		e.OccurredAt.UTC(),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

type outboxReader struct {
	db *sql.DB
}

// FetchPending returns unsent events in insertion order.
func (r outboxReader) FetchPending(ctx context.Context, limit int) ([]storage.OutboxRecord, error) {
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	query := `SELECT id, event_id, event_type, aggregate_id, payload, occurred_at, created_at
	          FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending events: %w", err)
	}
	defer rows.Close()

	var records []storage.OutboxRecord
	for rows.Next() {
		var (
			rec     storage.OutboxRecord
			payload []byte
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Event.ID,
			&rec.Event.Type,
			&rec.Event.AggregateID,
			&payload,
			&rec.Event.OccurredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.Event.Payload = payload
		rec.Event.OccurredAt = rec.Event.OccurredAt.UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

func (r outboxReader) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox SET sent_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event %d as sent: %w", id, err)
	}
	return nil
}

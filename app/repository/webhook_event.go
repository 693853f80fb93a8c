package repository

import (
	"context"
	"database/sql"
	"time"
)

// WebhookEventRepository is the idempotency store. Rows are written only
// after the fulfillment transaction commits (claim-after-commit) and removed
// only by the TTL prune job.
type WebhookEventRepository struct {
	db DBTX
}

func NewWebhookEventRepository(db DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

func (r *WebhookEventRepository) IsProcessed(ctx context.Context, eventID string, now time.Time) (bool, error) {
	query := `SELECT 1 FROM webhook_events WHERE event_id = ? AND expires_at > ?`

	var one int32
	err := r.db.QueryRowContext(ctx, query, eventID, now).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *WebhookEventRepository) MarkProcessed(ctx context.Context, eventID string, processedAt time.Time, ttl time.Duration) error {
	query := `INSERT INTO webhook_events (event_id, processed_at, expires_at) VALUES (?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query, eventID, processedAt, processedAt.Add(ttl))
	if err != nil {
		// A concurrent duplicate already marked this event; the effect is
		// identical either way.
		if isDuplicateEntryError(err) {
			return nil
		}
		return err
	}
	return nil
}

func (r *WebhookEventRepository) DeleteExpired(ctx context.Context, now time.Time, limit int32) (int64, error) {
	query := `DELETE FROM webhook_events WHERE expires_at <= ? LIMIT ?`

	result, err := r.db.ExecContext(ctx, query, now, limit)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

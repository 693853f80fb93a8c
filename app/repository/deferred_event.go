package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-fulfillment/app/entity"
)

var (
	ErrDeferredEventExists   = errors.New("deferred event already exists")
	ErrDeferredEventNotFound = errors.New("deferred event not found")
)

type DeferredEventRepository struct {
	db DBTX
}

func NewDeferredEventRepository(db DBTX) *DeferredEventRepository {
	return &DeferredEventRepository{db: db}
}

func (r *DeferredEventRepository) Create(ctx context.Context, event *entity.DeferredEvent) error {
	query := `
		INSERT INTO deferred_events (
			event_id, order_id, event_json, status, attempts, next_attempt_at, last_error, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		event.EventID,
		nullableUint64Value(event.OrderID),
		event.EventJSON,
		event.Status,
		event.Attempts,
		nullableTimeValue(event.NextAttemptAt),
		nullableStringValue(event.LastError),
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrDeferredEventExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}

func (r *DeferredEventRepository) Update(ctx context.Context, event *entity.DeferredEvent) error {
	query := `
		UPDATE deferred_events SET
			order_id = ?,
			status = ?,
			attempts = ?,
			next_attempt_at = ?,
			last_error = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableUint64Value(event.OrderID),
		event.Status,
		event.Attempts,
		nullableTimeValue(event.NextAttemptAt),
		nullableStringValue(event.LastError),
		event.UpdatedAt,
		event.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDeferredEventNotFound
	}

	return nil
}

func (r *DeferredEventRepository) ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.DeferredEvent, error) {
	query := `
		SELECT id, event_id, order_id, event_json, status, attempts, next_attempt_at, last_error, created_at, updated_at
		FROM deferred_events
		WHERE status = ?
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.DeferredEventStatusPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]*entity.DeferredEvent, 0)
	for rows.Next() {
		item, err := scanDeferredEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func scanDeferredEvent(rows *sql.Rows) (*entity.DeferredEvent, error) {
	item := &entity.DeferredEvent{}

	var orderID sql.NullInt64
	var nextAttemptAt sql.NullTime
	var lastError sql.NullString

	err := rows.Scan(
		&item.ID,
		&item.EventID,
		&orderID,
		&item.EventJSON,
		&item.Status,
		&item.Attempts,
		&nextAttemptAt,
		&lastError,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.OrderID = uint64PtrFromNull(orderID)
	item.NextAttemptAt = timePtrFromNull(nextAttemptAt)
	item.LastError = stringPtrFromNull(lastError)

	return item, nil
}

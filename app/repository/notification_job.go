package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-fulfillment/app/entity"
)

var ErrNotificationJobNotFound = errors.New("notification job not found")

type NotificationJobRepository struct {
	db DBTX
}

func NewNotificationJobRepository(db DBTX) *NotificationJobRepository {
	return &NotificationJobRepository{db: db}
}

func (r *NotificationJobRepository) Create(ctx context.Context, job *entity.NotificationJob) error {
	query := `
		INSERT INTO notification_jobs (
			order_id, kind, status, attempts, next_attempt_at, last_error, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		job.OrderID,
		job.Kind,
		job.Status,
		job.Attempts,
		nullableTimeValue(job.NextAttemptAt),
		nullableStringValue(job.LastError),
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	job.ID = uint64(id)

	return nil
}

func (r *NotificationJobRepository) Update(ctx context.Context, job *entity.NotificationJob) error {
	query := `
		UPDATE notification_jobs SET
			status = ?,
			attempts = ?,
			next_attempt_at = ?,
			last_error = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		job.Status,
		job.Attempts,
		nullableTimeValue(job.NextAttemptAt),
		nullableStringValue(job.LastError),
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotificationJobNotFound
	}

	return nil
}

func (r *NotificationJobRepository) ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.NotificationJob, error) {
	query := `
		SELECT id, order_id, kind, status, attempts, next_attempt_at, last_error, created_at, updated_at
		FROM notification_jobs
		WHERE status = ?
		  AND next_attempt_at IS NOT NULL
		  AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.NotificationJobStatusQueued, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*entity.NotificationJob, 0)
	for rows.Next() {
		item, err := scanNotificationJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

func scanNotificationJob(rows *sql.Rows) (*entity.NotificationJob, error) {
	item := &entity.NotificationJob{}

	var nextAttemptAt sql.NullTime
	var lastError sql.NullString

	err := rows.Scan(
		&item.ID,
		&item.OrderID,
		&item.Kind,
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

	item.NextAttemptAt = timePtrFromNull(nextAttemptAt)
	item.LastError = stringPtrFromNull(lastError)

	return item, nil
}

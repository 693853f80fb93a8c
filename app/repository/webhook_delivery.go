package repository

import (
	"context"
	"time"

	"github.com/vibast-solutions/ms-go-fulfillment/app/entity"
)

type WebhookDeliveryRepository struct {
	db DBTX
}

func NewWebhookDeliveryRepository(db DBTX) *WebhookDeliveryRepository {
	return &WebhookDeliveryRepository{db: db}
}

func (r *WebhookDeliveryRepository) Create(ctx context.Context, delivery *entity.WebhookDelivery) error {
	query := `
		INSERT INTO webhook_deliveries (
			event_id, event_type, signature, payload_json, status, error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(delivery.EventID),
		delivery.EventType,
		delivery.Signature,
		delivery.PayloadJSON,
		delivery.Status,
		nullableStringValue(delivery.Error),
		delivery.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	delivery.ID = uint64(id)

	return nil
}

func (r *WebhookDeliveryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int32) (int64, error) {
	query := `DELETE FROM webhook_deliveries WHERE created_at <= ? LIMIT ?`

	result, err := r.db.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-fulfillment/app/entity"
)

// FulfillmentRepository owns the transactional order transitions. Every
// transition guards on the order's current status inside the UPDATE, so a
// concurrent duplicate observes zero affected rows and the whole transaction
// becomes a no-op (applied=false) instead of a double application.
type FulfillmentRepository struct {
	db *sql.DB
}

func NewFulfillmentRepository(db *sql.DB) *FulfillmentRepository {
	return &FulfillmentRepository{db: db}
}

// CompleteOrder transitions pending|processing -> completed, creates one
// access grant per order item, and clears the user's cart, atomically.
// Returns applied=false when the status guard matched no row.
func (r *FulfillmentRepository) CompleteOrder(ctx context.Context, order *entity.Order, paymentReference string, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, payment_reference = COALESCE(NULLIF(?, ''), payment_reference), updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`,
		entity.OrderStatusCompleted,
		paymentReference,
		now,
		order.ID,
		entity.OrderStatusPending,
		entity.OrderStatusProcessing,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	for _, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO access_grants (order_id, user_id, product_ref, product_type, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			order.ID,
			order.UserID,
			item.ProductRef,
			item.ProductType,
			entity.AccessGrantStatusActive,
			now,
		)
		if err != nil {
			// The (user_id, product_ref) uniqueness constraint catches a
			// grant that slipped past the idempotency guard.
			if isDuplicateEntryError(err) {
				continue
			}
			return false, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, order.UserID); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return true, nil
}

// FailOrder transitions pending|processing -> failed. The cart is preserved
// so the user can retry checkout.
func (r *FulfillmentRepository) FailOrder(ctx context.Context, orderID uint64, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`,
		entity.OrderStatusFailed,
		now,
		orderID,
		entity.OrderStatusPending,
		entity.OrderStatusProcessing,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// RefundOrder transitions completed -> refunded and revokes the order's
// access grants. Order and item rows are kept for financial audit.
func (r *FulfillmentRepository) RefundOrder(ctx context.Context, orderID uint64, now time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`,
		entity.OrderStatusRefunded,
		now,
		orderID,
		entity.OrderStatusCompleted,
	)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE access_grants
		SET status = ?, revoked_at = ?
		WHERE order_id = ? AND status = ?
	`,
		entity.AccessGrantStatusRevoked,
		now,
		orderID,
		entity.AccessGrantStatusActive,
	)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}

	return true, nil
}

package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/vibast-solutions/ms-go-fulfillment/app/entity"
)

type OrderFilter struct {
	UserID    string
	Reference string
	HasStatus bool
	Status    int32
	Limit     int32
	Offset    int32
}

type OrderRepository struct {
	db DBTX
}

func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, reference, user_id, total_cents, currency, status, payment_reference, created_at, updated_at`

func (r *OrderRepository) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, id), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) FindByReference(ctx context.Context, reference string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE reference = ? LIMIT 1`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, reference), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) FindByPaymentReference(ctx context.Context, paymentReference string) (*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE payment_reference = ? LIMIT 1`

	order := &entity.Order{}
	if err := scanOrder(r.db.QueryRowContext(ctx, query, paymentReference), order); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`

	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if strings.TrimSpace(filter.UserID) != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if strings.TrimSpace(filter.Reference) != "" {
		conditions = append(conditions, "reference = ?")
		args = append(args, filter.Reference)
	}
	if filter.HasStatus {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]*entity.Order, 0)
	for rows.Next() {
		item := &entity.Order{}
		if err := scanOrder(rows, item); err != nil {
			return nil, err
		}
		orders = append(orders, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, order *entity.Order) error {
	query := `
		SELECT id, order_id, product_ref, product_type, price_cents
		FROM order_items
		WHERE order_id = ?
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	items := make([]*entity.OrderItem, 0)
	for rows.Next() {
		item := &entity.OrderItem{}
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductRef, &item.ProductType, &item.PriceCents); err != nil {
			return err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	order.Items = items
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(scan rowScanner, order *entity.Order) error {
	var paymentReference sql.NullString

	err := scan.Scan(
		&order.ID,
		&order.Reference,
		&order.UserID,
		&order.TotalCents,
		&order.Currency,
		&order.Status,
		&paymentReference,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return err
	}

	order.PaymentReference = stringPtrFromNull(paymentReference)
	return nil
}

package entity

import "time"

const (
	OrderStatusPending    int32 = 1
	OrderStatusProcessing int32 = 2
	OrderStatusCompleted  int32 = 10
	OrderStatusFailed     int32 = 20
	OrderStatusRefunded   int32 = 30
)

type Order struct {
	ID uint64

	Reference string
	UserID    string

	TotalCents int64
	Currency   string

	Status           int32
	PaymentReference *string

	Items []*OrderItem

	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem rows are never updated after the order completes.
type OrderItem struct {
	ID      uint64
	OrderID uint64

	ProductRef  string
	ProductType string
	PriceCents  int64
}

package entity

import "time"

type CartItem struct {
	ID uint64

	UserID string

	ProductRef  string
	ProductType string
	PriceCents  int64

	CreatedAt time.Time
}

package entity

import "time"

const (
	AccessGrantStatusActive  int32 = 1
	AccessGrantStatusRevoked int32 = 20
)

// AccessGrant is unique per (user_id, product_ref); the database constraint
// backs up the idempotency guard against double-granting.
type AccessGrant struct {
	ID uint64

	OrderID uint64
	UserID  string

	ProductRef  string
	ProductType string

	Status int32

	CreatedAt time.Time
	RevokedAt *time.Time
}

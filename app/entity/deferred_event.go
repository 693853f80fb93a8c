package entity

import "time"

const (
	DeferredEventStatusPending  int32 = 1
	DeferredEventStatusResolved int32 = 10
	DeferredEventStatusDead     int32 = 20
)

// DeferredEvent holds a gateway event whose implied transition did not match
// the order's status at delivery time (out-of-order delivery). It is retried
// a bounded number of times before being dead-lettered.
type DeferredEvent struct {
	ID uint64

	EventID string
	OrderID *uint64

	EventJSON string

	Status   int32
	Attempts int32

	NextAttemptAt *time.Time
	LastError     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

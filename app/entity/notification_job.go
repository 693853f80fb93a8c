package entity

import "time"

const (
	NotificationKindConfirmation  int32 = 1
	NotificationKindFailure       int32 = 2
	NotificationKindRefund        int32 = 3
	NotificationKindOperatorAlert int32 = 4
)

const (
	NotificationJobStatusQueued int32 = 1
	NotificationJobStatusSent   int32 = 10
	NotificationJobStatusDead   int32 = 20
)

// NotificationJob is created after the fulfillment transaction commits and is
// delivered out-of-band; its failures never reverse an order transition.
type NotificationJob struct {
	ID uint64

	OrderID uint64
	Kind    int32

	Status   int32
	Attempts int32

	NextAttemptAt *time.Time
	LastError     *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

package entity

import "time"

const (
	WebhookDeliveryStatusProcessed int32 = 10
	WebhookDeliveryStatusIgnored   int32 = 11
	WebhookDeliveryStatusDuplicate int32 = 12
	WebhookDeliveryStatusDeferred  int32 = 13
	WebhookDeliveryStatusRejected  int32 = 20
)

// WebhookEvent is the idempotency record for a gateway event. A row exists
// iff the event has been applied to an order; rows are removed only by the
// TTL prune job, never by request handling.
type WebhookEvent struct {
	EventID string

	ProcessedAt time.Time
	ExpiresAt   time.Time
}

// WebhookDelivery is the audit row persisted for every inbound delivery,
// including rejected and ignored ones.
type WebhookDelivery struct {
	ID uint64

	EventID   *string
	EventType string

	Signature   string
	PayloadJSON string

	Status int32
	Error  *string

	CreatedAt time.Time
}

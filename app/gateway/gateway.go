package gateway

import (
	"context"
	"errors"
	"time"
)

const (
	KindIgnored   int32 = 0
	KindCompleted int32 = 1
	KindFailed    int32 = 2
	KindRefunded  int32 = 3
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Event is a verified, parsed gateway notification.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Kind int32  `json:"kind"`

	// OrderReference carries the gateway's client_reference_id and maps to
	// orders.reference. PaymentReference carries the payment intent and maps
	// to orders.payment_reference for events that lack a client reference.
	OrderReference   string `json:"order_reference"`
	PaymentReference string `json:"payment_reference"`

	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type Gateway interface {
	Code() int32
	VerifyAndParseEvent(ctx context.Context, payload []byte, signature string) (*Event, error)
}

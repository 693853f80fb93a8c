package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

func signPayload(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", ts, string(payload))))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func testStripeGateway(secret, secondary string) *StripeGateway {
	return NewStripeGateway(StripeConfig{
		WebhookSecret:             secret,
		SecondaryWebhookSecret:    secondary,
		SignatureToleranceSeconds: 300,
	})
}

func TestVerifyAndParseEventCompletedCheckout(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": 1700000000,
		"data": {"object": {
			"id": "cs_1",
			"client_reference_id": "ord-1",
			"payment_intent": "pi_123",
			"amount_total": 2500
		}}
	}`)
	g := testStripeGateway("whsec_test", "")
	ts := time.Now().Unix()

	event, err := g.VerifyAndParseEvent(context.Background(), payload, signPayload(payload, "whsec_test", ts))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if event.ID != "evt_1" {
		t.Fatalf("unexpected event id: %s", event.ID)
	}
	if event.Kind != KindCompleted {
		t.Fatalf("expected completed kind, got %d", event.Kind)
	}
	if event.OrderReference != "ord-1" {
		t.Fatalf("unexpected order reference: %s", event.OrderReference)
	}
	if event.PaymentReference != "pi_123" {
		t.Fatalf("unexpected payment reference: %s", event.PaymentReference)
	}
	if event.AmountCents != 2500 {
		t.Fatalf("unexpected amount: %d", event.AmountCents)
	}
}

func TestVerifyAndParseEventRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	g := testStripeGateway("whsec_test", "")

	_, err := g.VerifyAndParseEvent(context.Background(), payload, signPayload(payload, "whsec_other", time.Now().Unix()))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyAndParseEventAcceptsSecondarySecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	g := testStripeGateway("whsec_new", "whsec_old")

	if _, err := g.VerifyAndParseEvent(context.Background(), payload, signPayload(payload, "whsec_old", time.Now().Unix())); err != nil {
		t.Fatalf("expected secondary secret to validate, got %v", err)
	}
}

func TestVerifyAndParseEventRejectsStaleTimestamp(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	g := testStripeGateway("whsec_test", "")
	ts := time.Now().Add(-10 * time.Minute).Unix()

	_, err := g.VerifyAndParseEvent(context.Background(), payload, signPayload(payload, "whsec_test", ts))
	if !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestVerifyAndParseEventRejectsMalformedHeader(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)
	g := testStripeGateway("whsec_test", "")

	for _, header := range []string{"", "t=abc,v1=dead", "v1=dead", "t=123"} {
		if _, err := g.VerifyAndParseEvent(context.Background(), payload, header); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("header %q: expected ErrInvalidSignature, got %v", header, err)
		}
	}
}

func TestVerifyAndParseEventRejectsMissingEventID(t *testing.T) {
	payload := []byte(`{"type":"checkout.session.completed"}`)
	g := testStripeGateway("whsec_test", "")

	_, err := g.VerifyAndParseEvent(context.Background(), payload, signPayload(payload, "whsec_test", time.Now().Unix()))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestVerifyAndParseEventExpandedPaymentIntentObject(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"type": "charge.refunded",
		"data": {"object": {"payment_intent": {"id": "pi_999"}, "amount_refunded": 500}}
	}`)
	g := testStripeGateway("whsec_test", "")

	event, err := g.VerifyAndParseEvent(context.Background(), payload, signPayload(payload, "whsec_test", time.Now().Unix()))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if event.Kind != KindRefunded {
		t.Fatalf("expected refunded kind, got %d", event.Kind)
	}
	if event.PaymentReference != "pi_999" {
		t.Fatalf("unexpected payment reference: %s", event.PaymentReference)
	}
	if event.AmountCents != 500 {
		t.Fatalf("expected refunded amount fallback, got %d", event.AmountCents)
	}
}

func TestClassifyEventType(t *testing.T) {
	cases := map[string]int32{
		"checkout.session.completed":               KindCompleted,
		"checkout.session.async_payment_succeeded": KindCompleted,
		"checkout.session.async_payment_failed":    KindFailed,
		"checkout.session.expired":                 KindFailed,
		"charge.refunded":                          KindRefunded,
		"refund.created":                           KindRefunded,
		"payment_intent.created":                   KindIgnored,
		"":                                         KindIgnored,
	}
	for eventType, want := range cases {
		if got := classifyEventType(eventType); got != want {
			t.Fatalf("type %q: expected kind %d, got %d", eventType, want, got)
		}
	}
}

package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-fulfillment/app/validation"
)

const GatewayCodeStripe int32 = 1

type StripeConfig struct {
	// WebhookSecret and SecondaryWebhookSecret are both active during secret
	// rotation; a digest matching either one is accepted.
	WebhookSecret             string
	SecondaryWebhookSecret    string
	SignatureToleranceSeconds int64
}

type StripeGateway struct {
	cfg     StripeConfig
	nowFunc func() time.Time
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	if cfg.SignatureToleranceSeconds <= 0 {
		cfg.SignatureToleranceSeconds = 300
	}
	return &StripeGateway{
		cfg:     cfg,
		nowFunc: time.Now,
	}
}

func (g *StripeGateway) Code() int32 {
	return GatewayCodeStripe
}

// VerifyAndParseEvent validates the signature header (`t=<ts>,v1=<hex>...`),
// rejects stale timestamps, and parses the payload into an Event. Validation
// runs before any state is touched; this method is pure.
func (g *StripeGateway) VerifyAndParseEvent(_ context.Context, payload []byte, signature string) (*Event, error) {
	if strings.TrimSpace(g.cfg.WebhookSecret) == "" {
		return nil, errors.New("gateway webhook secret is not configured")
	}

	ts, digests, err := parseSignatureHeader(signature)
	if err != nil {
		return nil, err
	}

	if !matchesAnySecret(payload, ts, digests, g.activeSecrets()) {
		return nil, ErrInvalidSignature
	}

	now := g.nowFunc().Unix()
	tolerance := g.cfg.SignatureToleranceSeconds
	if now-ts > tolerance || ts-now > tolerance {
		return nil, ErrStaleTimestamp
	}

	var envelope struct {
		ID      string `json:"id" validate:"required"`
		Type    string `json:"type" validate:"required"`
		Created int64  `json:"created"`
		Data    struct {
			Object struct {
				ID                string      `json:"id"`
				ClientReferenceID string      `json:"client_reference_id"`
				PaymentIntent     interface{} `json:"payment_intent"`
				AmountTotal       int64       `json:"amount_total"`
				AmountRefunded    int64       `json:"amount_refunded"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validation.Struct(&envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	occurredAt := time.Unix(ts, 0).UTC()
	if envelope.Created > 0 {
		occurredAt = time.Unix(envelope.Created, 0).UTC()
	}

	event := &Event{
		ID:               strings.TrimSpace(envelope.ID),
		Type:             strings.TrimSpace(envelope.Type),
		Kind:             classifyEventType(envelope.Type),
		OrderReference:   strings.TrimSpace(envelope.Data.Object.ClientReferenceID),
		PaymentReference: parseStringish(envelope.Data.Object.PaymentIntent),
		AmountCents:      envelope.Data.Object.AmountTotal,
		OccurredAt:       occurredAt,
	}
	if event.AmountCents == 0 {
		event.AmountCents = envelope.Data.Object.AmountRefunded
	}

	return event, nil
}

func (g *StripeGateway) activeSecrets() []string {
	secrets := make([]string, 0, 2)
	if s := strings.TrimSpace(g.cfg.WebhookSecret); s != "" {
		secrets = append(secrets, s)
	}
	if s := strings.TrimSpace(g.cfg.SecondaryWebhookSecret); s != "" {
		secrets = append(secrets, s)
	}
	return secrets
}

func parseSignatureHeader(signature string) (int64, []string, error) {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return 0, nil, ErrInvalidSignature
	}

	var ts string
	digests := make([]string, 0, 1)
	for _, part := range strings.Split(signature, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "t="))
		}
		if strings.HasPrefix(part, "v1=") {
			digests = append(digests, strings.TrimSpace(strings.TrimPrefix(part, "v1=")))
		}
	}
	if ts == "" || len(digests) == 0 {
		return 0, nil, ErrInvalidSignature
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, nil, ErrInvalidSignature
	}

	return tsUnix, digests, nil
}

func matchesAnySecret(payload []byte, ts int64, digests []string, secrets []string) bool {
	signedPayload := []byte(strconv.FormatInt(ts, 10) + "." + string(payload))

	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		_, _ = mac.Write(signedPayload)
		expected := mac.Sum(nil)

		for _, sig := range digests {
			candidate, err := hex.DecodeString(sig)
			if err != nil {
				continue
			}
			if hmac.Equal(candidate, expected) {
				return true
			}
		}
	}

	return false
}

// classifyEventType maps gateway event types onto handler kinds. Recognized
// but unhandled types and unknown types both classify as ignored so the
// gateway never retries events this service intentionally skips.
func classifyEventType(eventType string) int32 {
	switch strings.TrimSpace(eventType) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return KindCompleted
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		return KindFailed
	case "charge.refunded", "refund.created":
		return KindRefunded
	default:
		return KindIgnored
	}
}

func parseStringish(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]interface{}:
		if raw, ok := t["id"]; ok {
			if s, ok := raw.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-fulfillment/app/entity"
	"github.com/vibast-solutions/ms-go-fulfillment/app/gateway"
	"github.com/vibast-solutions/ms-go-fulfillment/app/metrics"
	"github.com/vibast-solutions/ms-go-fulfillment/app/repository"
)

const (
	WebhookOutcomeProcessed = "processed"
	WebhookOutcomeNoop      = "noop"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeIgnored   = "ignored"
	WebhookOutcomeDeferred  = "deferred"

	// outcomeConflict never leaves the service: the webhook path converts it
	// into a deferral, the reprocessing job into a retry or dead-letter.
	outcomeConflict = "conflict"
)

type handleWebhookRequest interface {
	GetRequestId() string
	GetSourceIp() string
	GetSignature() string
	GetPayload() string
}

type WebhookResult struct {
	Outcome string
	EventID string
	OrderID uint64

	notifications []int32
}

// HandlePaymentWebhook runs the full ingestion pipeline for one delivery:
// admission control, signature and freshness verification, idempotency
// check, the transactional order transition, and post-commit side effects.
// Everything after the transaction commit is advisory and never turns a
// committed transition into a webhook failure.
func (s *FulfillmentService) HandlePaymentWebhook(ctx context.Context, req handleWebhookRequest) (*WebhookResult, error) {
	if !s.limiter.Allow(strings.TrimSpace(req.GetSourceIp())) {
		metrics.WebhookEventsTotal.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	now := s.nowFunc().UTC()
	payload := []byte(req.GetPayload())
	signature := strings.TrimSpace(req.GetSignature())

	gw, err := s.gatewayReg.Get(gateway.GatewayCodeStripe)
	if err != nil {
		return nil, err
	}

	event, err := gw.VerifyAndParseEvent(ctx, payload, signature)
	if err != nil {
		s.persistRejectedDelivery(ctx, req, fmt.Sprintf("webhook validation failed: %v", err), now)
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrWebhookRejected, err)
	}

	if event.Kind == gateway.KindIgnored {
		s.persistDelivery(ctx, event, signature, string(payload), entity.WebhookDeliveryStatusIgnored, nil, now)
		metrics.WebhookEventsTotal.WithLabelValues(WebhookOutcomeIgnored).Inc()
		return &WebhookResult{Outcome: WebhookOutcomeIgnored, EventID: event.ID}, nil
	}

	processed, err := s.eventRepo.IsProcessed(ctx, event.ID, now)
	if err != nil {
		// Fail open: refusing a valid payment event is worse than a rare
		// duplicate, and the order status guard catches duplicates anyway.
		s.logger.WithError(err).WithFields(logrus.Fields{
			"alert":    true,
			"event_id": event.ID,
		}).Error("Idempotency store unavailable, failing open")
	} else if processed {
		s.persistDelivery(ctx, event, signature, string(payload), entity.WebhookDeliveryStatusDuplicate, nil, now)
		metrics.WebhookEventsTotal.WithLabelValues(WebhookOutcomeDuplicate).Inc()
		return &WebhookResult{Outcome: WebhookOutcomeDuplicate, EventID: event.ID}, nil
	}

	result, err := s.applyEvent(ctx, event, now)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrWebhookRejected) {
			errMsg := truncate(err.Error(), 1024)
			s.persistDelivery(ctx, event, signature, string(payload), entity.WebhookDeliveryStatusRejected, &errMsg, now)
		}
		metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if result.Outcome == outcomeConflict {
		if err := s.deferEvent(ctx, event, result.OrderID, now); err != nil {
			metrics.WebhookEventsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		s.persistDelivery(ctx, event, signature, string(payload), entity.WebhookDeliveryStatusDeferred, nil, now)
		metrics.WebhookEventsTotal.WithLabelValues(WebhookOutcomeDeferred).Inc()
		return &WebhookResult{Outcome: WebhookOutcomeDeferred, EventID: event.ID, OrderID: result.OrderID}, nil
	}

	s.finalizeEvent(ctx, event, result, now)
	s.persistDelivery(ctx, event, signature, string(payload), entity.WebhookDeliveryStatusProcessed, nil, now)
	metrics.WebhookEventsTotal.WithLabelValues(result.Outcome).Inc()

	return result, nil
}

// applyEvent resolves the order and applies the event's transition through
// the transactional repository. It reports conflicts instead of persisting
// deferrals so both the webhook path and the reprocessing job can reuse it.
func (s *FulfillmentService) applyEvent(ctx context.Context, event *gateway.Event, now time.Time) (*WebhookResult, error) {
	order, err := s.resolveOrder(ctx, event)
	if err != nil {
		return nil, err
	}

	result := &WebhookResult{EventID: event.ID, OrderID: order.ID}

	switch event.Kind {
	case gateway.KindCompleted:
		switch order.Status {
		case entity.OrderStatusCompleted:
			result.Outcome = WebhookOutcomeNoop
		case entity.OrderStatusPending, entity.OrderStatusProcessing:
			applied, err := s.fulfillmentRepo.CompleteOrder(ctx, order, event.PaymentReference, now)
			if err != nil {
				return nil, err
			}
			if applied {
				result.Outcome = WebhookOutcomeProcessed
				result.notifications = []int32{entity.NotificationKindConfirmation}
			} else {
				result.Outcome = WebhookOutcomeNoop
			}
		default:
			result.Outcome = outcomeConflict
		}

	case gateway.KindFailed:
		switch order.Status {
		case entity.OrderStatusFailed:
			result.Outcome = WebhookOutcomeNoop
		case entity.OrderStatusPending, entity.OrderStatusProcessing:
			applied, err := s.fulfillmentRepo.FailOrder(ctx, order.ID, now)
			if err != nil {
				return nil, err
			}
			if applied {
				result.Outcome = WebhookOutcomeProcessed
				result.notifications = []int32{entity.NotificationKindFailure, entity.NotificationKindOperatorAlert}
			} else {
				result.Outcome = WebhookOutcomeNoop
			}
		default:
			result.Outcome = outcomeConflict
		}

	case gateway.KindRefunded:
		switch order.Status {
		case entity.OrderStatusRefunded:
			result.Outcome = WebhookOutcomeNoop
		case entity.OrderStatusCompleted:
			applied, err := s.fulfillmentRepo.RefundOrder(ctx, order.ID, now)
			if err != nil {
				return nil, err
			}
			if applied {
				result.Outcome = WebhookOutcomeProcessed
				result.notifications = []int32{entity.NotificationKindRefund}
			} else {
				result.Outcome = WebhookOutcomeNoop
			}
		default:
			result.Outcome = outcomeConflict
		}

	default:
		result.Outcome = WebhookOutcomeIgnored
	}

	return result, nil
}

func (s *FulfillmentService) resolveOrder(ctx context.Context, event *gateway.Event) (*entity.Order, error) {
	if ref := strings.TrimSpace(event.OrderReference); ref != "" {
		order, err := s.orderRepo.FindByReference(ctx, ref)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, ErrOrderNotFound
		}
		return order, nil
	}

	if paymentRef := strings.TrimSpace(event.PaymentReference); paymentRef != "" {
		order, err := s.orderRepo.FindByPaymentReference(ctx, paymentRef)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, ErrOrderNotFound
		}
		return order, nil
	}

	return nil, fmt.Errorf("%w: event carries no order correlation", ErrWebhookRejected)
}

func (s *FulfillmentService) deferEvent(ctx context.Context, event *gateway.Event, orderID uint64, now time.Time) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}

	next := now.Add(s.deferredRetryInterval())
	deferred := &entity.DeferredEvent{
		EventID:       event.ID,
		EventJSON:     string(encoded),
		Status:        entity.DeferredEventStatusPending,
		NextAttemptAt: &next,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if orderID > 0 {
		id := orderID
		deferred.OrderID = &id
	}

	if err := s.deferredRepo.Create(ctx, deferred); err != nil {
		// Retried delivery of an event that is already waiting.
		if errors.Is(err, repository.ErrDeferredEventExists) {
			return nil
		}
		return err
	}

	return nil
}

// finalizeEvent runs after the fulfillment transaction has committed:
// claim-after-commit idempotency mark plus notification enqueueing. Failures
// here are logged, never propagated.
func (s *FulfillmentService) finalizeEvent(ctx context.Context, event *gateway.Event, result *WebhookResult, now time.Time) {
	if err := s.eventRepo.MarkProcessed(ctx, event.ID, now, s.fulfillmentCfg.IdempotencyTTL); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"alert":    true,
			"event_id": event.ID,
		}).Error("Failed to mark webhook event as processed")
	}

	for _, kind := range result.notifications {
		s.enqueueNotification(ctx, result.OrderID, kind, now)
	}
}

func (s *FulfillmentService) enqueueNotification(ctx context.Context, orderID uint64, kind int32, now time.Time) {
	next := now
	job := &entity.NotificationJob{
		OrderID:       orderID,
		Kind:          kind,
		Status:        entity.NotificationJobStatusQueued,
		NextAttemptAt: &next,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.notificationRepo.Create(ctx, job); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id": orderID,
			"kind":     kind,
		}).Error("Failed to enqueue notification job")
	}
}

func (s *FulfillmentService) persistDelivery(
	ctx context.Context,
	event *gateway.Event,
	signature string,
	payload string,
	status int32,
	errMsg *string,
	now time.Time,
) {
	eventID := strings.TrimSpace(event.ID)
	var eventIDPtr *string
	if eventID != "" {
		eventIDPtr = &eventID
	}

	if err := s.deliveryRepo.Create(ctx, &entity.WebhookDelivery{
		EventID:     eventIDPtr,
		EventType:   event.Type,
		Signature:   signature,
		PayloadJSON: payload,
		Status:      status,
		Error:       errMsg,
		CreatedAt:   now,
	}); err != nil {
		s.logger.WithError(err).WithField("event_id", eventID).Warn("Failed to persist webhook delivery record")
	}
}

func (s *FulfillmentService) persistRejectedDelivery(ctx context.Context, req handleWebhookRequest, reason string, now time.Time) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "webhook rejected"
	}
	trimmedErr := truncate(reason, 1024)

	if err := s.deliveryRepo.Create(ctx, &entity.WebhookDelivery{
		Signature:   strings.TrimSpace(req.GetSignature()),
		PayloadJSON: req.GetPayload(),
		Status:      entity.WebhookDeliveryStatusRejected,
		Error:       &trimmedErr,
		CreatedAt:   now,
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to persist rejected webhook delivery record")
	}
}

func (s *FulfillmentService) deferredRetryInterval() time.Duration {
	if s.fulfillmentCfg.DeferredRetryInterval > 0 {
		return s.fulfillmentCfg.DeferredRetryInterval
	}
	return time.Minute
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-fulfillment/app/entity"
	"github.com/vibast-solutions/ms-go-fulfillment/app/gateway"
	"github.com/vibast-solutions/ms-go-fulfillment/app/metrics"
)

// RunDispatchNotificationsBatch delivers one batch of due notification jobs
// to the configured endpoint. Per-job failures are recorded on the job and do
// not stop the batch.
func (s *FulfillmentService) RunDispatchNotificationsBatch(ctx context.Context) error {
	now := s.nowFunc().UTC()

	jobs, err := s.notificationRepo.ListDue(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, job := range jobs {
		if job == nil {
			continue
		}
		if err := s.dispatchNotification(ctx, job, now); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"job_id":   job.ID,
				"order_id": job.OrderID,
			}).Warn("Notification dispatch attempt failed")
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *FulfillmentService) dispatchNotification(ctx context.Context, job *entity.NotificationJob, now time.Time) error {
	endpoint := strings.TrimSpace(s.fulfillmentCfg.NotificationEndpoint)
	if endpoint == "" {
		errMsg := "notification endpoint is not configured"
		job.Status = entity.NotificationJobStatusDead
		job.NextAttemptAt = nil
		job.LastError = &errMsg
		job.UpdatedAt = now
		metrics.NotificationDispatchesTotal.WithLabelValues("dead_lettered").Inc()
		return s.notificationRepo.Update(ctx, job)
	}

	body, err := json.Marshal(map[string]interface{}{
		"job_id":   job.ID,
		"order_id": job.OrderID,
		"kind":     notificationKindLabel(job.Kind),
		"attempts": job.Attempts,
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return s.recordDispatchFailure(ctx, job, now, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Stable per-job key so the receiver can deduplicate retried deliveries.
	httpReq.Header.Set("X-Notification-ID", strconv.FormatUint(job.ID, 10))

	resp, err := s.notifyHTTP.Do(httpReq)
	if err != nil {
		return s.recordDispatchFailure(ctx, job, now, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return s.recordDispatchFailure(ctx, job, now, fmt.Errorf("notification endpoint returned status=%d", resp.StatusCode))
	}

	job.Status = entity.NotificationJobStatusSent
	job.NextAttemptAt = nil
	job.LastError = nil
	job.UpdatedAt = now
	metrics.NotificationDispatchesTotal.WithLabelValues("sent").Inc()
	return s.notificationRepo.Update(ctx, job)
}

func (s *FulfillmentService) recordDispatchFailure(ctx context.Context, job *entity.NotificationJob, now time.Time, dispatchErr error) error {
	job.Attempts++
	trimmed := truncate(dispatchErr.Error(), 1024)
	job.LastError = &trimmed
	job.UpdatedAt = now

	maxAttempts := s.fulfillmentCfg.NotificationMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if job.Attempts >= maxAttempts {
		job.Status = entity.NotificationJobStatusDead
		job.NextAttemptAt = nil
		s.logger.WithError(dispatchErr).WithFields(logrus.Fields{
			"alert":    true,
			"job_id":   job.ID,
			"order_id": job.OrderID,
			"kind":     job.Kind,
		}).Error("Notification job dead-lettered")
		metrics.NotificationDispatchesTotal.WithLabelValues("dead_lettered").Inc()
	} else {
		next := now.Add(s.notificationBackoff(job.Attempts))
		job.NextAttemptAt = &next
		metrics.NotificationDispatchesTotal.WithLabelValues("retry").Inc()
	}

	if err := s.notificationRepo.Update(ctx, job); err != nil {
		return err
	}
	return dispatchErr
}

// notificationBackoff doubles the base interval per prior attempt, capped at
// the configured maximum.
func (s *FulfillmentService) notificationBackoff(attempts int32) time.Duration {
	base := s.fulfillmentCfg.NotificationRetryBase
	if base <= 0 {
		base = 30 * time.Second
	}
	maxBackoff := s.fulfillmentCfg.NotificationMaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Minute
	}

	backoff := base
	for i := int32(1); i < attempts; i++ {
		backoff *= 2
		if backoff >= maxBackoff {
			return maxBackoff
		}
	}
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// RunReprocessDeferredBatch retries one batch of deferred events whose next
// attempt is due. Events still conflicting after the attempt limit are
// dead-lettered with an operator alert.
func (s *FulfillmentService) RunReprocessDeferredBatch(ctx context.Context) error {
	now := s.nowFunc().UTC()

	items, err := s.deferredRepo.ListDue(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, item := range items {
		if item == nil {
			continue
		}
		if err := s.reprocessDeferredEvent(ctx, item, now); err != nil {
			s.logger.WithError(err).WithField("event_id", item.EventID).Warn("Deferred event reprocessing attempt failed")
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *FulfillmentService) reprocessDeferredEvent(ctx context.Context, item *entity.DeferredEvent, now time.Time) error {
	var event gateway.Event
	if err := json.Unmarshal([]byte(item.EventJSON), &event); err != nil {
		return s.deadLetterDeferred(ctx, item, now, fmt.Errorf("stored event is unreadable: %w", err))
	}

	result, err := s.applyEvent(ctx, &event, now)
	if err != nil {
		return s.recordDeferredFailure(ctx, item, now, err)
	}
	if result.Outcome == outcomeConflict {
		return s.recordDeferredFailure(ctx, item, now, errors.New("order status still conflicts with event"))
	}

	item.Status = entity.DeferredEventStatusResolved
	item.NextAttemptAt = nil
	item.LastError = nil
	item.UpdatedAt = now
	if err := s.deferredRepo.Update(ctx, item); err != nil {
		return err
	}

	s.finalizeEvent(ctx, &event, result, now)
	metrics.DeferredReprocessTotal.WithLabelValues("resolved").Inc()
	return nil
}

func (s *FulfillmentService) recordDeferredFailure(ctx context.Context, item *entity.DeferredEvent, now time.Time, cause error) error {
	item.Attempts++

	maxAttempts := s.fulfillmentCfg.DeferredMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if item.Attempts >= maxAttempts {
		return s.deadLetterDeferred(ctx, item, now, cause)
	}

	trimmed := truncate(cause.Error(), 1024)
	next := now.Add(s.deferredRetryInterval())
	item.LastError = &trimmed
	item.NextAttemptAt = &next
	item.UpdatedAt = now
	metrics.DeferredReprocessTotal.WithLabelValues("retry").Inc()
	return s.deferredRepo.Update(ctx, item)
}

func (s *FulfillmentService) deadLetterDeferred(ctx context.Context, item *entity.DeferredEvent, now time.Time, cause error) error {
	trimmed := truncate(cause.Error(), 1024)
	item.Status = entity.DeferredEventStatusDead
	item.NextAttemptAt = nil
	item.LastError = &trimmed
	item.UpdatedAt = now
	if err := s.deferredRepo.Update(ctx, item); err != nil {
		return err
	}

	s.logger.WithError(cause).WithFields(logrus.Fields{
		"alert":    true,
		"event_id": item.EventID,
	}).Error("Deferred event dead-lettered")

	if item.OrderID != nil {
		s.enqueueNotification(ctx, *item.OrderID, entity.NotificationKindOperatorAlert, now)
	}
	metrics.DeferredReprocessTotal.WithLabelValues("dead_lettered").Inc()
	return nil
}

// RunPruneIdempotencyBatch removes expired idempotency records and webhook
// delivery records past the retention horizon.
func (s *FulfillmentService) RunPruneIdempotencyBatch(ctx context.Context) error {
	now := s.nowFunc().UTC()

	removed, err := s.eventRepo.DeleteExpired(ctx, now, s.batchSize())
	if err != nil {
		return err
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("Pruned expired idempotency records")
	}

	retention := s.fulfillmentCfg.DeliveryRetention
	if retention <= 0 {
		retention = 720 * time.Hour
	}
	if _, err := s.deliveryRepo.DeleteOlderThan(ctx, now.Add(-retention), s.batchSize()); err != nil {
		return err
	}

	return nil
}

func notificationKindLabel(kind int32) string {
	switch kind {
	case entity.NotificationKindConfirmation:
		return "order_confirmation"
	case entity.NotificationKindFailure:
		return "payment_failure"
	case entity.NotificationKindRefund:
		return "order_refund"
	case entity.NotificationKindOperatorAlert:
		return "operator_alert"
	default:
		return "unknown"
	}
}

func keepFirstErr(current, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}

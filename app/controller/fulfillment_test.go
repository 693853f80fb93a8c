package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vibast-solutions/ms-go-fulfillment/app/entity"
	"github.com/vibast-solutions/ms-go-fulfillment/app/gateway"
	"github.com/vibast-solutions/ms-go-fulfillment/app/repository"
	"github.com/vibast-solutions/ms-go-fulfillment/app/service"
	"github.com/vibast-solutions/ms-go-fulfillment/app/types"
	"github.com/vibast-solutions/ms-go-fulfillment/config"
)

type controllerOrderRepo struct {
	findByIDFn               func(ctx context.Context, id uint64) (*entity.Order, error)
	findByReferenceFn        func(ctx context.Context, reference string) (*entity.Order, error)
	findByPaymentReferenceFn func(ctx context.Context, paymentReference string) (*entity.Order, error)
	listFn                   func(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error)
}

func (r *controllerOrderRepo) FindByID(ctx context.Context, id uint64) (*entity.Order, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *controllerOrderRepo) FindByReference(ctx context.Context, reference string) (*entity.Order, error) {
	if r.findByReferenceFn != nil {
		return r.findByReferenceFn(ctx, reference)
	}
	return nil, nil
}

func (r *controllerOrderRepo) FindByPaymentReference(ctx context.Context, paymentReference string) (*entity.Order, error) {
	if r.findByPaymentReferenceFn != nil {
		return r.findByPaymentReferenceFn(ctx, paymentReference)
	}
	return nil, nil
}

func (r *controllerOrderRepo) List(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	if r.listFn != nil {
		return r.listFn(ctx, filter)
	}
	return []*entity.Order{}, nil
}

type controllerFulfillmentRepo struct {
	completed bool
}

func (r *controllerFulfillmentRepo) CompleteOrder(context.Context, *entity.Order, string, time.Time) (bool, error) {
	r.completed = true
	return true, nil
}

func (r *controllerFulfillmentRepo) FailOrder(context.Context, uint64, time.Time) (bool, error) {
	return true, nil
}

func (r *controllerFulfillmentRepo) RefundOrder(context.Context, uint64, time.Time) (bool, error) {
	return true, nil
}

type controllerEventRepo struct{}

func (r *controllerEventRepo) IsProcessed(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

func (r *controllerEventRepo) MarkProcessed(context.Context, string, time.Time, time.Duration) error {
	return nil
}

func (r *controllerEventRepo) DeleteExpired(context.Context, time.Time, int32) (int64, error) {
	return 0, nil
}

type controllerDeliveryRepo struct{}

func (r *controllerDeliveryRepo) Create(context.Context, *entity.WebhookDelivery) error {
	return nil
}

func (r *controllerDeliveryRepo) DeleteOlderThan(context.Context, time.Time, int32) (int64, error) {
	return 0, nil
}

type controllerDeferredRepo struct{}

func (r *controllerDeferredRepo) Create(context.Context, *entity.DeferredEvent) error { return nil }
func (r *controllerDeferredRepo) Update(context.Context, *entity.DeferredEvent) error { return nil }
func (r *controllerDeferredRepo) ListDue(context.Context, time.Time, int32) ([]*entity.DeferredEvent, error) {
	return []*entity.DeferredEvent{}, nil
}

type controllerNotificationRepo struct{}

func (r *controllerNotificationRepo) Create(context.Context, *entity.NotificationJob) error { return nil }
func (r *controllerNotificationRepo) Update(context.Context, *entity.NotificationJob) error { return nil }
func (r *controllerNotificationRepo) ListDue(context.Context, time.Time, int32) ([]*entity.NotificationJob, error) {
	return []*entity.NotificationJob{}, nil
}

type controllerGateway struct {
	event *gateway.Event
	err   error
}

func (g *controllerGateway) Code() int32 {
	return gateway.GatewayCodeStripe
}

func (g *controllerGateway) VerifyAndParseEvent(context.Context, []byte, string) (*gateway.Event, error) {
	if g.err != nil {
		return nil, g.err
	}
	return g.event, nil
}

type controllerLimiter struct {
	allow bool
}

func (l *controllerLimiter) Allow(string) bool         { return l.allow }
func (l *controllerLimiter) RetryAfter() time.Duration { return 42 * time.Second }

func newControllerForTest(repo *controllerOrderRepo, gw *controllerGateway, allow bool) *FulfillmentController {
	fulfillmentService := service.NewFulfillmentService(
		repo,
		&controllerFulfillmentRepo{},
		&controllerEventRepo{},
		&controllerDeliveryRepo{},
		&controllerDeferredRepo{},
		&controllerNotificationRepo{},
		gateway.NewRegistry(gw),
		&controllerLimiter{allow: allow},
		config.FulfillmentConfig{
			IdempotencyTTL:        48 * time.Hour,
			DeferredMaxAttempts:   3,
			DeferredRetryInterval: time.Minute,
			JobBatchSize:          100,
		},
	)
	return NewFulfillmentController(fulfillmentService)
}

func TestHandlePaymentWebhookMissingSignature(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{}, true)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.HandlePaymentWebhook(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePaymentWebhookInvalidSignature(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{err: gateway.ErrInvalidSignature}, true)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.HandlePaymentWebhook(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePaymentWebhookSuccess(t *testing.T) {
	repo := &controllerOrderRepo{findByReferenceFn: func(context.Context, string) (*entity.Order, error) {
		return &entity.Order{ID: 5, Reference: "ord-1", UserID: "user-1", Status: entity.OrderStatusPending}, nil
	}}
	gw := &controllerGateway{event: &gateway.Event{
		ID:             "evt_1",
		Type:           "checkout.session.completed",
		Kind:           gateway.KindCompleted,
		OrderReference: "ord-1",
	}}
	ctrl := newControllerForTest(repo, gw, true)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.HandlePaymentWebhook(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.WebhookAckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !payload.Received || payload.Outcome != service.WebhookOutcomeProcessed {
		t.Fatalf("unexpected ack payload: %+v", payload)
	}
}

func TestHandlePaymentWebhookUnknownOrder(t *testing.T) {
	gw := &controllerGateway{event: &gateway.Event{
		ID:             "evt_1",
		Type:           "checkout.session.completed",
		Kind:           gateway.KindCompleted,
		OrderReference: "ord-missing",
	}}
	ctrl := newControllerForTest(&controllerOrderRepo{}, gw, true)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.HandlePaymentWebhook(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlePaymentWebhookRateLimitedSetsRetryAfter(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{}, false)
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Stripe-Signature", "t=1,v1=good")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.HandlePaymentWebhook(ctx)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "42" {
		t.Fatalf("expected Retry-After 42, got %q", rec.Header().Get("Retry-After"))
	}
}

func TestGetOrderNotFound(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{}, true)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders/9", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("9")

	_ = ctrl.GetOrder(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetOrderSuccess(t *testing.T) {
	now := time.Now().UTC()
	repo := &controllerOrderRepo{findByIDFn: func(context.Context, uint64) (*entity.Order, error) {
		return &entity.Order{
			ID:         7,
			Reference:  "ord-7",
			UserID:     "user-1",
			TotalCents: 4200,
			Currency:   "USD",
			Status:     entity.OrderStatusCompleted,
			Items: []*entity.OrderItem{{
				ID:          1,
				OrderID:     7,
				ProductRef:  "course-go",
				ProductType: "course",
				PriceCents:  4200,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}}
	ctrl := newControllerForTest(repo, &controllerGateway{}, true)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders/7", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("7")

	_ = ctrl.GetOrder(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.OrderEnvelopeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Order == nil || payload.Order.Id != 7 || len(payload.Order.Items) != 1 {
		t.Fatalf("unexpected order payload: %+v", payload.Order)
	}
}

func TestListOrdersBadStatus(t *testing.T) {
	ctrl := newControllerForTest(&controllerOrderRepo{}, &controllerGateway{}, true)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders?status=99", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.ListOrders(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListOrdersSuccess(t *testing.T) {
	now := time.Now().UTC()
	ctrl := newControllerForTest(&controllerOrderRepo{listFn: func(context.Context, repository.OrderFilter) ([]*entity.Order, error) {
		return []*entity.Order{{
			ID:         1,
			Reference:  "ord-1",
			UserID:     "user-1",
			TotalCents: 1000,
			Currency:   "USD",
			Status:     entity.OrderStatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}}, nil
	}}, &controllerGateway{}, true)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/orders?limit=10&offset=0", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.ListOrders(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.ListOrdersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(payload.Orders) != 1 || payload.Orders[0].Reference != "ord-1" {
		t.Fatalf("unexpected list payload: %+v", payload.Orders)
	}
}

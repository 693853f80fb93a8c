package service

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-fulfillment/app/entity"
	"github.com/vibast-solutions/ms-go-fulfillment/app/factory"
	"github.com/vibast-solutions/ms-go-fulfillment/app/gateway"
	"github.com/vibast-solutions/ms-go-fulfillment/app/repository"
	"github.com/vibast-solutions/ms-go-fulfillment/config"
)

const (
	defaultListLimit = int32(100)
	defaultBatchSize = int32(100)
)

type listOrdersRequest interface {
	GetUserId() string
	GetReference() string
	GetHasStatus() bool
	GetStatus() int32
	GetLimit() int32
	GetOffset() int32
}

type orderRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.Order, error)
	FindByReference(ctx context.Context, reference string) (*entity.Order, error)
	FindByPaymentReference(ctx context.Context, paymentReference string) (*entity.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error)
}

type fulfillmentRepository interface {
	CompleteOrder(ctx context.Context, order *entity.Order, paymentReference string, now time.Time) (bool, error)
	FailOrder(ctx context.Context, orderID uint64, now time.Time) (bool, error)
	RefundOrder(ctx context.Context, orderID uint64, now time.Time) (bool, error)
}

type webhookEventRepository interface {
	IsProcessed(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, processedAt time.Time, ttl time.Duration) error
	DeleteExpired(ctx context.Context, now time.Time, limit int32) (int64, error)
}

type webhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *entity.WebhookDelivery) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int32) (int64, error)
}

type deferredEventRepository interface {
	Create(ctx context.Context, event *entity.DeferredEvent) error
	Update(ctx context.Context, event *entity.DeferredEvent) error
	ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.DeferredEvent, error)
}

type notificationJobRepository interface {
	Create(ctx context.Context, job *entity.NotificationJob) error
	Update(ctx context.Context, job *entity.NotificationJob) error
	ListDue(ctx context.Context, now time.Time, limit int32) ([]*entity.NotificationJob, error)
}

type rateLimiter interface {
	Allow(source string) bool
	RetryAfter() time.Duration
}

type FulfillmentService struct {
	orderRepo        orderRepository
	fulfillmentRepo  fulfillmentRepository
	eventRepo        webhookEventRepository
	deliveryRepo     webhookDeliveryRepository
	deferredRepo     deferredEventRepository
	notificationRepo notificationJobRepository
	gatewayReg       *gateway.Registry
	limiter          rateLimiter
	fulfillmentCfg   config.FulfillmentConfig
	notifyHTTP       *http.Client
	logger           logrus.FieldLogger
	nowFunc          func() time.Time
}

func NewFulfillmentService(
	orderRepo orderRepository,
	fulfillmentRepo fulfillmentRepository,
	eventRepo webhookEventRepository,
	deliveryRepo webhookDeliveryRepository,
	deferredRepo deferredEventRepository,
	notificationRepo notificationJobRepository,
	gatewayReg *gateway.Registry,
	limiter rateLimiter,
	fulfillmentCfg config.FulfillmentConfig,
) *FulfillmentService {
	timeout := fulfillmentCfg.NotificationHTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &FulfillmentService{
		orderRepo:        orderRepo,
		fulfillmentRepo:  fulfillmentRepo,
		eventRepo:        eventRepo,
		deliveryRepo:     deliveryRepo,
		deferredRepo:     deferredRepo,
		notificationRepo: notificationRepo,
		gatewayReg:       gatewayReg,
		limiter:          limiter,
		fulfillmentCfg:   fulfillmentCfg,
		notifyHTTP:       &http.Client{Timeout: timeout},
		logger:           factory.NewModuleLogger("fulfillment-service"),
		nowFunc:          time.Now,
	}
}

func (s *FulfillmentService) GetOrder(ctx context.Context, id uint64) (*entity.Order, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *FulfillmentService) ListOrders(ctx context.Context, req listOrdersRequest) ([]*entity.Order, error) {
	limit := req.GetLimit()
	if limit <= 0 {
		limit = defaultListLimit
	}

	filter := repository.OrderFilter{
		UserID:    req.GetUserId(),
		Reference: req.GetReference(),
		HasStatus: req.GetHasStatus(),
		Status:    req.GetStatus(),
		Limit:     limit,
		Offset:    req.GetOffset(),
	}

	return s.orderRepo.List(ctx, filter)
}

// RateLimitRetryAfter is the Retry-After hint for rate-limited webhook calls.
func (s *FulfillmentService) RateLimitRetryAfter() time.Duration {
	return s.limiter.RetryAfter()
}

func (s *FulfillmentService) batchSize() int32 {
	if s.fulfillmentCfg.JobBatchSize > 0 {
		return s.fulfillmentCfg.JobBatchSize
	}
	return defaultBatchSize
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

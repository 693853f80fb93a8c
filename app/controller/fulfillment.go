package controller

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-fulfillment/app/factory"
	"github.com/vibast-solutions/ms-go-fulfillment/app/mapper"
	"github.com/vibast-solutions/ms-go-fulfillment/app/service"
	"github.com/vibast-solutions/ms-go-fulfillment/app/types"
)

type FulfillmentController struct {
	fulfillmentService *service.FulfillmentService
	logger             logrus.FieldLogger
}

func NewFulfillmentController(fulfillmentService *service.FulfillmentService) *FulfillmentController {
	return &FulfillmentController{
		fulfillmentService: fulfillmentService,
		logger:             factory.NewModuleLogger("fulfillment-controller"),
	}
}

func (c *FulfillmentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

// HandlePaymentWebhook acknowledges every verified delivery with 200 so the
// gateway stops retrying; only transient failures return retryable statuses.
func (c *FulfillmentController) HandlePaymentWebhook(ctx echo.Context) error {
	req, err := types.NewHandleWebhookRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.fulfillmentService.HandlePaymentWebhook(ctx.Request().Context(), req)
	if err != nil {
		logger := factory.LoggerWithContext(c.logger, ctx)
		switch {
		case errors.Is(err, service.ErrRateLimited):
			retryAfter := int(math.Ceil(c.fulfillmentService.RateLimitRetryAfter().Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			ctx.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
			return c.writeError(ctx, http.StatusTooManyRequests, "too many requests")
		case errors.Is(err, service.ErrWebhookRejected), errors.Is(err, service.ErrInvalidRequest):
			logger.WithError(err).Warn("Webhook rejected")
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrOrderNotFound):
			logger.WithError(err).Warn("Webhook references unknown order")
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		default:
			logger.WithError(err).Error("Handle payment webhook failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.WebhookAckResponse{
		Received: true,
		Outcome:  result.Outcome,
		EventId:  result.EventID,
	})
}

func (c *FulfillmentController) GetOrder(ctx echo.Context) error {
	req, err := types.NewGetOrderRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.fulfillmentService.GetOrder(ctx.Request().Context(), req.GetId())
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "order not found")
		}
		c.logger.WithError(err).Error("Get order failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.OrderEnvelopeResponse{Order: mapper.OrderToResponse(item)})
}

func (c *FulfillmentController) ListOrders(ctx echo.Context) error {
	req, err := types.NewListOrdersRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.fulfillmentService.ListOrders(ctx.Request().Context(), req)
	if err != nil {
		c.logger.WithError(err).Error("List orders failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListOrdersResponse{Orders: mapper.OrdersToResponse(items)})
}

func (c *FulfillmentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}

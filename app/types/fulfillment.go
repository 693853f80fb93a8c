package types

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HandleWebhookRequest carries one raw gateway delivery into the service
// layer. The payload is kept as the exact bytes received; signature
// verification depends on it.
type HandleWebhookRequest struct {
	RequestId string
	SourceIp  string
	Signature string
	Payload   string
}

func NewHandleWebhookRequestFromContext(ctx echo.Context) (*HandleWebhookRequest, error) {
	requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	if requestID == "" {
		requestID = uuid.NewString()
	}

	signature := strings.TrimSpace(ctx.Request().Header.Get("Stripe-Signature"))
	if signature == "" {
		signature = strings.TrimSpace(ctx.Request().Header.Get("X-Gateway-Signature"))
	}

	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	return &HandleWebhookRequest{
		RequestId: requestID,
		SourceIp:  strings.TrimSpace(ctx.RealIP()),
		Signature: signature,
		Payload:   string(rawBody),
	}, nil
}

func (r *HandleWebhookRequest) GetRequestId() string { return r.RequestId }
func (r *HandleWebhookRequest) GetSourceIp() string  { return r.SourceIp }
func (r *HandleWebhookRequest) GetSignature() string { return r.Signature }
func (r *HandleWebhookRequest) GetPayload() string   { return r.Payload }

func (r *HandleWebhookRequest) Validate() error {
	if strings.TrimSpace(r.GetSignature()) == "" {
		return errors.New("gateway signature is required")
	}
	if strings.TrimSpace(r.GetPayload()) == "" {
		return errors.New("payload is required")
	}
	return nil
}

type GetOrderRequest struct {
	Id uint64
}

func NewGetOrderRequestFromContext(ctx echo.Context) (*GetOrderRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetOrderRequest{Id: id}, nil
}

func (r *GetOrderRequest) GetId() uint64 { return r.Id }

func (r *GetOrderRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid order id")
	}
	return nil
}

type ListOrdersRequest struct {
	UserId    string
	Reference string
	HasStatus bool
	Status    int32
	Limit     int32
	Offset    int32
}

func NewListOrdersRequestFromContext(ctx echo.Context) (*ListOrdersRequest, error) {
	req := &ListOrdersRequest{
		UserId:    strings.TrimSpace(ctx.QueryParam("user_id")),
		Reference: strings.TrimSpace(ctx.QueryParam("reference")),
		Limit:     100,
		Offset:    0,
	}

	statusRaw := strings.TrimSpace(ctx.QueryParam("status"))
	if statusRaw != "" {
		status, err := strconv.ParseInt(statusRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.HasStatus = true
		req.Status = int32(status)
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListOrdersRequest) GetUserId() string    { return r.UserId }
func (r *ListOrdersRequest) GetReference() string { return r.Reference }
func (r *ListOrdersRequest) GetHasStatus() bool   { return r.HasStatus }
func (r *ListOrdersRequest) GetStatus() int32     { return r.Status }
func (r *ListOrdersRequest) GetLimit() int32      { return r.Limit }
func (r *ListOrdersRequest) GetOffset() int32     { return r.Offset }

func (r *ListOrdersRequest) Validate() error {
	if r.Limit == 0 {
		r.Limit = 100
	}
	if r.GetLimit() <= 0 || r.GetLimit() > 500 {
		return errors.New("limit must be between 1 and 500")
	}
	if r.GetOffset() < 0 {
		return errors.New("offset must be >= 0")
	}
	if r.GetHasStatus() && !isValidOrderStatus(r.GetStatus()) {
		return errors.New("invalid status")
	}
	return nil
}

func isValidOrderStatus(status int32) bool {
	switch status {
	case 1, 2, 10, 20, 30:
		return true
	default:
		return false
	}
}

type OrderItem struct {
	Id          uint64 `json:"id"`
	ProductRef  string `json:"product_ref"`
	ProductType string `json:"product_type"`
	PriceCents  int64  `json:"price_cents"`
}

type Order struct {
	Id               uint64       `json:"id"`
	Reference        string       `json:"reference"`
	UserId           string       `json:"user_id"`
	TotalCents       int64        `json:"total_cents"`
	Currency         string       `json:"currency"`
	Status           int32        `json:"status"`
	PaymentReference string       `json:"payment_reference,omitempty"`
	Items            []*OrderItem `json:"items"`
	CreatedAt        string       `json:"created_at"`
	UpdatedAt        string       `json:"updated_at"`
}

type OrderEnvelopeResponse struct {
	Order *Order `json:"order"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

type WebhookAckResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
	EventId  string `json:"event_id,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-fulfillment/app/entity"
	"github.com/vibast-solutions/ms-go-fulfillment/app/types"
)

func OrderToResponse(item *entity.Order) *types.Order {
	if item == nil {
		return nil
	}

	return &types.Order{
		Id:               item.ID,
		Reference:        item.Reference,
		UserId:           item.UserID,
		TotalCents:       item.TotalCents,
		Currency:         item.Currency,
		Status:           item.Status,
		PaymentReference: derefString(item.PaymentReference),
		Items:            orderItemsToResponse(item.Items),
		CreatedAt:        item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func OrdersToResponse(items []*entity.Order) []*types.Order {
	result := make([]*types.Order, 0, len(items))
	for _, item := range items {
		result = append(result, OrderToResponse(item))
	}
	return result
}

func orderItemsToResponse(items []*entity.OrderItem) []*types.OrderItem {
	result := make([]*types.OrderItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		result = append(result, &types.OrderItem{
			Id:          item.ID,
			ProductRef:  item.ProductRef,
			ProductType: item.ProductType,
			PriceCents:  item.PriceCents,
		})
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

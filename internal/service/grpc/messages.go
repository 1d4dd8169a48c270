package grpcsvc

import (
	"encoding/json"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// OrderLine: строка запроса на заказ.
type OrderLine struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// SubmitOrderRequest: запрос SubmitOrder.
type SubmitOrderRequest struct {
	BuyerID string          `json:"buyerId"`
	Lines   []OrderLine     `json:"lines"`
	Address *domain.Address `json:"address,omitempty"`
}

// GetOrderRequest: запрос GetOrder.
type GetOrderRequest struct {
	OrderID string `json:"orderId"`
}

// OrderReply: ответ с одним заказом.
type OrderReply struct {
	Order domain.OrderSnapshot `json:"order"`
}

// ListBuyerOrdersRequest: запрос ListBuyerOrders.
type ListBuyerOrdersRequest struct {
	BuyerID string `json:"buyerId"`
	Limit   int    `json:"limit,omitempty"`
}

// ListBuyerOrdersReply: заказы покупателя, новые первыми.
type ListBuyerOrdersReply struct {
	Orders []domain.OrderSnapshot `json:"orders"`
}

// SubscribeRequest: фильтр ленты изменений. Пустой список означает все сущности.
type SubscribeRequest struct {
	Entities []string `json:"entities,omitempty"`
}

// ChangeMessage: одно событие ленты; Event содержит закодированное событие без изменений.
type ChangeMessage struct {
	Entity string          `json:"entity"`
	Type   string          `json:"type"`
	Event  json.RawMessage `json:"event"`
}

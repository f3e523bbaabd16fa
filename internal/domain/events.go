package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	AggregateOrder = "order"

	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderCreatedPayload — тело события order.created.
type OrderCreatedPayload struct {
	OrderID    int64              `json:"order_id"`
	UserID     int64              `json:"user_id"`
	TotalMinor int64              `json:"total_minor"`
	Currency   string             `json:"currency"`
	Status     OrderStatus        `json:"status"`
	Items      []OrderCreatedItem `json:"items"`
	CreatedAt  time.Time          `json:"created_at"`
}

// OrderCreatedItem — позиция в событии order.created.
type OrderCreatedItem struct {
	ProductID      int64 `json:"product_id"`
	Qty            int64 `json:"qty"`
	UnitPriceMinor int64 `json:"unit_price_minor"`
}

// OrderStatusChangedPayload — тело события order.status_changed.
type OrderStatusChangedPayload struct {
	OrderID   int64       `json:"order_id"`
	UserID    int64       `json:"user_id"`
	From      OrderStatus `json:"from"`
	To        OrderStatus `json:"to"`
	ActorID   int64       `json:"actor_id"`
	ActorRole Role        `json:"actor_role"`
	Restocked bool        `json:"restocked"`
	ChangedAt time.Time   `json:"changed_at"`
}

// NewOrderCreatedMessage собирает outbox-сообщение о созданном заказе.
func NewOrderCreatedMessage(order Order) (OutboxMessage, error) {
	items := make([]OrderCreatedItem, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, OrderCreatedItem{
			ProductID:      line.ProductID,
			Qty:            line.Qty,
			UnitPriceMinor: line.UnitPriceMinor,
		})
	}
	return newOrderMessage(order.ID, EventOrderCreated, OrderCreatedPayload{
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalMinor: order.TotalMinor,
		Currency:   order.Currency,
		Status:     order.Status,
		Items:      items,
		CreatedAt:  order.CreatedAt,
	})
}

// NewOrderStatusChangedMessage собирает outbox-сообщение о смене статуса.
func NewOrderStatusChangedMessage(payload OrderStatusChangedPayload) (OutboxMessage, error) {
	return newOrderMessage(payload.OrderID, EventOrderStatusChanged, payload)
}

func newOrderMessage(orderID int64, eventType string, payload any) (OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: AggregateOrder,
		AggregateID:   strconv.FormatInt(orderID, 10),
		EventType:     eventType,
		Payload:       body,
	}, nil
}

package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated  = "order_created"
	TimelineStatusChanged = "status_changed"
	TimelineStockRestored = "stock_restored"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  int64
	Type     string
	Reason   string
	ActorID  int64
	Occurred time.Time
}

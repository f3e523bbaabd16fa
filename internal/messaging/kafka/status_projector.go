package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// StatusProjector обновляет кэш статусов по событиям из топика заказов.
// Так кэш прогревается на всех репликах, а не только на той, что провела переход.
// Запоздавшие события (повтор из DLQ) не откатывают уже закэшированный статус.
type StatusProjector struct {
	cache  domain.OrderStatusCache
	logger *log.Entry
}

// NewStatusProjector создаёт проектор поверх кэша статусов.
func NewStatusProjector(cache domain.OrderStatusCache, logger *log.Entry) *StatusProjector {
	if logger == nil {
		logger = log.WithField("component", "status-projector")
	}
	return &StatusProjector{cache: cache, logger: logger}
}

// Handle — MessageHandler для Consumer. Неизвестные события пропускаются.
func (p *StatusProjector) Handle(ctx context.Context, message *sarama.ConsumerMessage) error {
	envelope, err := ParseEnvelope(message)
	if err != nil {
		return err
	}

	status, ok, err := statusFromEnvelope(envelope)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	current, cached, err := p.cache.Get(ctx, status.OrderID)
	if err != nil {
		return fmt.Errorf("read cached order %d status: %w", status.OrderID, err)
	}
	if cached && !status.Supersedes(current) {
		p.logger.WithFields(log.Fields{
			"order_id":      status.OrderID,
			"status":        status.Status,
			"cached_status": current.Status,
			"event_id":      envelope.ID,
		}).Debug("stale order event skipped")
		return nil
	}

	if err := p.cache.Set(ctx, status); err != nil {
		return fmt.Errorf("project order %d status: %w", status.OrderID, err)
	}
	p.logger.WithFields(log.Fields{
		"order_id": status.OrderID,
		"status":   status.Status,
		"event_id": envelope.ID,
	}).Debug("order status projected")
	return nil
}

func statusFromEnvelope(envelope Envelope) (domain.CachedStatus, bool, error) {
	switch envelope.EventType {
	case domain.EventOrderCreated:
		var payload domain.OrderCreatedPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return domain.CachedStatus{}, false, fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
		}
		return domain.CachedStatus{
			OrderID:   payload.OrderID,
			UserID:    payload.UserID,
			Status:    payload.Status,
			UpdatedAt: payload.CreatedAt,
		}, true, nil
	case domain.EventOrderStatusChanged:
		var payload domain.OrderStatusChangedPayload
		if err := json.Unmarshal(envelope.Payload, &payload); err != nil {
			return domain.CachedStatus{}, false, fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
		}
		return domain.CachedStatus{
			OrderID:   payload.OrderID,
			UserID:    payload.UserID,
			Status:    payload.To,
			UpdatedAt: payload.ChangedAt,
		}, true, nil
	default:
		return domain.CachedStatus{}, false, nil
	}
}

package orderstatus

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/telemetry"
)

// Result — исход запроса на смену статуса.
type Result struct {
	Order    domain.Order
	Previous domain.OrderStatus
	// Changed=false означает, что заказ уже был в запрошенном статусе и ничего не записано.
	Changed bool
	// Restocked — сколько единиц вернулось на склад при отмене.
	Restocked int64
}

// guard проверяет заголовок заказа под блокировкой, до любых изменений.
type guard func(order domain.Order) error

// Machine применяет переходы статусов по таблице переходов домена.
type Machine struct {
	tx      domain.TxManager
	cache   domain.OrderStatusCache
	logger  *log.Entry
	metrics *metrics.OrderMetrics
	clock   func() time.Time
}

// Option настраивает Machine.
type Option func(*Machine)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics включает метрики.
func WithMetrics(om *metrics.OrderMetrics) Option {
	return func(m *Machine) {
		m.metrics = om
	}
}

// WithStatusCache задаёт кэш статусов.
func WithStatusCache(cache domain.OrderStatusCache) Option {
	return func(m *Machine) {
		m.cache = cache
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewMachine создаёт машину статусов поверх менеджера транзакций.
func NewMachine(tx domain.TxManager, options ...Option) *Machine {
	m := &Machine{
		tx:     tx,
		logger: log.New().WithField("component", "orderstatus"),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// CancelByCustomer отменяет собственный заказ покупателя.
// Чужой заказ неотличим от отсутствующего: ErrOrderNotFound.
func (m *Machine) CancelByCustomer(ctx context.Context, orderID int64, actor domain.Actor) (Result, error) {
	if actor.ID <= 0 {
		return Result{}, domain.ErrUnauthenticated
	}
	return m.transition(ctx, orderID, domain.OrderStatusCancelled, actor, func(order domain.Order) error {
		if order.UserID != actor.ID {
			return domain.ErrOrderNotFound
		}
		return nil
	})
}

// UpdateByAdmin переводит любой заказ в requested. Доступно только администратору.
func (m *Machine) UpdateByAdmin(ctx context.Context, orderID int64, requested domain.OrderStatus, actor domain.Actor) (Result, error) {
	if !actor.IsAdmin() {
		return Result{}, domain.ErrForbidden
	}
	return m.Transition(ctx, orderID, requested, actor)
}

// Transition переводит заказ в requested без проверки прав.
// Повторный запрос того же статуса ничего не меняет: ни остатков, ни событий.
func (m *Machine) Transition(ctx context.Context, orderID int64, requested domain.OrderStatus, actor domain.Actor) (Result, error) {
	return m.transition(ctx, orderID, requested, actor, nil)
}

func (m *Machine) transition(ctx context.Context, orderID int64, requested domain.OrderStatus, actor domain.Actor, check guard) (Result, error) {
	start := time.Now()
	done := m.metrics.OperationStarted()
	defer done()

	ctx, span := telemetry.Tracer().Start(ctx, "orderstatus.Transition", oteltrace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.String("order.status.requested", string(requested)),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer span.End()

	res, err := m.apply(ctx, orderID, requested, actor, check)

	from := res.Previous
	if from == "" {
		from = "unknown"
	}
	result := metrics.ResultLabel(err)
	if err == nil && !res.Changed {
		result = metrics.ResultUnchanged
	}
	m.metrics.RecordTransition(from, requested, result, time.Since(start))

	logger := m.logger.WithFields(log.Fields{
		"order_id":   orderID,
		"from":       string(from),
		"to":         string(requested),
		"actor_id":   actor.ID,
		"actor_role": string(actor.Role),
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		if result == metrics.ResultError || errors.Is(err, domain.ErrInvariantViolation) {
			logger.WithError(err).Error("order status transition failed")
		} else {
			logger.WithError(err).Info("order status transition rejected")
		}
		return Result{}, err
	}

	span.SetAttributes(attribute.Bool("order.status.changed", res.Changed))
	if !res.Changed {
		logger.Debug("order already in requested status")
		return res, nil
	}

	m.metrics.RecordTransitionCommitted(res.Restocked)
	m.cacheStatus(ctx, res.Order)
	logger.WithField("restocked_units", res.Restocked).Info("order status changed")
	return res, nil
}

func (m *Machine) apply(ctx context.Context, orderID int64, requested domain.OrderStatus, actor domain.Actor, check guard) (Result, error) {
	if orderID <= 0 {
		return Result{}, fmt.Errorf("%w: invalid order id %d", domain.ErrInvalidInput, orderID)
	}
	if !requested.Valid() {
		return Result{}, fmt.Errorf("%w: %w %q", domain.ErrInvalidInput, domain.ErrOrderStatusUnknown, requested)
	}

	var res Result
	err := m.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		res = Result{}

		order, err := tx.Orders().LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(order); err != nil {
				return err
			}
		}
		res.Previous = order.Status

		if order.Status == requested {
			res.Order = order
			return nil
		}
		if !order.Status.CanTransition(requested) {
			return &domain.IllegalTransitionError{From: order.Status, To: requested}
		}

		now := m.clock()
		if requested == domain.OrderStatusCancelled {
			restocked, err := restock(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			res.Restocked = restocked
		}

		if err := tx.Orders().UpdateStatus(ctx, order.ID, requested, now); err != nil {
			return err
		}

		msg, err := domain.NewOrderStatusChangedMessage(domain.OrderStatusChangedPayload{
			OrderID:   order.ID,
			UserID:    order.UserID,
			From:      order.Status,
			To:        requested,
			ActorID:   actor.ID,
			ActorRole: actor.Role,
			Restocked: res.Restocked > 0,
			ChangedAt: now,
		})
		if err != nil {
			return fmt.Errorf("build order.status_changed event: %w", err)
		}
		if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
			return err
		}

		if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineStatusChanged,
			Reason:   fmt.Sprintf("%s -> %s", order.Status, requested),
			ActorID:  actor.ID,
			Occurred: now,
		}); err != nil {
			return err
		}
		if res.Restocked > 0 {
			if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
				OrderID:  order.ID,
				Type:     domain.TimelineStockRestored,
				Reason:   fmt.Sprintf("%d units returned", res.Restocked),
				ActorID:  actor.ID,
				Occurred: now,
			}); err != nil {
				return err
			}
		}

		order.Status = requested
		order.UpdatedAt = now
		res.Order = order
		res.Changed = true
		return nil
	})
	if err != nil {
		// Previous остаётся для метрик, заказ наружу не отдаётся.
		return Result{Previous: res.Previous}, err
	}
	return res, nil
}

// restock возвращает на склад все позиции отменяемого заказа.
// Строки товаров блокируются по возрастанию id, как и в checkout.
func restock(ctx context.Context, tx domain.Tx, orderID int64) (int64, error) {
	lines, err := tx.Orders().ListLineItems(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, fmt.Errorf("%w: order %d has no line items", domain.ErrInvariantViolation, orderID)
	}

	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	ids = domain.LockOrder(ids)

	locked, err := tx.Products().LockByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	if len(locked) != len(ids) {
		return 0, fmt.Errorf("%w: order %d references missing products", domain.ErrInvariantViolation, orderID)
	}

	var units int64
	for _, line := range lines {
		if err := tx.Products().IncrementStock(ctx, line.ProductID, line.Qty); err != nil {
			return 0, err
		}
		units += line.Qty
	}
	return units, nil
}

func (m *Machine) cacheStatus(ctx context.Context, order domain.Order) {
	if m.cache == nil {
		return
	}
	err := m.cache.Set(ctx, domain.CachedStatus{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Status:    order.Status,
		UpdatedAt: order.UpdatedAt,
	})
	if err != nil {
		m.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to cache order status")
	}
}

package checkout

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

// Engine превращает корзину в заказ: проверяет товары, фиксирует цены,
// списывает остатки и ставит событие order.created в outbox. Всё в одной транзакции.
type Engine struct {
	tx      domain.TxManager
	cache   domain.OrderStatusCache
	logger  *log.Entry
	metrics *metrics.OrderMetrics
	clock   func() time.Time
}

// Option настраивает Engine.
type Option func(*Engine)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics включает метрики. Без этой опции метрики не пишутся.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithStatusCache задаёт кэш статусов, который обновляется после commit.
func WithStatusCache(cache domain.OrderStatusCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// NewEngine создаёт checkout поверх менеджера транзакций.
func NewEngine(tx domain.TxManager, options ...Option) *Engine {
	e := &Engine{
		tx:     tx,
		logger: log.New().WithField("component", "checkout"),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Checkout оформляет заказ пользователя из сырых строк корзины.
func (e *Engine) Checkout(ctx context.Context, userID int64, raw []domain.CartLine) (domain.Order, error) {
	start := time.Now()
	done := e.metrics.OperationStarted()
	defer done()

	ctx, span := telemetry.Tracer().Start(ctx, "checkout.Checkout", oteltrace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int("cart.raw_lines", len(raw)),
	))
	defer span.End()

	order, err := e.checkout(ctx, userID, raw)
	e.metrics.RecordCheckout(err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, metrics.ResultLabel(err))
		e.logFailure(userID, err)
		return domain.Order{}, err
	}

	var units int64
	for _, line := range order.Items {
		units += line.Qty
	}
	e.metrics.RecordCheckoutCommitted(len(order.Items), units)
	span.SetAttributes(attribute.Int64("order.id", order.ID))

	e.cacheStatus(ctx, order)

	e.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"total_minor": order.TotalMinor,
		"currency":    order.Currency,
		"lines":       len(order.Items),
	}).Info("order created")

	return order, nil
}

func (e *Engine) checkout(ctx context.Context, userID int64, raw []domain.CartLine) (domain.Order, error) {
	if userID <= 0 {
		return domain.Order{}, fmt.Errorf("%w: user id must be positive", domain.ErrInvalidInput)
	}
	lines, err := domain.NormalizeCart(raw)
	if err != nil {
		return domain.Order{}, err
	}

	var created domain.Order
	err = e.tx.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := e.placeOrder(ctx, tx, userID, lines)
		if err != nil {
			return err
		}
		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return created, nil
}

func (e *Engine) placeOrder(ctx context.Context, tx domain.Tx, userID int64, lines []domain.CartLine) (domain.Order, error) {
	ids := domain.LockOrder(domain.CartProductIDs(lines))
	locked, err := tx.Products().LockByIDs(ctx, ids)
	if err != nil {
		return domain.Order{}, err
	}
	if len(locked) != len(ids) {
		return domain.Order{}, fmt.Errorf("%w: requested %d, found %d", domain.ErrProductNotFound, len(ids), len(locked))
	}

	products := make(map[int64]domain.Product, len(locked))
	for _, p := range locked {
		products[p.ID] = p
	}

	items, currency, err := snapshotLines(lines, products)
	if err != nil {
		return domain.Order{}, err
	}
	total, err := domain.ComputeTotal(items)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	now := e.clock()
	order := domain.Order{
		UserID:     userID,
		TotalMinor: total,
		Currency:   currency,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Items:      items,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrInvariantViolation, errors.Join(errs...))
	}

	order.ID, err = tx.Orders().InsertOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	if err := tx.Orders().InsertLineItems(ctx, order.ID, items); err != nil {
		return domain.Order{}, err
	}

	for _, line := range lines {
		affected, err := tx.Products().DecrementStock(ctx, line.ProductID, line.Qty)
		if err != nil {
			return domain.Order{}, err
		}
		if affected == 0 {
			p := products[line.ProductID]
			return domain.Order{}, &domain.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   line.Qty,
				Available:   p.Stock,
			}
		}
	}

	order.Items, err = tx.Orders().ListLineItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}

	msg, err := domain.NewOrderCreatedMessage(order)
	if err != nil {
		return domain.Order{}, fmt.Errorf("build order.created event: %w", err)
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return domain.Order{}, err
	}
	if err := tx.Timeline().Append(ctx, domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderCreated,
		ActorID:  userID,
		Occurred: now,
	}); err != nil {
		return domain.Order{}, err
	}

	return order, nil
}

// snapshotLines проверяет строки в порядке корзины и фиксирует название, цену и валюту товара.
// Валюта заказа (orderCurrency) берётся из первой строки; остальные обязаны с ней совпадать.
func snapshotLines(lines []domain.CartLine, products map[int64]domain.Product) ([]domain.OrderLine, string, error) {
	items := make([]domain.OrderLine, 0, len(lines))
	var orderCurrency string

	for i, line := range lines {
		p := products[line.ProductID]
		if !p.Active {
			return nil, "", fmt.Errorf("%w: %s", domain.ErrProductUnavailable, p.Name)
		}
		if p.Stock < line.Qty {
			return nil, "", &domain.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   line.Qty,
				Available:   p.Stock,
			}
		}
		if i == 0 {
			orderCurrency = p.Currency
		} else if p.Currency != orderCurrency {
			return nil, "", fmt.Errorf("%w: %s is priced in %s, order is in %s", domain.ErrMixedCurrency, p.Name, p.Currency, orderCurrency)
		}

		items = append(items, domain.OrderLine{
			ProductID:      p.ID,
			ProductName:    p.Name,
			UnitPriceMinor: p.PriceMinor,
			Currency:       p.Currency,
			Qty:            line.Qty,
		})
	}

	return items, orderCurrency, nil
}

func (e *Engine) cacheStatus(ctx context.Context, order domain.Order) {
	if e.cache == nil {
		return
	}
	err := e.cache.Set(ctx, domain.CachedStatus{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Status:    order.Status,
		UpdatedAt: order.UpdatedAt,
	})
	if err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to cache order status")
	}
}

func (e *Engine) logFailure(userID int64, err error) {
	entry := e.logger.WithError(err).WithFields(log.Fields{
		"user_id": userID,
		"result":  metrics.ResultLabel(err),
	})
	switch {
	case errors.Is(err, domain.ErrInvariantViolation):
		entry.Error("checkout invariant violated")
	case metrics.ResultLabel(err) == metrics.ResultError:
		entry.Error("checkout failed")
	default:
		entry.Info("checkout rejected")
	}
}

package orderquery

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultLimit — размер страницы, если limit не передан.
	DefaultLimit = 50
	// MaxLimit — верхняя граница limit; большие значения обрезаются.
	MaxLimit = 100
)

// Page — параметры постраничной выдачи.
type Page struct {
	Limit  int
	Offset int
}

// NormalizePage применяет значения по умолчанию и ограничения к limit/offset.
func NormalizePage(limit, offset int) Page {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}

// Service отвечает на запросы чтения заказов и каталога.
type Service struct {
	orders   domain.OrderReader
	products domain.ProductReader
	cache    domain.OrderStatusCache
	logger   *log.Entry
}

// NewService создаёт сервис чтения. cache может быть nil.
func NewService(orders domain.OrderReader, products domain.ProductReader, cache domain.OrderStatusCache, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "orderquery")
	}
	return &Service{
		orders:   orders,
		products: products,
		cache:    cache,
		logger:   logger,
	}
}

// ListForUser возвращает заказы пользователя, новые первыми.
func (s *Service) ListForUser(ctx context.Context, actor domain.Actor) ([]domain.Order, error) {
	if actor.ID <= 0 {
		return nil, domain.ErrUnauthenticated
	}
	return s.orders.ListByUser(ctx, actor.ID)
}

// GetForUser возвращает заказ, только если он принадлежит пользователю.
func (s *Service) GetForUser(ctx context.Context, actor domain.Actor, orderID int64) (domain.Order, error) {
	if actor.ID <= 0 {
		return domain.Order{}, domain.ErrUnauthenticated
	}
	order, err := s.get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != actor.ID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

// StatusForUser отдаёт статус заказа для поллинга. Сначала кэш, при промахе ledger.
// Промах и ошибка кэша не влияют на ответ, только на задержку.
func (s *Service) StatusForUser(ctx context.Context, actor domain.Actor, orderID int64) (domain.CachedStatus, error) {
	if actor.ID <= 0 {
		return domain.CachedStatus{}, domain.ErrUnauthenticated
	}
	if orderID <= 0 {
		return domain.CachedStatus{}, fmt.Errorf("%w: invalid order id %d", domain.ErrInvalidInput, orderID)
	}

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, orderID)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("order_id", orderID).Warn("order status cache lookup failed")
		case ok && cached.UserID == actor.ID:
			return cached, nil
		case ok:
			return domain.CachedStatus{}, domain.ErrOrderNotFound
		}
	}

	order, err := s.GetForUser(ctx, actor, orderID)
	if err != nil {
		return domain.CachedStatus{}, err
	}
	status := domain.CachedStatus{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Status:    order.Status,
		UpdatedAt: order.UpdatedAt,
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, status); err != nil {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to warm order status cache")
		}
	}
	return status, nil
}

// AdminList возвращает страницу всех заказов.
func (s *Service) AdminList(ctx context.Context, actor domain.Actor, page Page) ([]domain.Order, error) {
	if !actor.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	page = NormalizePage(page.Limit, page.Offset)
	return s.orders.List(ctx, page.Limit, page.Offset)
}

// AdminGet возвращает любой заказ.
func (s *Service) AdminGet(ctx context.Context, actor domain.Actor, orderID int64) (domain.Order, error) {
	if !actor.IsAdmin() {
		return domain.Order{}, domain.ErrForbidden
	}
	return s.get(ctx, orderID)
}

// ListProducts возвращает активные товары витрины.
func (s *Service) ListProducts(ctx context.Context, page Page) ([]domain.Product, error) {
	page = NormalizePage(page.Limit, page.Offset)
	return s.products.ListActive(ctx, page.Limit, page.Offset)
}

// GetProduct возвращает активный товар.
func (s *Service) GetProduct(ctx context.Context, productID int64) (domain.Product, error) {
	if productID <= 0 {
		return domain.Product{}, fmt.Errorf("%w: invalid product id %d", domain.ErrInvalidInput, productID)
	}
	return s.products.GetActive(ctx, productID)
}

func (s *Service) get(ctx context.Context, orderID int64) (domain.Order, error) {
	if orderID <= 0 {
		return domain.Order{}, fmt.Errorf("%w: invalid order id %d", domain.ErrInvalidInput, orderID)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		if !errors.Is(err, domain.ErrOrderNotFound) {
			s.logger.WithError(err).WithField("order_id", orderID).Error("failed to load order")
		}
		return domain.Order{}, err
	}
	return order, nil
}

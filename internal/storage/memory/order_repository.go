package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// txOrders — OrderLedger внутри memTx.
type txOrders struct {
	tx *memTx
}

func (o txOrders) LockByID(ctx context.Context, orderID int64) (domain.Order, error) {
	if err := o.tx.check(ctx); err != nil {
		return domain.Order{}, err
	}
	order, ok := o.tx.store.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order, nil
}

func (o txOrders) InsertOrder(ctx context.Context, order domain.Order) (int64, error) {
	if err := o.tx.check(ctx); err != nil {
		return 0, err
	}
	store := o.tx.store
	prevSeq := store.nextOrderID
	store.nextOrderID++
	order.ID = store.nextOrderID
	order.Items = nil
	now := store.clock()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}
	store.orders[order.ID] = order

	id := order.ID
	o.tx.record(func() {
		delete(store.orders, id)
		store.nextOrderID = prevSeq
	})
	return id, nil
}

func (o txOrders) InsertLineItems(ctx context.Context, orderID int64, lines []domain.OrderLine) error {
	if err := o.tx.check(ctx); err != nil {
		return err
	}
	store := o.tx.store
	if _, ok := store.orders[orderID]; !ok {
		return domain.ErrOrderNotFound
	}

	before := store.lines[orderID]
	prevSeq := store.nextLineID
	stored := append([]domain.OrderLine(nil), before...)
	for _, line := range lines {
		store.nextLineID++
		line.ID = store.nextLineID
		line.OrderID = orderID
		stored = append(stored, line)
	}
	store.lines[orderID] = stored

	o.tx.record(func() {
		if before == nil {
			delete(store.lines, orderID)
		} else {
			store.lines[orderID] = before
		}
		store.nextLineID = prevSeq
	})
	return nil
}

func (o txOrders) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus, at time.Time) error {
	if err := o.tx.check(ctx); err != nil {
		return err
	}
	store := o.tx.store
	before, ok := store.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	after := before
	after.Status = status
	after.UpdatedAt = at
	store.orders[orderID] = after
	o.tx.record(func() { store.orders[orderID] = before })
	return nil
}

func (o txOrders) ListLineItems(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	if err := o.tx.check(ctx); err != nil {
		return nil, err
	}
	return append([]domain.OrderLine(nil), o.tx.store.lines[orderID]...), nil
}

// orderRepository — чтение заказов вне транзакций записи.
type orderRepository struct {
	store *Store
}

// NewOrderRepository возвращает in-memory OrderReader для локальной разработки и тестов.
func NewOrderRepository(store *Store) domain.OrderReader {
	return &orderRepository{store: store}
}

// Get возвращает заказ с позициями или ErrOrderNotFound.
func (r *orderRepository) Get(ctx context.Context, orderID int64) (domain.Order, error) {
	if err := r.store.acquire(ctx); err != nil {
		return domain.Order{}, err
	}
	defer r.store.release()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return r.withItems(order), nil
}

// ListByUser возвращает заказы пользователя, новые первыми.
func (r *orderRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	if err := r.store.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.store.release()

	result := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if order.UserID == userID {
			result = append(result, r.withItems(order))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// List возвращает страницу всех заказов, новые первыми.
func (r *orderRepository) List(ctx context.Context, limit, offset int) ([]domain.Order, error) {
	if err := r.store.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.store.release()

	all := make([]domain.Order, 0, len(r.store.orders))
	for _, order := range r.store.orders {
		all = append(all, order)
	}
	sortNewestFirst(all)

	page := paginate(all, limit, offset)
	for i := range page {
		page[i] = r.withItems(page[i])
	}
	return page, nil
}

func (r *orderRepository) withItems(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderLine(nil), r.store.lines[order.ID]...)
	return order
}

func sortNewestFirst(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].ID > orders[j].ID
	})
}

var _ domain.OrderReader = (*orderRepository)(nil)

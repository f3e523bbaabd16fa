package orderstatus_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderstatus"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

// recordingTxManager проводит транзакции через memory.Store и запоминает аргументы
// LockByIDs. failIncrement заставляет IncrementStock для товара вернуть ошибку.
type recordingTxManager struct {
	store *memory.Store

	mu            sync.Mutex
	locked        [][]int64
	failIncrement map[int64]error
}

func (m *recordingTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return m.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, recordingTx{Tx: tx, m: m})
	})
}

func (m *recordingTxManager) lockCalls() [][]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]int64(nil), m.locked...)
}

type recordingTx struct {
	domain.Tx
	m *recordingTxManager
}

func (tx recordingTx) Products() domain.ProductStore {
	return recordingProducts{ProductStore: tx.Tx.Products(), m: tx.m}
}

type recordingProducts struct {
	domain.ProductStore
	m *recordingTxManager
}

func (p recordingProducts) LockByIDs(ctx context.Context, ids []int64) ([]domain.Product, error) {
	p.m.mu.Lock()
	p.m.locked = append(p.m.locked, append([]int64(nil), ids...))
	p.m.mu.Unlock()
	return p.ProductStore.LockByIDs(ctx, ids)
}

func (p recordingProducts) IncrementStock(ctx context.Context, productID, qty int64) error {
	p.m.mu.Lock()
	err := p.m.failIncrement[productID]
	p.m.mu.Unlock()
	if err != nil {
		return err
	}
	return p.ProductStore.IncrementStock(ctx, productID, qty)
}

func TestRestockLocksProductsInAscendingOrder(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, customer.ID,
		domain.CartLine{ProductID: 7, Qty: 2},
		domain.CartLine{ProductID: 3, Qty: 1},
	)

	tx := &recordingTxManager{store: f.store}
	machine := orderstatus.NewMachine(tx, orderstatus.WithLogger(quietLogger()))

	res, err := machine.CancelByCustomer(context.Background(), order.ID, customer)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, int64(3), res.Restocked)
	require.Equal(t, [][]int64{{3, 7}}, tx.lockCalls())
	require.Equal(t, int64(10), f.stock(t, 7))
	require.Equal(t, int64(4), f.stock(t, 3))
}

func TestFailedRestockLeavesOrderAndStockUntouched(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, customer.ID,
		domain.CartLine{ProductID: 7, Qty: 2},
		domain.CartLine{ProductID: 3, Qty: 1},
	)
	createdEvents := len(f.outboxEvents(domain.EventOrderCreated))

	tx := &recordingTxManager{store: f.store, failIncrement: map[int64]error{3: errors.New("disk full")}}
	machine := orderstatus.NewMachine(tx, orderstatus.WithLogger(quietLogger()))

	_, err := machine.UpdateByAdmin(context.Background(), order.ID, domain.OrderStatusCancelled, admin)
	require.ErrorContains(t, err, "disk full")

	// Первая строка (товар 7) уже вернулась на склад внутри транзакции и должна откатиться.
	require.Equal(t, int64(8), f.stock(t, 7))
	require.Equal(t, int64(3), f.stock(t, 3))

	stored, err := memory.NewOrderRepository(f.store).Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, stored.Status)
	require.Len(t, f.outboxEvents(domain.EventOrderCreated), createdEvents)
	require.Empty(t, f.outboxEvents(domain.EventOrderStatusChanged))
}

package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// txProducts — ProductStore внутри memTx.
type txProducts struct {
	tx *memTx
}

// LockByIDs возвращает найденные товары в порядке ids. Отсутствующие пропускаются.
func (p txProducts) LockByIDs(ctx context.Context, ids []int64) ([]domain.Product, error) {
	if err := p.tx.check(ctx); err != nil {
		return nil, err
	}
	result := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		if product, ok := p.tx.store.products[id]; ok {
			result = append(result, product)
		}
	}
	return result, nil
}

func (p txProducts) DecrementStock(ctx context.Context, productID, qty int64) (int64, error) {
	if err := p.tx.check(ctx); err != nil {
		return 0, err
	}
	product, ok := p.tx.store.products[productID]
	if !ok || product.Stock < qty {
		return 0, nil
	}
	p.apply(product, product.Stock-qty)
	return 1, nil
}

func (p txProducts) IncrementStock(ctx context.Context, productID, qty int64) error {
	if err := p.tx.check(ctx); err != nil {
		return err
	}
	product, ok := p.tx.store.products[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	p.apply(product, product.Stock+qty)
	return nil
}

func (p txProducts) apply(before domain.Product, stock int64) {
	store := p.tx.store
	after := before
	after.Stock = stock
	after.UpdatedAt = store.clock()
	store.products[before.ID] = after
	p.tx.record(func() { store.products[before.ID] = before })
}

// productRepository — витрина каталога только для чтения.
type productRepository struct {
	store *Store
}

// NewProductRepository создаёт ProductReader поверх Store.
func NewProductRepository(store *Store) domain.ProductReader {
	return &productRepository{store: store}
}

func (r *productRepository) GetActive(ctx context.Context, productID int64) (domain.Product, error) {
	if err := r.store.acquire(ctx); err != nil {
		return domain.Product{}, err
	}
	defer r.store.release()

	product, ok := r.store.products[productID]
	if !ok || !product.Active {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (r *productRepository) ListActive(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	if err := r.store.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.store.release()

	result := make([]domain.Product, 0, len(r.store.products))
	for _, product := range r.store.products {
		if product.Active {
			result = append(result, product)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	return paginate(result, limit, offset), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

var _ domain.ProductReader = (*productRepository)(nil)

package domain

import "context"

// OrderReader — чтение заказов вне транзакций записи.
type OrderReader interface {
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, orderID int64) (Order, error)
	// ListByUser возвращает заказы пользователя с позициями, новые первыми.
	ListByUser(ctx context.Context, userID int64) ([]Order, error)
	// List возвращает страницу всех заказов с позициями, новые первыми.
	List(ctx context.Context, limit, offset int) ([]Order, error)
}

// ProductReader — витрина каталога только для чтения.
type ProductReader interface {
	// GetActive возвращает активный товар или ErrProductNotFound.
	GetActive(ctx context.Context, productID int64) (Product, error)
	ListActive(ctx context.Context, limit, offset int) ([]Product, error)
}

// Pinger проверяет доступность хранилища.
type Pinger interface {
	Ping(ctx context.Context) error
}

package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок ядра. Транспорт сопоставляет их с HTTP-кодами через errors.Is/As.
var (
	// ErrInvalidInput — запрос некорректной формы (пустая корзина, qty <= 0 и т.п.).
	ErrInvalidInput = errors.New("invalid input")
	// ErrProductNotFound — хотя бы один товар из корзины отсутствует.
	ErrProductNotFound = errors.New("one or more products do not exist")
	// ErrOrderNotFound возвращается, если заказ не найден (или не принадлежит пользователю).
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductUnavailable — товар снят с продажи (active = false).
	ErrProductUnavailable = errors.New("product is not available")
	// ErrMixedCurrency — в корзине товары в разных валютах.
	ErrMixedCurrency = errors.New("mixed currencies are not supported")
	// ErrInsufficientStock — не хватает остатка на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrIllegalTransition — переход статуса запрещён таблицей переходов.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrInvariantViolation — нарушен инвариант, недостижимый при корректной работе.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrConflict — конфликт блокировок в хранилище (deadlock, serialization failure, lock timeout).
	ErrConflict = errors.New("storage conflict")
	// ErrForbidden — у актора недостаточно прав.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated — запрос без идентичности.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки ключей идемпотентности.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")

	// Ошибки инвариантов заказа.
	ErrUserRequired       = errors.New("user_id is required")
	ErrCurrencyRequired   = errors.New("currency is required")
	ErrItemsRequired      = errors.New("order must contain at least one item")
	ErrItemQtyInvalid     = errors.New("item qty must be greater than zero")
	ErrItemPriceInvalid   = errors.New("item price must be non-negative")
	ErrItemCurrency       = errors.New("item currency differs from order currency")
	ErrAmountMismatch     = errors.New("order total does not match items sum")
	ErrAmountOverflow     = errors.New("order total overflows int64")
	ErrOrderStatusUnknown = errors.New("unknown order status")
)

// InsufficientStockError несёт подробности о нехватке остатка.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int64
	Available   int64
}

func (e *InsufficientStockError) Error() string {
	if e.ProductName != "" {
		return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductName, e.Requested, e.Available)
	}
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// Is позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// IllegalTransitionError описывает запрещённый переход статуса.
type IllegalTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}

// Is позволяет сравнивать через errors.Is(err, ErrIllegalTransition).
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// IsIdempotencyConflict проверяет, что ключ уже использован (тем же или другим запросом).
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// IsConflict проверяет, что ошибка вызвана конкурентным доступом и запрос можно повторить.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrInsufficientStock)
}

package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, ждёт оплаты или отмены.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — заказ отмечен оплаченным администратором. Терминальный статус.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusCancelled — заказ отменён, остатки возвращены на склад. Терминальный статус.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// transitions — единственное место, где задаются допустимые переходы.
// Терминальные статусы присутствуют с пустым множеством, чтобы Valid работал по той же таблице.
var transitions = map[OrderStatus]map[OrderStatus]struct{}{
	OrderStatusPending: {
		OrderStatusPaid:      {},
		OrderStatusCancelled: {},
	},
	OrderStatusPaid:      {},
	OrderStatusCancelled: {},
}

// ParseOrderStatus разбирает строковое значение статуса.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %w %q", ErrInvalidInput, ErrOrderStatusUnknown, raw)
	}
	return status, nil
}

// Valid проверяет, что статус известен таблице переходов.
func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition проверяет переход s -> next. Переход в тот же статус не считается переходом.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	_, ok := transitions[s][next]
	return ok
}

// OrderLine — позиция заказа. Название, цена и валюта фиксируются на момент checkout
// и больше не меняются.
type OrderLine struct {
	ID             int64
	OrderID        int64
	ProductID      int64
	ProductName    string
	UnitPriceMinor int64
	Currency       string
	Qty            int64
}

// Order агрегирует заголовок заказа и его позиции.
type Order struct {
	ID         int64
	UserID     int64
	TotalMinor int64
	Currency   string
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Items      []OrderLine
}

// ComputeTotal считает Σ(unit_price × qty) в минимальных единицах с проверкой переполнения.
func ComputeTotal(lines []OrderLine) (int64, error) {
	var total int64
	for _, line := range lines {
		sub, err := mulMinor(line.UnitPriceMinor, line.Qty)
		if err != nil {
			return 0, err
		}
		if total, err = addMinor(total, sub); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func mulMinor(price, qty int64) (int64, error) {
	if price < 0 || qty < 0 {
		return 0, ErrItemPriceInvalid
	}
	if qty != 0 && price > math.MaxInt64/qty {
		return 0, ErrAmountOverflow
	}
	return price * qty, nil
}

func addMinor(a, b int64) (int64, error) {
	if a > math.MaxInt64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID <= 0 {
		errs = append(errs, ErrUserRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrOrderStatusUnknown)
	}

	for _, item := range o.Items {
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if item.Currency != o.Currency {
			errs = append(errs, ErrItemCurrency)
		}
	}

	total, err := ComputeTotal(o.Items)
	switch {
	case err != nil:
		errs = append(errs, err)
	case total != o.TotalMinor:
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

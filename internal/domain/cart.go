package domain

import (
	"fmt"
	"sort"
)

const (
	// MaxRawCartLines — грубая граница на входной список до слияния дублей.
	MaxRawCartLines = 200
	// MaxCartLines — максимум различных товаров в одном заказе.
	MaxCartLines = 50
)

// CartLine — строка корзины из запроса. Не хранится.
type CartLine struct {
	ProductID int64
	Qty       int64
}

// NormalizeCart проверяет сырую корзину и сливает строки с одинаковым товаром,
// суммируя количество. Строки идут в порядке первого появления товара.
func NormalizeCart(raw []CartLine) ([]CartLine, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: items must be a non-empty array", ErrInvalidInput)
	}
	if len(raw) > MaxRawCartLines {
		return nil, fmt.Errorf("%w: too many items (max %d)", ErrInvalidInput, MaxRawCartLines)
	}

	index := make(map[int64]int, len(raw))
	merged := make([]CartLine, 0, len(raw))
	for _, line := range raw {
		if line.ProductID <= 0 {
			return nil, fmt.Errorf("%w: invalid product id %d", ErrInvalidInput, line.ProductID)
		}
		if line.Qty <= 0 {
			return nil, fmt.Errorf("%w: invalid qty %d for product %d", ErrInvalidInput, line.Qty, line.ProductID)
		}

		pos, seen := index[line.ProductID]
		if !seen {
			index[line.ProductID] = len(merged)
			merged = append(merged, line)
			continue
		}
		sum, err := addMinor(merged[pos].Qty, line.Qty)
		if err != nil {
			return nil, fmt.Errorf("%w: qty overflow for product %d", ErrInvalidInput, line.ProductID)
		}
		merged[pos].Qty = sum
	}

	if len(merged) > MaxCartLines {
		return nil, fmt.Errorf("%w: too many distinct items (max %d)", ErrInvalidInput, MaxCartLines)
	}
	return merged, nil
}

// LockOrder возвращает уникальные идентификаторы товаров по возрастанию.
// Любая операция, блокирующая несколько строк товаров, берёт блокировки строго
// в этом порядке: так конкурентные checkout и отмены не образуют цикл ожидания.
func LockOrder(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CartProductIDs возвращает идентификаторы товаров нормализованной корзины.
func CartProductIDs(lines []CartLine) []int64 {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

package domain_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestNormalizeCart_MergesDuplicatesInFirstSeenOrder(t *testing.T) {
	lines, err := domain.NormalizeCart([]domain.CartLine{
		{ProductID: 3, Qty: 1},
		{ProductID: 1, Qty: 2},
		{ProductID: 3, Qty: 4},
		{ProductID: 1, Qty: 3},
	})
	require.NoError(t, err)
	require.Equal(t, []domain.CartLine{
		{ProductID: 3, Qty: 5},
		{ProductID: 1, Qty: 5},
	}, lines)
}

func TestNormalizeCart_Rejects(t *testing.T) {
	tooManyRaw := make([]domain.CartLine, domain.MaxRawCartLines+1)
	for i := range tooManyRaw {
		tooManyRaw[i] = domain.CartLine{ProductID: 1, Qty: 1}
	}
	tooManyDistinct := make([]domain.CartLine, domain.MaxCartLines+1)
	for i := range tooManyDistinct {
		tooManyDistinct[i] = domain.CartLine{ProductID: int64(i + 1), Qty: 1}
	}

	cases := []struct {
		name  string
		lines []domain.CartLine
	}{
		{name: "empty", lines: nil},
		{name: "raw bound", lines: tooManyRaw},
		{name: "distinct bound", lines: tooManyDistinct},
		{name: "zero product id", lines: []domain.CartLine{{ProductID: 0, Qty: 1}}},
		{name: "negative product id", lines: []domain.CartLine{{ProductID: -4, Qty: 1}}},
		{name: "zero qty", lines: []domain.CartLine{{ProductID: 1, Qty: 0}}},
		{name: "negative qty", lines: []domain.CartLine{{ProductID: 1, Qty: -1}}},
		{name: "qty overflow", lines: []domain.CartLine{{ProductID: 1, Qty: math.MaxInt64}, {ProductID: 1, Qty: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := domain.NormalizeCart(tc.lines)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNormalizeCart_ExactlyMaxDistinct(t *testing.T) {
	lines := make([]domain.CartLine, domain.MaxCartLines)
	for i := range lines {
		lines[i] = domain.CartLine{ProductID: int64(i + 1), Qty: 1}
	}
	got, err := domain.NormalizeCart(lines)
	require.NoError(t, err)
	require.Len(t, got, domain.MaxCartLines)
}

func TestLockOrder(t *testing.T) {
	require.Equal(t, []int64{1, 2, 5, 9}, domain.LockOrder([]int64{9, 2, 5, 2, 1, 9}))
	require.Empty(t, domain.LockOrder(nil))
}

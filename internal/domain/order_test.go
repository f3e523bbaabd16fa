package domain_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:         1,
		UserID:     42,
		TotalMinor: 1500,
		Currency:   "USD",
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		Items: []domain.OrderLine{
			{ID: 1, OrderID: 1, ProductID: 7, ProductName: "Mug", UnitPriceMinor: 500, Currency: "USD", Qty: 3},
		},
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{name: "no user", mut: func(o *domain.Order) { o.UserID = 0 }, want: domain.ErrUserRequired},
		{name: "no currency", mut: func(o *domain.Order) { o.Currency = ""; o.Items[0].Currency = "" }, want: domain.ErrCurrencyRequired},
		{name: "no items", mut: func(o *domain.Order) { o.Items = nil; o.TotalMinor = 0 }, want: domain.ErrItemsRequired},
		{name: "qty invalid", mut: func(o *domain.Order) { o.Items[0].Qty = 0; o.TotalMinor = 0 }, want: domain.ErrItemQtyInvalid},
		{name: "line currency differs", mut: func(o *domain.Order) { o.Items[0].Currency = "EUR" }, want: domain.ErrItemCurrency},
		{name: "amount mismatch", mut: func(o *domain.Order) { o.TotalMinor = 999 }, want: domain.ErrAmountMismatch},
		{name: "unknown status", mut: func(o *domain.Order) { o.Status = "shipped" }, want: domain.ErrOrderStatusUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			errs := order.ValidateInvariants()
			if len(errs) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
			if !errors.Is(errors.Join(errs...), tc.want) {
				t.Fatalf("expected %v among %v", tc.want, errs)
			}
		})
	}
}

func TestComputeTotal(t *testing.T) {
	lines := []domain.OrderLine{
		{UnitPriceMinor: 1000, Qty: 5},
		{UnitPriceMinor: 199, Qty: 3},
	}
	total, err := domain.ComputeTotal(lines)
	if err != nil {
		t.Fatalf("ComputeTotal failed: %v", err)
	}
	if total != 5597 {
		t.Fatalf("expected total 5597, got %d", total)
	}
}

func TestComputeTotal_Overflow(t *testing.T) {
	cases := map[string][]domain.OrderLine{
		"multiplication": {{UnitPriceMinor: math.MaxInt64 / 2, Qty: 3}},
		"addition": {
			{UnitPriceMinor: math.MaxInt64 - 1, Qty: 1},
			{UnitPriceMinor: 2, Qty: 1},
		},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := domain.ComputeTotal(lines); !errors.Is(err, domain.ErrAmountOverflow) {
				t.Fatalf("expected ErrAmountOverflow, got %v", err)
			}
		})
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.OrderStatus
		want     bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusPaid, true},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusPending, domain.OrderStatusPending, false},
		{domain.OrderStatusPaid, domain.OrderStatusCancelled, false},
		{domain.OrderStatusPaid, domain.OrderStatusPending, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, false},
		{domain.OrderStatusCancelled, domain.OrderStatusPaid, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}

	if domain.OrderStatusPending.Terminal() {
		t.Error("pending must not be terminal")
	}
	if !domain.OrderStatusPaid.Terminal() || !domain.OrderStatusCancelled.Terminal() {
		t.Error("paid and cancelled must be terminal")
	}
}

func TestParseOrderStatus(t *testing.T) {
	status, err := domain.ParseOrderStatus(" Cancelled ")
	if err != nil {
		t.Fatalf("ParseOrderStatus failed: %v", err)
	}
	if status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", status)
	}

	if _, err := domain.ParseOrderStatus("shipped"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCachedStatusSupersedes(t *testing.T) {
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	entry := func(status domain.OrderStatus, at time.Time) domain.CachedStatus {
		return domain.CachedStatus{OrderID: 1, Status: status, UpdatedAt: at}
	}

	cases := []struct {
		name string
		next domain.CachedStatus
		prev domain.CachedStatus
		want bool
	}{
		{"newer terminal over pending", entry(domain.OrderStatusPaid, base.Add(time.Second)), entry(domain.OrderStatusPending, base), true},
		{"same entry is rewritten", entry(domain.OrderStatusPending, base), entry(domain.OrderStatusPending, base), true},
		{"late pending after cancel", entry(domain.OrderStatusPending, base), entry(domain.OrderStatusCancelled, base.Add(time.Second)), false},
		{"pending with newer stamp after paid", entry(domain.OrderStatusPending, base.Add(time.Hour)), entry(domain.OrderStatusPaid, base), false},
		{"older terminal over newer terminal", entry(domain.OrderStatusCancelled, base), entry(domain.OrderStatusPaid, base.Add(time.Second)), false},
		{"anything over empty entry", entry(domain.OrderStatusPending, base), domain.CachedStatus{}, true},
	}

	for _, tc := range cases {
		if got := tc.next.Supersedes(tc.prev); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

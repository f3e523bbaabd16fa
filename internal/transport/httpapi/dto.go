package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type envelope struct {
	Message string `json:"message,omitempty"`
	Data    any    `json:"data"`
}

type checkoutRequest struct {
	Items []checkoutItem `json:"items"`
}

// checkoutItem принимает количество и как qty, и как quantity.
type checkoutItem struct {
	ProductID int64  `json:"id_product"`
	Qty       *int64 `json:"qty,omitempty"`
	Quantity  *int64 `json:"quantity,omitempty"`
}

func (r checkoutRequest) cartLines() []domain.CartLine {
	lines := make([]domain.CartLine, 0, len(r.Items))
	for _, item := range r.Items {
		var qty int64
		switch {
		case item.Qty != nil:
			qty = *item.Qty
		case item.Quantity != nil:
			qty = *item.Quantity
		}
		lines = append(lines, domain.CartLine{ProductID: item.ProductID, Qty: qty})
	}
	return lines
}

type statusRequest struct {
	Status string `json:"status"`
}

type checkoutResult struct {
	ID         int64              `json:"id_order"`
	TotalCents int64              `json:"total_cents"`
	Currency   string             `json:"currency"`
	Status     domain.OrderStatus `json:"status"`
}

type orderItemDTO struct {
	ProductID   int64  `json:"id_product"`
	ProductName string `json:"product_name"`
	PriceCents  int64  `json:"price_cents"`
	Currency    string `json:"currency"`
	Quantity    int64  `json:"quantity"`
}

type orderDTO struct {
	ID         int64              `json:"id_order"`
	UserID     int64              `json:"id_user"`
	TotalCents int64              `json:"total_cents"`
	Currency   string             `json:"currency"`
	Status     domain.OrderStatus `json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Items      []orderItemDTO     `json:"items"`
}

func toOrderDTO(order domain.Order) orderDTO {
	items := make([]orderItemDTO, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, orderItemDTO{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			PriceCents:  line.UnitPriceMinor,
			Currency:    line.Currency,
			Quantity:    line.Qty,
		})
	}
	return orderDTO{
		ID:         order.ID,
		UserID:     order.UserID,
		TotalCents: order.TotalMinor,
		Currency:   order.Currency,
		Status:     order.Status,
		CreatedAt:  order.CreatedAt,
		UpdatedAt:  order.UpdatedAt,
		Items:      items,
	}
}

func toOrderDTOs(orders []domain.Order) []orderDTO {
	out := make([]orderDTO, 0, len(orders))
	for _, order := range orders {
		out = append(out, toOrderDTO(order))
	}
	return out
}

type orderStatusDTO struct {
	ID        int64              `json:"id_order"`
	Status    domain.OrderStatus `json:"status"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type productDTO struct {
	ID         int64  `json:"id_product"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
	Stock      int64  `json:"stock"`
}

func toProductDTO(p domain.Product) productDTO {
	return productDTO{
		ID:         p.ID,
		Name:       p.Name,
		PriceCents: p.PriceMinor,
		Currency:   p.Currency,
		Stock:      p.Stock,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package domain

import "time"

// Product — строка каталога в том виде, в каком её читает ядро заказов.
// Каталог владеет товаром; ядро меняет только Stock.
type Product struct {
	ID         int64
	Name       string
	PriceMinor int64
	Currency   string
	Stock      int64
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	opTimeout = 5 * time.Second

	orderColumns = `id, user_id, total_minor, currency, status, created_at, updated_at`
	lineColumns  = `id, order_id, product_id, product_name, unit_price_minor, currency, qty`
)

// orderLedger — OrderLedger поверх *sql.Tx.
type orderLedger struct {
	q queryer
}

func (l orderLedger) LockByID(ctx context.Context, orderID int64) (domain.Order, error) {
	order, err := scanOrder(l.q.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, classify("lock order", err)
	}
	return order, nil
}

func (l orderLedger) InsertOrder(ctx context.Context, order domain.Order) (int64, error) {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.CreatedAt
	}

	var id int64
	err := l.q.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, total_minor, currency, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`,
		order.UserID, order.TotalMinor, order.Currency, string(order.Status), order.CreatedAt, order.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, classify("insert order", err)
	}
	return id, nil
}

func (l orderLedger) InsertLineItems(ctx context.Context, orderID int64, lines []domain.OrderLine) error {
	for _, line := range lines {
		if _, err := l.q.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, unit_price_minor, currency, qty)
			VALUES ($1,$2,$3,$4,$5,$6)
		`,
			orderID, line.ProductID, line.ProductName, line.UnitPriceMinor, line.Currency, line.Qty,
		); err != nil {
			return classify("insert order item", err)
		}
	}
	return nil
}

func (l orderLedger) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus, at time.Time) error {
	res, err := l.q.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
	`, orderID, string(status), at)
	if err != nil {
		return classify("update order status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for order status: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (l orderLedger) ListLineItems(ctx context.Context, orderID int64) ([]domain.OrderLine, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT `+lineColumns+`
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, classify("list order items", err)
	}
	defer rows.Close()

	var result []domain.OrderLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		result = append(result, line)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate order items", err)
	}
	return result, nil
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderReader.
func NewOrderRepository(store *Store) domain.OrderReader {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Get(ctx context.Context, orderID int64) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	orders, err := r.attachItems(ctx, []domain.Order{order})
	if err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
}

func (r *orderRepository) List(ctx context.Context, limit, offset int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return r.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
}

func (r *orderRepository) query(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}

	return r.attachItems(ctx, orders)
}

// attachItems загружает позиции всех заказов одним запросом.
func (r *orderRepository) attachItems(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]int64, 0, len(orders))
	index := make(map[int64]int, len(orders))
	for i, order := range orders {
		ids = append(ids, order.ID)
		index[order.ID] = i
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+lineColumns+`
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if i, ok := index[line.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, line)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return orders, nil
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order     domain.Order
		statusRaw string
	)
	if err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.TotalMinor,
		&order.Currency,
		&statusRaw,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatus(statusRaw)
	if !order.Status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: %q for order %d", domain.ErrOrderStatusUnknown, statusRaw, order.ID)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func scanLine(row rowScanner) (domain.OrderLine, error) {
	var line domain.OrderLine
	err := row.Scan(
		&line.ID,
		&line.OrderID,
		&line.ProductID,
		&line.ProductName,
		&line.UnitPriceMinor,
		&line.Currency,
		&line.Qty,
	)
	return line, err
}

var _ domain.OrderReader = (*orderRepository)(nil)

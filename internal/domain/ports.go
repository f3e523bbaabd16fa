package domain

import (
	"context"
	"time"
)

// ProductStore — доступ к строкам товаров внутри транзакции.
type ProductStore interface {
	// LockByIDs блокирует строки товаров до конца транзакции и возвращает найденные.
	// ids должны быть уникальными и отсортированными по возрастанию (см. LockOrder).
	LockByIDs(ctx context.Context, ids []int64) ([]Product, error)
	// DecrementStock уменьшает остаток при условии stock >= qty и возвращает число затронутых строк.
	DecrementStock(ctx context.Context, productID, qty int64) (int64, error)
	// IncrementStock возвращает qty единиц на склад.
	IncrementStock(ctx context.Context, productID, qty int64) error
}

// OrderLedger — запись заказов и позиций внутри транзакции.
type OrderLedger interface {
	// LockByID блокирует заголовок заказа. Позиции не загружаются.
	LockByID(ctx context.Context, orderID int64) (Order, error)
	// InsertOrder сохраняет заголовок и возвращает присвоенный идентификатор.
	InsertOrder(ctx context.Context, order Order) (int64, error)
	// InsertLineItems сохраняет позиции заказа. Позиции после вставки не меняются.
	InsertLineItems(ctx context.Context, orderID int64, lines []OrderLine) error
	// UpdateStatus меняет статус и updated_at заголовка.
	UpdateStatus(ctx context.Context, orderID int64, status OrderStatus, at time.Time) error
	// ListLineItems возвращает позиции заказа в порядке вставки.
	ListLineItems(ctx context.Context, orderID int64) ([]OrderLine, error)
}

// OutboxWriter ставит событие в transactional outbox в рамках текущей транзакции.
type OutboxWriter interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
}

// TimelineWriter добавляет событие таймлайна в рамках текущей транзакции.
type TimelineWriter interface {
	Append(ctx context.Context, event TimelineEvent) error
}

// Tx — единица работы. Всё, что записано через её аксессоры, фиксируется или откатывается вместе.
type Tx interface {
	Products() ProductStore
	Orders() OrderLedger
	Outbox() OutboxWriter
	Timeline() TimelineWriter
}

// TxManager выполняет fn в транзакции: commit, если fn вернула nil, иначе rollback.
// Откат гарантирован на любом пути выхода, включая панику и отмену ctx.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository — сторона outbox, которую читает воркер публикации.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository читает таймлайн заказа.
type TimelineRepository interface {
	List(ctx context.Context, orderID int64) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	// Delete освобождает ключ, чтобы запрос можно было повторить с тем же ключом.
	Delete(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OrderStatusCache — быстрый кэш статусов для поллинга клиентом. Источник истины — ledger.
type OrderStatusCache interface {
	Get(ctx context.Context, orderID int64) (CachedStatus, bool, error)
	Set(ctx context.Context, status CachedStatus) error
}

// CachedStatus — то, что хранится в кэше статусов.
type CachedStatus struct {
	OrderID   int64       `json:"order_id"`
	UserID    int64       `json:"user_id"`
	Status    OrderStatus `json:"status"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Supersedes сообщает, может ли запись заменить prev. События приходят не по порядку
// (повтор из DLQ, гонка записей после commit): терминальный статус не откатывается
// к промежуточному, более старая запись не перекрывает более новую.
func (s CachedStatus) Supersedes(prev CachedStatus) bool {
	if prev.Status.Terminal() && !s.Status.Terminal() {
		return false
	}
	return !prev.UpdatedAt.After(s.UpdatedAt)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

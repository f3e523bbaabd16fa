package memory

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var errTxClosed = errors.New("memory: transaction already finished")

// Store — in-memory хранилище для локальной разработки и тестов.
// Все транзакции и чтения сериализуются одним семафором: это эквивалент
// блокировки всех строк сразу, поэтому порядок блокировок здесь не важен,
// но контракт портов (LockByIDs в порядке возрастания) соблюдается.
type Store struct {
	sem   chan struct{}
	clock func() time.Time

	products map[int64]domain.Product
	orders   map[int64]domain.Order
	lines    map[int64][]domain.OrderLine
	outbox   map[string]*outboxRecord
	// outboxSeq хранит порядок вставки для PullPending.
	outboxSeq []string
	timeline  map[int64][]domain.TimelineEvent

	nextProductID int64
	nextOrderID   int64
	nextLineID    int64
}

// Option настраивает Store.
type Option func(*Store)

// WithClock подменяет источник времени (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStore создаёт пустое хранилище.
func NewStore(options ...Option) *Store {
	s := &Store{
		sem:      make(chan struct{}, 1),
		clock:    func() time.Time { return time.Now().UTC() },
		products: make(map[int64]domain.Product),
		orders:   make(map[int64]domain.Order),
		lines:    make(map[int64][]domain.OrderLine),
		outbox:   make(map[string]*outboxRecord),
		timeline: make(map[int64][]domain.TimelineEvent),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	<-s.sem
}

// Ping всегда успешен, пока контекст жив.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// SeedProduct добавляет товар в каталог. Если ID не задан, присваивает следующий.
func (s *Store) SeedProduct(p domain.Product) domain.Product {
	s.sem <- struct{}{}
	defer s.release()

	if p.ID == 0 {
		p.ID = s.nextProductID + 1
	}
	if p.ID > s.nextProductID {
		s.nextProductID = p.ID
	}
	now := s.clock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.products[p.ID] = p
	return p
}

// Product возвращает снимок товара независимо от флага active (используется в тестах).
func (s *Store) Product(id int64) (domain.Product, bool) {
	s.sem <- struct{}{}
	defer s.release()

	p, ok := s.products[id]
	return p, ok
}

// WithinTx выполняет fn атомарно. При ошибке, панике или отмене ctx все изменения откатываются.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	tx := &memTx{store: s}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
			return
		}
		tx.closed = true
	}()

	if err = ctx.Err(); err != nil {
		return err
	}
	if err = fn(ctx, tx); err != nil {
		return err
	}
	// Транзакция, пережившая свой дедлайн, не фиксируется.
	return ctx.Err()
}

// memTx копит журнал отката; изменения пишутся сразу в карты Store.
type memTx struct {
	store  *Store
	undo   []func()
	closed bool
}

func (tx *memTx) record(undo func()) {
	tx.undo = append(tx.undo, undo)
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.closed = true
}

func (tx *memTx) check(ctx context.Context) error {
	if tx.closed {
		return errTxClosed
	}
	return ctx.Err()
}

func (tx *memTx) Products() domain.ProductStore { return txProducts{tx} }

func (tx *memTx) Orders() domain.OrderLedger { return txOrders{tx} }

func (tx *memTx) Outbox() domain.OutboxWriter { return txOutbox{tx} }

func (tx *memTx) Timeline() domain.TimelineWriter { return txTimeline{tx} }

var (
	_ domain.TxManager = (*Store)(nil)
	_ domain.Pinger    = (*Store)(nil)
)

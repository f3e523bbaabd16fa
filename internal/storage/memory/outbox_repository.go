package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	createdAt  time.Time
	updatedAt  time.Time
}

// txOutbox — OutboxWriter внутри memTx.
type txOutbox struct {
	tx *memTx
}

// Enqueue сохраняет событие со статусом `pending`.
func (o txOutbox) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := o.tx.check(ctx); err != nil {
		return domain.OutboxMessage{}, err
	}
	store := o.tx.store
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := store.clock()
	store.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		createdAt: now,
		updatedAt: now,
	}
	store.outboxSeq = append(store.outboxSeq, msg.ID)

	id := msg.ID
	o.tx.record(func() {
		delete(store.outbox, id)
		store.outboxSeq = store.outboxSeq[:len(store.outboxSeq)-1]
	})
	return msg, nil
}

// outboxRepository — сторона outbox для воркера публикации.
type outboxRepository struct {
	store *Store
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository(store *Store) *outboxRepository {
	return &outboxRepository{store: store}
}

// PullPending возвращает до limit сообщений со статусом `pending` в порядке вставки.
func (r *outboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := r.store.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.store.release()

	if limit <= 0 {
		limit = 100
	}

	result := make([]domain.OutboxMessage, 0, limit)
	for _, id := range r.store.outboxSeq {
		rec := r.store.outbox[id]
		if rec == nil || rec.status != outboxStatusPending {
			continue
		}
		result = append(result, rec.msg)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *outboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := r.store.acquire(ctx); err != nil {
		return domain.OutboxStats{}, err
	}
	defer r.store.release()

	var stats domain.OutboxStats
	for _, rec := range r.store.outbox {
		if rec.status != outboxStatusPending {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || rec.createdAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = rec.createdAt
		}
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *outboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *outboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, outboxStatusFailed)
}

func (r *outboxRepository) markStatus(ctx context.Context, id, status string) error {
	if err := r.store.acquire(ctx); err != nil {
		return err
	}
	defer r.store.release()

	record, ok := r.store.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = r.store.clock()
	return nil
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (r *outboxRepository) AllPending() []domain.OutboxMessage {
	r.store.sem <- struct{}{}
	defer r.store.release()

	result := make([]domain.OutboxMessage, 0, len(r.store.outboxSeq))
	for _, id := range r.store.outboxSeq {
		if rec := r.store.outbox[id]; rec != nil && rec.status == outboxStatusPending {
			result = append(result, rec.msg)
		}
	}
	return result
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)

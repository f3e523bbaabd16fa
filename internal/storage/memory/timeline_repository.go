package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// txTimeline — TimelineWriter внутри memTx.
type txTimeline struct {
	tx *memTx
}

// Append добавляет событие в хранилище.
func (t txTimeline) Append(ctx context.Context, event domain.TimelineEvent) error {
	if err := t.tx.check(ctx); err != nil {
		return err
	}
	store := t.tx.store
	if event.Occurred.IsZero() {
		event.Occurred = store.clock()
	}
	before := store.timeline[event.OrderID]
	store.timeline[event.OrderID] = append(append([]domain.TimelineEvent(nil), before...), event)

	orderID := event.OrderID
	t.tx.record(func() {
		if before == nil {
			delete(store.timeline, orderID)
			return
		}
		store.timeline[orderID] = before
	})
	return nil
}

// timelineRepository читает события в памяти (для разработки/тестов).
type timelineRepository struct {
	store *Store
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{store: store}
}

// List возвращает события заказа в хронологическом порядке.
func (r *timelineRepository) List(ctx context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	if err := r.store.acquire(ctx); err != nil {
		return nil, err
	}
	defer r.store.release()

	result := append([]domain.TimelineEvent(nil), r.store.timeline[orderID]...)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Occurred.Before(result[j].Occurred)
	})
	return result, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)

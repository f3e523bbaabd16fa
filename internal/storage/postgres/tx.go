package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// WithinTx выполняет fn в одной транзакции. Rollback гарантирован на любом пути
// выхода: ошибка fn, паника, отмена ctx (database/sql откатывает tx сам).
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	// lock_timeout не параметризуется; значение задаётся целым числом миллисекунд.
	if _, err = sqlTx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return classify("set lock_timeout", err)
	}

	if err = fn(ctx, &pgTx{q: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

type pgTx struct {
	q queryer
}

func (t *pgTx) Products() domain.ProductStore { return productStore{q: t.q} }

func (t *pgTx) Orders() domain.OrderLedger { return orderLedger{q: t.q} }

func (t *pgTx) Outbox() domain.OutboxWriter { return outboxWriter{q: t.q} }

func (t *pgTx) Timeline() domain.TimelineWriter { return timelineWriter{q: t.q} }

var (
	_ domain.TxManager = (*Store)(nil)
	_ domain.Pinger    = (*Store)(nil)
)

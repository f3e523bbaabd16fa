package app

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// background запускает долгоживущие воркеры и дожидается их при остановке.
type background struct {
	logger *log.Entry
	mu     sync.Mutex
	cancel []context.CancelFunc
	wg     sync.WaitGroup
}

func newBackground(logger *log.Entry) *background {
	return &background{logger: logger}
}

// start запускает run в отдельной горутине с собственным контекстом, производным от ctx.
func (b *background) start(ctx context.Context, name string, run func(ctx context.Context)) {
	workerCtx, cancel := context.WithCancel(ctx)
	b.mu.Lock()
	b.cancel = append(b.cancel, cancel)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.logger.WithField("worker", name).Info("worker started")
		run(workerCtx)
		b.logger.WithField("worker", name).Info("worker stopped")
	}()
}

// stop отменяет все воркеры и ждёт их не дольше shutdownTimeout.
func (b *background) stop() {
	b.mu.Lock()
	for _, cancel := range b.cancel {
		cancel()
	}
	b.cancel = nil
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		b.logger.Warn("background workers did not stop in time")
	}
}

package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultTTL — сколько хранится ответ по ключу.
	DefaultTTL = 24 * time.Hour
	// MaxKeyLength — ограничение длины пользовательского ключа.
	MaxKeyLength = 128
)

// ErrInFlight — запрос с тем же ключом ещё выполняется.
var ErrInFlight = errors.New("request with the same idempotency key is already processing")

// Request описывает повторяемый запрос. Ключ действует в пределах Scope и пользователя.
type Request struct {
	Scope   string
	ActorID int64
	Key     string
	Body    []byte
}

func (r Request) storageKey() string {
	return r.Scope + ":" + strconv.FormatInt(r.ActorID, 10) + ":" + strings.TrimSpace(r.Key)
}

func (r Request) hash() string {
	sum := sha256.Sum256(append([]byte(r.Scope+"\n"), r.Body...))
	return hex.EncodeToString(sum[:])
}

// Response — ответ, который сохраняется и отдаётся повторно.
type Response struct {
	Status int
	Body   []byte
}

// Guard выполняет обработчик не более одного раза на ключ и повторяет сохранённый ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
}

// NewGuard создаёт guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}
	return &Guard{repo: repo, ttl: ttl, logger: logger}
}

// Do выполняет handler, если ключ встречается впервые. Иначе возвращает сохранённый
// ответ с replayed=true. Пустой ключ отключает защиту.
//
// Ошибки: domain.ErrIdempotencyHashMismatch (ключ уже использован с другим телом),
// ErrInFlight (первый запрос ещё выполняется), domain.ErrInvalidInput (слишком длинный ключ).
func (g *Guard) Do(ctx context.Context, req Request, handler func(ctx context.Context) Response) (Response, bool, error) {
	if g == nil || g.repo == nil || strings.TrimSpace(req.Key) == "" {
		return handler(ctx), false, nil
	}
	if len(strings.TrimSpace(req.Key)) > MaxKeyLength {
		return Response{}, false, fmt.Errorf("%w: idempotency key is longer than %d", domain.ErrInvalidInput, MaxKeyLength)
	}

	key := req.storageKey()
	record, err := g.repo.CreateProcessing(ctx, key, req.hash(), time.Now().UTC().Add(g.ttl))
	if err != nil {
		return g.replay(err, record)
	}

	resp := handler(ctx)
	// Клиент мог отключиться, но результат уже зафиксирован и должен быть сохранён.
	g.store(context.WithoutCancel(ctx), key, resp)
	return resp, false, nil
}

func (g *Guard) replay(createErr error, record domain.IdempotencyRecord) (Response, bool, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Response{}, false, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Finished():
			status := record.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			return Response{Status: status, Body: record.ResponseBody}, true, nil
		case record.Status == domain.IdempotencyStatusProcessing:
			return Response{}, false, ErrInFlight
		default:
			return Response{}, false, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		return Response{}, false, fmt.Errorf("create idempotency record: %w", createErr)
	}
}

// store сохраняет ответ. Ответы, после которых повтор имеет смысл (конфликт блокировок,
// внутренняя ошибка), не сохраняются: ключ освобождается.
func (g *Guard) store(ctx context.Context, key string, resp Response) {
	entry := g.logger.WithFields(log.Fields{"idempotency_key": key, "status": resp.Status})

	var err error
	switch {
	case resp.Status >= http.StatusInternalServerError || resp.Status == http.StatusConflict:
		err = g.repo.Delete(ctx, key)
	case resp.Status >= http.StatusOK && resp.Status < http.StatusMultipleChoices:
		err = g.repo.MarkDone(ctx, key, resp.Body, resp.Status)
	default:
		err = g.repo.MarkFailed(ctx, key, resp.Body, resp.Status)
	}
	if err != nil {
		entry.WithError(err).Warn("failed to store idempotent response")
	}
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// fakeRedis хранит hash-записи в карте и повторяет логику скрипта setIfNewer.
// Первый EvalSha отвечает NOSCRIPT, как redis до загрузки скрипта.
type fakeRedis struct {
	hashes  map[string]map[string]string
	ttls    map[string]time.Duration
	loaded  bool
	evals   int
	failErr error
}

// replyError — ошибка ответа сервера, как её видит go-redis.
type replyError string

func (e replyError) Error() string { return string(e) }
func (replyError) RedisError()     {}

var _ redis.Error = replyError("")

func newFakeRedis() *fakeRedis {
	return &fakeRedis{hashes: map[string]map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) HGet(_ context.Context, key, field string) *redis.StringCmd {
	if f.failErr != nil {
		return redis.NewStringResult("", f.failErr)
	}
	v, ok := f.hashes[key][field]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	if f.failErr != nil {
		return redis.NewCmdResult(nil, f.failErr)
	}
	if !f.loaded || sha1 != setIfNewerScript.Hash() {
		return redis.NewCmdResult(nil, replyError("NOSCRIPT No matching script. Please use EVAL."))
	}
	return f.run(keys, args)
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	if f.failErr != nil {
		return redis.NewCmdResult(nil, f.failErr)
	}
	if script != setIfNewerSource {
		return redis.NewCmdResult(nil, errors.New("unexpected script"))
	}
	f.loaded = true
	return f.run(keys, args)
}

func (f *fakeRedis) run(keys []string, args []interface{}) *redis.Cmd {
	f.evals++
	key := keys[0]
	data, ts, terminal := fmt.Sprint(args[0]), fmt.Sprint(args[1]), fmt.Sprint(args[2])
	ttl, _ := strconv.ParseInt(fmt.Sprint(args[3]), 10, 64)

	if cur, ok := f.hashes[key]; ok {
		if cur[fieldTerminal] == "1" && terminal == "0" {
			return redis.NewCmdResult(int64(0), nil)
		}
		curTS, _ := strconv.ParseInt(cur[fieldTS], 10, 64)
		newTS, _ := strconv.ParseInt(ts, 10, 64)
		if curTS > newTS {
			return redis.NewCmdResult(int64(0), nil)
		}
	}
	f.hashes[key] = map[string]string{fieldData: data, fieldTS: ts, fieldTerminal: terminal}
	f.ttls[key] = time.Duration(ttl) * time.Millisecond
	return redis.NewCmdResult(int64(1), nil)
}

func (f *fakeRedis) Ping(context.Context) *redis.StatusCmd {
	if f.failErr != nil {
		return redis.NewStatusResult("", f.failErr)
	}
	return redis.NewStatusResult("PONG", nil)
}

func TestStatusCache_SetGet(t *testing.T) {
	fake := newFakeRedis()
	c := NewStatusCache(fake, 0)
	ctx := context.Background()
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := c.Get(ctx, 10)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Set(ctx, domain.CachedStatus{OrderID: 10, UserID: 3, Status: domain.OrderStatusPaid, UpdatedAt: updated}))
	require.Equal(t, DefaultTTL, fake.ttls["storefront:order_status:10"])

	got, ok, err := c.Get(ctx, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), got.UserID)
	require.Equal(t, domain.OrderStatusPaid, got.Status)
	require.True(t, updated.Equal(got.UpdatedAt))

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(fake.hashes[Key(10)][fieldData]), &raw))
	require.Equal(t, "paid", raw["status"])
}

func TestStatusCache_Errors(t *testing.T) {
	fake := newFakeRedis()
	c := NewStatusCache(fake, time.Minute)
	ctx := context.Background()

	fake.hashes[Key(1)] = map[string]string{fieldData: "not json"}
	_, _, err := c.Get(ctx, 1)
	require.Error(t, err)

	fake.failErr = errors.New("connection refused")
	_, _, err = c.Get(ctx, 1)
	require.ErrorContains(t, err, "connection refused")
	require.Error(t, c.Set(ctx, domain.CachedStatus{OrderID: 1}))
	require.Error(t, c.Ping(ctx))
}

func TestStatusCache_SetKeepsNewerAndTerminalStatus(t *testing.T) {
	fake := newFakeRedis()
	c := NewStatusCache(fake, time.Minute)
	ctx := context.Background()
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cancelledAt := createdAt.Add(time.Minute)

	applied, err := c.set(ctx, domain.CachedStatus{OrderID: 7, UserID: 1, Status: domain.OrderStatusCancelled, UpdatedAt: cancelledAt})
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, time.Minute, fake.ttls[Key(7)])

	// Запоздавшее order.created после отмены.
	applied, err = c.set(ctx, domain.CachedStatus{OrderID: 7, UserID: 1, Status: domain.OrderStatusPending, UpdatedAt: createdAt})
	require.NoError(t, err)
	require.False(t, applied)

	// Даже со свежей меткой промежуточный статус не заменяет терминальный.
	applied, err = c.set(ctx, domain.CachedStatus{OrderID: 7, UserID: 1, Status: domain.OrderStatusPending, UpdatedAt: cancelledAt.Add(time.Hour)})
	require.NoError(t, err)
	require.False(t, applied)

	got, ok, err := c.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.OrderStatusCancelled, got.Status)
	require.True(t, cancelledAt.Equal(got.UpdatedAt))

	// Скрипт загружен первым Eval, дальше работает EvalSha.
	require.True(t, fake.loaded)
	require.Equal(t, 3, fake.evals)
}

func TestStatusCache_SetReplacesOlderPending(t *testing.T) {
	fake := newFakeRedis()
	c := NewStatusCache(fake, 0)
	ctx := context.Background()
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, c.Set(ctx, domain.CachedStatus{OrderID: 8, Status: domain.OrderStatusPending, UpdatedAt: createdAt}))
	require.NoError(t, c.Set(ctx, domain.CachedStatus{OrderID: 8, Status: domain.OrderStatusPaid, UpdatedAt: createdAt.Add(time.Second)}))

	got, ok, err := c.Get(ctx, 8)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.OrderStatusPaid, got.Status)
}

func TestNoop(t *testing.T) {
	var c Noop
	require.NoError(t, c.Set(context.Background(), domain.CachedStatus{OrderID: 1}))
	_, ok, err := c.Get(context.Background(), 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewClientOptions(t *testing.T) {
	client := NewClient("localhost:6379", "", 2)
	t.Cleanup(func() { _ = client.Close() })
	require.Equal(t, "localhost:6379", client.Options().Addr)
	require.Equal(t, 2, client.Options().DB)
}

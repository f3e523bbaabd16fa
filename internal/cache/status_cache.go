package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// KeyPrefix — префикс ключей статусов заказов.
	KeyPrefix = "storefront:order_status:"
	// DefaultTTL — время жизни записи. Кэш только ускоряет поллинг, источник истины остаётся в ledger.
	DefaultTTL = 5 * time.Minute
)

// commander — подмножество команд redis, которое использует кэш. *redis.Client его реализует.
type commander interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Запись хранится в hash: data — JSON для чтения, ts и terminal — для сравнения
// в скрипте. ts в микросекундах, чтобы число точно помещалось в double Lua.
const (
	fieldData     = "data"
	fieldTS       = "ts"
	fieldTerminal = "terminal"
)

// setIfNewerSource пишет запись, только если она не старее текущей и не откатывает
// терминальный статус. Возвращает 1, если запись применена.
const setIfNewerSource = `
local cur_ts = redis.call('HGET', KEYS[1], 'ts')
if cur_ts then
	if redis.call('HGET', KEYS[1], 'terminal') == '1' and ARGV[3] == '0' then
		return 0
	end
	if tonumber(cur_ts) > tonumber(ARGV[2]) then
		return 0
	end
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'ts', ARGV[2], 'terminal', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`

var setIfNewerScript = redis.NewScript(setIfNewerSource)

// NewClient создаёт клиента redis с короткими таймаутами: кэш не должен тормозить запросы.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

// StatusCache хранит статусы заказов в redis в виде JSON.
type StatusCache struct {
	client commander
	ttl    time.Duration
}

// NewStatusCache создаёт кэш поверх клиента redis. ttl <= 0 заменяется на DefaultTTL.
func NewStatusCache(client commander, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StatusCache{client: client, ttl: ttl}
}

// Key возвращает ключ redis для заказа.
func Key(orderID int64) string {
	return KeyPrefix + strconv.FormatInt(orderID, 10)
}

// Get читает статус. Отсутствие ключа возвращается как (zero, false, nil).
func (c *StatusCache) Get(ctx context.Context, orderID int64) (domain.CachedStatus, bool, error) {
	raw, err := c.client.HGet(ctx, Key(orderID), fieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CachedStatus{}, false, nil
	}
	if err != nil {
		return domain.CachedStatus{}, false, fmt.Errorf("redis get order status: %w", err)
	}

	var status domain.CachedStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return domain.CachedStatus{}, false, fmt.Errorf("decode cached order status: %w", err)
	}
	return status, true, nil
}

// Set записывает статус с TTL, если он новее сохранённого (см. domain.CachedStatus.Supersedes).
// Сравнение и запись выполняются одним скриптом, поэтому конкурентные записи не откатывают статус.
func (c *StatusCache) Set(ctx context.Context, status domain.CachedStatus) error {
	_, err := c.set(ctx, status)
	return err
}

func (c *StatusCache) set(ctx context.Context, status domain.CachedStatus) (bool, error) {
	body, err := json.Marshal(status)
	if err != nil {
		return false, fmt.Errorf("encode order status: %w", err)
	}

	terminal := "0"
	if status.Status.Terminal() {
		terminal = "1"
	}
	keys := []string{Key(status.OrderID)}
	args := []interface{}{string(body), status.UpdatedAt.UnixMicro(), terminal, c.ttl.Milliseconds()}

	cmd := c.client.EvalSha(ctx, setIfNewerScript.Hash(), keys, args...)
	if redis.HasErrorPrefix(cmd.Err(), "NOSCRIPT") {
		cmd = c.client.Eval(ctx, setIfNewerSource, keys, args...)
	}
	applied, err := cmd.Int64()
	if err != nil {
		return false, fmt.Errorf("redis set order status: %w", err)
	}
	return applied == 1, nil
}

// Ping проверяет доступность redis (для readiness).
func (c *StatusCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Noop — кэш, который ничего не хранит. Используется, когда redis не настроен.
type Noop struct{}

func (Noop) Get(context.Context, int64) (domain.CachedStatus, bool, error) {
	return domain.CachedStatus{}, false, nil
}

func (Noop) Set(context.Context, domain.CachedStatus) error { return nil }

var (
	_ domain.OrderStatusCache = (*StatusCache)(nil)
	_ domain.OrderStatusCache = Noop{}
	_ domain.Pinger           = (*StatusCache)(nil)
	_ commander               = (*redis.Client)(nil)
)

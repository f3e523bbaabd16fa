package kafka

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	testBrokersEnv    = "STOREFRONT_KAFKA_TEST_BROKERS"
	testcontainersEnv = "STOREFRONT_TESTCONTAINERS"
)

// brokersForIntegrationTest возвращает адреса брокеров из окружения или поднимает
// контейнер, если STOREFRONT_TESTCONTAINERS=1. Иначе тест пропускается.
func brokersForIntegrationTest(t *testing.T) []string {
	t.Helper()

	if raw := strings.TrimSpace(os.Getenv(testBrokersEnv)); raw != "" {
		return strings.Split(raw, ",")
	}
	if os.Getenv(testcontainersEnv) != "1" {
		t.Skipf("kafka is not available: set %s or %s=1", testBrokersEnv, testcontainersEnv)
	}

	ctx := context.Background()
	container, err := tckafka.Run(ctx,
		"confluentinc/confluent-local:7.8.0",
		tckafka.WithClusterID("storefront-test"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	if err != nil {
		t.Fatalf("failed to get kafka brokers: %v", err)
	}
	return brokers
}

type syncedStatusCache struct {
	mu     sync.Mutex
	values map[int64]domain.CachedStatus
}

func (c *syncedStatusCache) Get(_ context.Context, orderID int64) (domain.CachedStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.values[orderID]
	return status, ok, nil
}

func (c *syncedStatusCache) Set(_ context.Context, status domain.CachedStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[int64]domain.CachedStatus)
	}
	c.values[status.OrderID] = status
	return nil
}

func TestIntegration_OutboxEventReachesStatusProjector(t *testing.T) {
	brokers := brokersForIntegrationTest(t)
	topic := "storefront.order.events.it-" + time.Now().UTC().Format("150405.000000")

	producer, err := NewProducer(brokers)
	require.NoError(t, err)
	defer func() { _ = producer.Close() }()

	cache := &syncedStatusCache{}
	consumer, err := NewConsumer(brokers, "storefront-it-"+topic, []string{topic},
		NewStatusProjector(cache, nil).Handle,
		WithRetryDelay(0),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	require.NoError(t, consumer.Start(ctx))
	defer func() { _ = consumer.Stop() }()

	msg, err := domain.NewOrderStatusChangedMessage(domain.OrderStatusChangedPayload{
		OrderID:   42,
		UserID:    7,
		From:      domain.OrderStatusPending,
		To:        domain.OrderStatusPaid,
		ActorID:   1,
		ActorRole: domain.RoleAdmin,
		ChangedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	publisher := NewOutboxPublisher(producer, topic)

	// Consumer читает с newest: публикуем, пока группа не получит партиции.
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		require.NoError(t, publisher.Publish(ctx, msg))

		if status, ok, _ := cache.Get(ctx, 42); ok {
			require.Equal(t, domain.OrderStatusPaid, status.Status)
			require.Equal(t, int64(7), status.UserID)
			return
		}

		select {
		case <-ctx.Done():
			t.Fatal("status projector did not receive the event in time")
		case <-ticker.C:
		}
	}
}

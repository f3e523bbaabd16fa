package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

type recordingStatusCache struct {
	mu     sync.Mutex
	values map[int64]domain.CachedStatus
}

func (c *recordingStatusCache) Get(_ context.Context, orderID int64) (domain.CachedStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.values[orderID]
	return status, ok, nil
}

func (c *recordingStatusCache) Set(_ context.Context, status domain.CachedStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[int64]domain.CachedStatus)
	}
	c.values[status.OrderID] = status
	return nil
}

func TestNewServices(t *testing.T) {
	cfg := DefaultConfig()
	logger := log.WithField("test", "dependencies")

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}
	defer func() { _ = deps.close() }()

	svc := newServices(deps, &recordingStatusCache{}, metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry()), cfg, logger)
	if svc.Checkout == nil {
		t.Error("Checkout should not be nil")
	}
	if svc.Status == nil {
		t.Error("Status should not be nil")
	}
	if svc.Query == nil {
		t.Error("Query should not be nil")
	}
	if svc.Idempotency == nil {
		t.Error("Idempotency should not be nil")
	}
}

func TestNewAPIHandler_ServesCheckoutAndWarmsCache(t *testing.T) {
	cfg := DefaultConfig()
	logger := log.WithField("test", "dependencies")

	deps, err := initRuntimeDependencies(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("initRuntimeDependencies failed: %v", err)
	}
	defer func() { _ = deps.close() }()

	cache := &recordingStatusCache{}
	svc := newServices(deps, cache, metrics.NewOrderMetricsWithRegisterer(prometheus.NewRegistry()), cfg, logger)
	router := httpapi.NewRouter(newAPIHandler(svc, deps, logger), time.Second)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"items":[{"id_product":1,"qty":2}]}`))
	req.Header.Set(httpapi.HeaderUserID, "7")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	cached, ok, _ := cache.Get(context.Background(), 1)
	if !ok || cached.Status != domain.OrderStatusPending || cached.UserID != 7 {
		t.Fatalf("expected checkout to warm the status cache, got %+v (ok=%v)", cached, ok)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders/1/cancel", nil)
	req.Header.Set(httpapi.HeaderUserID, "7")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on cancel, got %d: %s", rec.Code, rec.Body.String())
	}

	cached, _, _ = cache.Get(context.Background(), 1)
	if cached.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cached status cancelled, got %s", cached.Status)
	}

	pending, err := deps.outboxRepo.PullPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("PullPending failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected order.created and order.status_changed in outbox, got %d", len(pending))
	}
}

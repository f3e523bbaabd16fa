package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

type runtimeDependencies struct {
	txManager       domain.TxManager
	repo            domain.OrderReader
	products        domain.ProductReader
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	pinger          domain.Pinger
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func (d runtimeDependencies) close() error {
	if d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// demoCatalog наполняет пустой in-memory каталог при локальном запуске.
var demoCatalog = []domain.Product{
	{Name: "Sencha 100g", PriceMinor: 1200, Currency: "JPY", Stock: 50, Active: true},
	{Name: "Gyokuro 50g", PriceMinor: 2800, Currency: "JPY", Stock: 20, Active: true},
	{Name: "Yunomi cup", PriceMinor: 3000, Currency: "JPY", Stock: 10, Active: true},
	{Name: "Tetsubin teapot", PriceMinor: 4500, Currency: "EUR", Stock: 3, Active: true},
	{Name: "Discontinued matcha whisk", PriceMinor: 900, Currency: "JPY", Stock: 0, Active: false},
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		store := memory.NewStore()
		if cfg.SeedDemoCatalog {
			for _, p := range demoCatalog {
				store.SeedProduct(p)
			}
			logger.WithField("products", len(demoCatalog)).Info("demo catalog seeded")
		}
		logger.Info("storage backend: memory")
		return runtimeDependencies{
			txManager:       store,
			repo:            memory.NewOrderRepository(store),
			products:        memory.NewProductRepository(store),
			outboxRepo:      memory.NewOutboxRepository(store),
			timelineRepo:    memory.NewTimelineRepository(store),
			idempotencyRepo: memory.NewIdempotencyRepository(cfg.IdempotencyTTL),
			pinger:          store,
			storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:         func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres DSN is required for storage driver %q", StorageDriverPostgres)
		}

		var options []postgres.Option
		if cfg.LockTimeout > 0 {
			options = append(options, postgres.WithLockTimeout(cfg.LockTimeout))
		}
		store, err := postgres.Open(ctx, dsn, options...)
		if err != nil {
			return runtimeDependencies{}, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		logger.Info("storage backend: postgres")
		return runtimeDependencies{
			txManager:       store,
			repo:            postgres.NewOrderRepository(store),
			products:        postgres.NewProductRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store, cfg.IdempotencyTTL),
			pinger:          store,
			storageChecker:  healthcheck.NewSimpleChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

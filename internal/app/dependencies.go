package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderquery"
	"github.com/vladislavdragonenkov/storefront/internal/service/orderstatus"
	"github.com/vladislavdragonenkov/storefront/internal/transport/httpapi"
)

// Services содержит прикладные сервисы поверх хранилища.
type Services struct {
	Checkout    *checkout.Engine
	Status      *orderstatus.Machine
	Query       *orderquery.Service
	Idempotency *idempotency.Guard
}

// newServices собирает сервисы. statusCache не может быть nil: без redis передаётся cache.Noop.
func newServices(deps runtimeDependencies, statusCache domain.OrderStatusCache, orderMetrics *metrics.OrderMetrics, cfg Config, logger *log.Entry) Services {
	return Services{
		Checkout: checkout.NewEngine(deps.txManager,
			checkout.WithLogger(logger.WithField("component", "checkout")),
			checkout.WithMetrics(orderMetrics),
			checkout.WithStatusCache(statusCache),
		),
		Status: orderstatus.NewMachine(deps.txManager,
			orderstatus.WithLogger(logger.WithField("component", "orderstatus")),
			orderstatus.WithMetrics(orderMetrics),
			orderstatus.WithStatusCache(statusCache),
		),
		Query:       orderquery.NewService(deps.repo, deps.products, statusCache, logger.WithField("component", "orderquery")),
		Idempotency: idempotency.NewGuard(deps.idempotencyRepo, cfg.IdempotencyTTL, logger.WithField("component", "idempotency")),
	}
}

// newAPIHandler связывает сервисы с REST-обработчиками.
func newAPIHandler(svc Services, deps runtimeDependencies, logger *log.Entry) *httpapi.Handler {
	return httpapi.NewHandler(httpapi.Deps{
		Checkout:    svc.Checkout,
		Status:      svc.Status,
		Query:       svc.Query,
		Idempotency: svc.Idempotency,
		Storage:     deps.pinger,
		Auth:        httpapi.HeaderAuthenticator{},
		Logger:      logger.WithField("component", "httpapi"),
	})
}

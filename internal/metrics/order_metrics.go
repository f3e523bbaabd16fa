package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Значения label result.
const (
	ResultOK                = "ok"
	ResultUnchanged         = "unchanged"
	ResultInvalidInput      = "invalid_input"
	ResultProductNotFound   = "product_not_found"
	ResultOrderNotFound     = "order_not_found"
	ResultUnavailable       = "product_unavailable"
	ResultMixedCurrency     = "mixed_currency"
	ResultInsufficientStock = "insufficient_stock"
	ResultIllegalTransition = "illegal_transition"
	ResultForbidden         = "forbidden"
	ResultConflict          = "conflict"
	ResultInvariant         = "invariant_violation"
	ResultError             = "error"
)

// OrderMetrics содержит метрики checkout и смены статусов.
type OrderMetrics struct {
	// Checkout
	checkoutTotal    *prometheus.CounterVec
	checkoutDuration prometheus.Histogram
	checkoutLines    prometheus.Histogram
	unitsSold        prometheus.Counter

	// Переходы статусов
	transitionsTotal   *prometheus.CounterVec
	transitionDuration prometheus.Histogram
	unitsRestocked     prometheus.Counter

	// Побочные записи в той же транзакции
	timelineEvents prometheus.Counter
	outboxEnqueued prometheus.Counter

	inFlight prometheus.Gauge
}

// NewOrderMetrics создаёт метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в указанном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		checkoutTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_total",
			Help: "Total number of checkout attempts grouped by result",
		}, []string{"result"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout transactions in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}),
		checkoutLines: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_lines",
			Help:    "Number of distinct lines in successful checkouts",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		unitsSold: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_units_sold_total",
			Help: "Total number of stock units decremented by checkout",
		}),
		transitionsTotal: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_transitions_total",
			Help: "Total number of order status transition requests",
		}, []string{"from", "to", "result"}),
		transitionDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_order_transition_duration_seconds",
			Help:    "Duration of order status transitions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		unitsRestocked: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_units_restocked_total",
			Help: "Total number of stock units returned by cancellations",
		}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEnqueued: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_enqueued_total",
			Help: "Total number of outbox events enqueued",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_order_operations_in_flight",
			Help: "Number of checkout and transition transactions currently running",
		}),
	}
}

// ResultLabel сводит ошибку к значению label result.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, domain.ErrInvalidInput):
		return ResultInvalidInput
	case errors.Is(err, domain.ErrProductNotFound):
		return ResultProductNotFound
	case errors.Is(err, domain.ErrOrderNotFound):
		return ResultOrderNotFound
	case errors.Is(err, domain.ErrProductUnavailable):
		return ResultUnavailable
	case errors.Is(err, domain.ErrMixedCurrency):
		return ResultMixedCurrency
	case errors.Is(err, domain.ErrInsufficientStock):
		return ResultInsufficientStock
	case errors.Is(err, domain.ErrIllegalTransition):
		return ResultIllegalTransition
	case errors.Is(err, domain.ErrForbidden):
		return ResultForbidden
	case errors.Is(err, domain.ErrConflict):
		return ResultConflict
	case errors.Is(err, domain.ErrInvariantViolation):
		return ResultInvariant
	default:
		return ResultError
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// OperationStarted увеличивает число выполняющихся транзакций.
// Возвращённая функция должна быть вызвана по завершении.
func (m *OrderMetrics) OperationStarted() func() {
	if m == nil {
		return func() {}
	}
	m.inFlight.Inc()
	return m.inFlight.Dec
}

// RecordCheckout фиксирует результат checkout и его длительность.
func (m *OrderMetrics) RecordCheckout(err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.checkoutTotal.WithLabelValues(ResultLabel(err)).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordCheckoutCommitted фиксирует побочные эффекты успешного checkout.
func (m *OrderMetrics) RecordCheckoutCommitted(lines int, units int64) {
	if m == nil {
		return
	}
	m.checkoutLines.Observe(float64(lines))
	m.unitsSold.Add(float64(units))
	m.timelineEvents.Inc()
	m.outboxEnqueued.Inc()
}

// RecordTransition фиксирует исход запроса на смену статуса.
func (m *OrderMetrics) RecordTransition(from, to domain.OrderStatus, result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(string(from), string(to), result).Inc()
	m.transitionDuration.Observe(duration.Seconds())
}

// RecordTransitionCommitted фиксирует побочные эффекты применённого перехода.
func (m *OrderMetrics) RecordTransitionCommitted(restockedUnits int64) {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
	if restockedUnits > 0 {
		// Отмена пишет отдельное событие stock_restored.
		m.unitsRestocked.Add(float64(restockedUnits))
		m.timelineEvents.Inc()
	}
	m.outboxEnqueued.Inc()
}

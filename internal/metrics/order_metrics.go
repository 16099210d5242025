package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты резервирования стока для лейбла result.
const (
	ReservationResultOK           = "ok"
	ReservationResultInsufficient = "insufficient_stock"
	ReservationResultNotFound     = "product_not_found"
	ReservationResultError        = "error"
)

// OrderMetrics содержит метрики жизненного цикла заказа и операций со стоком.
// Все методы безопасны для nil-получателя.
type OrderMetrics struct {
	ordersCreated  prometheus.Counter
	ordersDeleted  prometheus.Counter
	ordersRated    prometheus.Counter
	transitions    *prometheus.CounterVec
	reservations   *prometheus.CounterVec
	releases       prometheus.Counter
	releaseSkipped prometheus.Counter
	releaseFailed  prometheus.Counter
	conflictRetry  prometheus.Counter
	compensations  prometheus.Counter

	operationDuration *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter
}

// NewOrderMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_created_total",
			Help: "Total number of orders created",
		}),
		ordersDeleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_deleted_total",
			Help: "Total number of orders deleted",
		}),
		ordersRated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_orders_rated_total",
			Help: "Total number of orders rated by customers",
		}),
		transitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_transitions_total",
			Help: "Total number of order status transitions",
		}, []string{"from", "to"}),
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_stock_reservations_total",
			Help: "Total number of stock reservation attempts grouped by result",
		}, []string{"result"}),
		releases: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_stock_releases_total",
			Help: "Total number of stock restorations",
		}),
		releaseSkipped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_stock_release_skipped_total",
			Help: "Total number of order lines skipped during restoration because the product no longer exists",
		}),
		releaseFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_stock_release_failures_total",
			Help: "Total number of stock restorations that failed after the order stopped holding stock",
		}),
		conflictRetry: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_order_conflict_retries_total",
			Help: "Total number of retries caused by optimistic locking conflicts",
		}),
		compensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_stock_compensations_total",
			Help: "Total number of reservations rolled back because the order could not be persisted",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_order_operation_duration_seconds",
			Help:    "Duration of order engine operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_events_total",
			Help: "Total number of events enqueued into the outbox",
		}),
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderDeleted увеличивает счётчик удалённых заказов.
func (m *OrderMetrics) RecordOrderDeleted() {
	if m == nil {
		return
	}
	m.ordersDeleted.Inc()
}

// RecordOrderRated увеличивает счётчик оценённых заказов.
func (m *OrderMetrics) RecordOrderRated() {
	if m == nil {
		return
	}
	m.ordersRated.Inc()
}

// RecordTransition учитывает смену статуса.
func (m *OrderMetrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// RecordReservation учитывает попытку резервирования с результатом result.
func (m *OrderMetrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
}

// RecordRelease учитывает возврат стока и пропущенные строки.
func (m *OrderMetrics) RecordRelease(skipped int) {
	if m == nil {
		return
	}
	m.releases.Inc()
	if skipped > 0 {
		m.releaseSkipped.Add(float64(skipped))
	}
}

// RecordReleaseFailure учитывает возврат стока, который не удалось выполнить.
func (m *OrderMetrics) RecordReleaseFailure() {
	if m == nil {
		return
	}
	m.releaseFailed.Inc()
}

// RecordConflictRetry учитывает повтор после конфликта версий.
func (m *OrderMetrics) RecordConflictRetry() {
	if m == nil {
		return
	}
	m.conflictRetry.Inc()
}

// RecordCompensation учитывает откат резерва.
func (m *OrderMetrics) RecordCompensation() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

// RecordOperationDuration записывает время выполнения операции движка.
func (m *OrderMetrics) RecordOperationDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

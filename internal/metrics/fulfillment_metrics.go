package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы оформления заказа для метки outcome.
const (
	OutcomeAccepted          = "accepted"
	OutcomeInsufficientStock = "insufficient_stock"
	OutcomeNotFound          = "not_found"
	OutcomeInvalid           = "invalid"
	OutcomeCanceled          = "canceled"
	OutcomeContention        = "contention"
	OutcomeError             = "error"
)

// FulfillmentMetrics содержит метрики оформления заказов.
type FulfillmentMetrics struct {
	orders        *prometheus.CounterVec
	duration      prometheus.Histogram
	compensations *prometheus.CounterVec
	stockRetries  prometheus.Counter
	unitsSold     prometheus.Counter
}

// NewFulfillmentMetrics регистрирует метрики в DefaultRegisterer.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return NewFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewFulfillmentMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	return &FulfillmentMetrics{
		orders: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_orders_submitted_total",
			Help: "Total number of order submissions grouped by outcome.",
		}, []string{"outcome"}), "catalog_orders_submitted_total"),
		duration: register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalog_order_submit_duration_seconds",
			Help:    "Duration of order submission in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}), "catalog_order_submit_duration_seconds"),
		compensations: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_stock_compensations_total",
			Help: "Stock restorations after a failed submission grouped by result.",
		}, []string{"result"}), "catalog_stock_compensations_total"),
		stockRetries: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_stock_decrement_retries_total",
			Help: "Conditional stock decrements retried after a version conflict.",
		}), "catalog_stock_decrement_retries_total"),
		unitsSold: register(registerer, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_units_sold_total",
			Help: "Units removed from stock by accepted orders.",
		}), "catalog_units_sold_total"),
	}
}

// RecordOrder фиксирует исход и длительность оформления.
func (m *FulfillmentMetrics) RecordOrder(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(outcome).Inc()
	m.duration.Observe(duration.Seconds())
}

// RecordUnitsSold увеличивает счётчик проданных единиц.
func (m *FulfillmentMetrics) RecordUnitsSold(units int) {
	if m == nil || units <= 0 {
		return
	}
	m.unitsSold.Add(float64(units))
}

// RecordCompensation фиксирует результат возврата остатка: "restored" или "failed".
func (m *FulfillmentMetrics) RecordCompensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}

// RecordStockRetry увеличивает счётчик повторов условного списания.
func (m *FulfillmentMetrics) RecordStockRetry() {
	if m == nil {
		return
	}
	m.stockRetries.Inc()
}

package metrics

import "github.com/prometheus/client_golang/prometheus"

// Причины потери события.
const (
	DropEncode    = "encode"
	DropQueueFull = "queue_full"
	DropClosed    = "closed"
)

// NotifierMetrics содержит метрики рассылки событий изменения.
type NotifierMetrics struct {
	events      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	subscribers prometheus.Gauge
}

// NewNotifierMetrics регистрирует метрики в DefaultRegisterer.
func NewNotifierMetrics() *NotifierMetrics {
	return NewNotifierMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewNotifierMetricsWithRegisterer регистрирует метрики в переданном реестре.
func NewNotifierMetricsWithRegisterer(registerer prometheus.Registerer) *NotifierMetrics {
	return &NotifierMetrics{
		events: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_change_events_total",
			Help: "Change events accepted for dispatch grouped by entity and kind.",
		}, []string{"entity", "kind"}), "catalog_change_events_total"),
		dropped: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_change_events_dropped_total",
			Help: "Change events dropped before dispatch grouped by reason.",
		}, []string{"reason"}), "catalog_change_events_dropped_total"),
		deliveries: register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_change_deliveries_total",
			Help: "Change event deliveries grouped by sink and result.",
		}, []string{"sink", "result"}), "catalog_change_deliveries_total"),
		queueDepth: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_change_queue_depth",
			Help: "Encoded change events waiting for a dispatch worker.",
		}), "catalog_change_queue_depth"),
		subscribers: register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalog_change_subscribers",
			Help: "Currently connected live change feed subscribers.",
		}), "catalog_change_subscribers"),
	}
}

// RecordEvent фиксирует событие, принятое к рассылке.
func (m *NotifierMetrics) RecordEvent(entity, kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(entity, kind).Inc()
}

// RecordDropped фиксирует потерю события.
func (m *NotifierMetrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// RecordDelivery фиксирует результат доставки в конкретный sink: "ok" или "failed".
func (m *NotifierMetrics) RecordDelivery(sink, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(sink, result).Inc()
}

// SetQueueDepth выставляет текущую глубину очереди.
func (m *NotifierMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// SubscriberConnected увеличивает число подписчиков.
func (m *NotifierMetrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

// SubscriberDisconnected уменьшает число подписчиков.
func (m *NotifierMetrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

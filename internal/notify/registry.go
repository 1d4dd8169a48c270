package notify

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
)

// Registry раздаёт закодированное событие всем зарегистрированным sink-ам.
// Ошибка одного sink-а логируется и не влияет на остальные; повторов нет.
type Registry struct {
	logger  *log.Entry
	metrics *metrics.NotifierMetrics

	mu    sync.RWMutex
	sinks []domain.ChangeSink
}

// NewRegistry создаёт пустой реестр.
func NewRegistry(logger *log.Entry, m *metrics.NotifierMetrics) *Registry {
	if logger == nil {
		logger = log.WithField("component", "subscriber-registry")
	}
	return &Registry{logger: logger, metrics: m}
}

// Register добавляет sink.
func (r *Registry) Register(sink domain.ChangeSink) {
	if sink == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, sink)
}

// Sinks возвращает имена зарегистрированных sink-ов.
func (r *Registry) Sinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sinks))
	for _, sink := range r.sinks {
		names = append(names, sink.Name())
	}
	return names
}

// Broadcast доставляет сообщение во все sink-и параллельно и ждёт их завершения.
func (r *Registry) Broadcast(ctx context.Context, msg []byte) {
	r.mu.RLock()
	sinks := make([]domain.ChangeSink, len(r.sinks))
	copy(sinks, r.sinks)
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sink := range sinks {
		wg.Add(1)
		go func(sink domain.ChangeSink) {
			defer wg.Done()
			r.deliver(ctx, sink, msg)
		}(sink)
	}
	wg.Wait()
}

func (r *Registry) deliver(ctx context.Context, sink domain.ChangeSink, msg []byte) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithField("sink", sink.Name()).WithField("panic", p).Error("change sink panicked, skipping")
			r.metrics.RecordDelivery(sink.Name(), "failed")
		}
	}()

	if err := sink.Deliver(ctx, msg); err != nil {
		err = fmt.Errorf("%w: %s: %w", domain.ErrDeliveryFailure, sink.Name(), err)
		r.logger.WithError(err).WithField("sink", sink.Name()).Warn("change event delivery failed, skipping sink")
		r.metrics.RecordDelivery(sink.Name(), "failed")
		return
	}
	r.metrics.RecordDelivery(sink.Name(), "ok")
}

var _ domain.SubscriberRegistry = (*Registry)(nil)

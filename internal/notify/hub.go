package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
)

const defaultSubscriberBuffer = 64

// Subscription: подключённый подписчик живой ленты изменений.
type Subscription struct {
	ID       string
	entities []domain.EntityTag
	ch       chan []byte
}

// C возвращает канал сообщений. Канал закрывается при отписке или остановке Hub.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

func (s *Subscription) wants(entity domain.EntityTag) bool {
	return len(s.entities) == 0 || slices.Contains(s.entities, entity)
}

// Hub хранит локальных подписчиков (SSE, gRPC stream) и раздаёт им события.
// Медленный подписчик с заполненным буфером пропускает событие.
type Hub struct {
	logger  *log.Entry
	metrics *metrics.NotifierMetrics
	buffer  int

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// NewHub создаёт Hub; buffer задаёт размер буфера каждого подписчика.
func NewHub(logger *log.Entry, m *metrics.NotifierMetrics, buffer int) *Hub {
	if logger == nil {
		logger = log.WithField("component", "change-hub")
	}
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		logger:  logger,
		metrics: m,
		buffer:  buffer,
		subs:    make(map[string]*Subscription),
	}
}

// Name реализует domain.ChangeSink.
func (h *Hub) Name() string { return "hub" }

// Subscribe регистрирует подписчика. Пустой список сущностей означает "все".
func (h *Hub) Subscribe(entities ...domain.EntityTag) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("change hub is closed")
	}

	sub := &Subscription{
		ID:       uuid.NewString(),
		entities: entities,
		ch:       make(chan []byte, h.buffer),
	}
	h.subs[sub.ID] = sub
	h.metrics.SubscriberConnected()
	h.logger.WithField("subscriber_id", sub.ID).Debug("change subscriber connected")
	return sub, nil
}

// Unsubscribe удаляет подписчика и закрывает его канал.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[sub.ID]; !ok {
		return
	}
	delete(h.subs, sub.ID)
	close(sub.ch)
	h.metrics.SubscriberDisconnected()
	h.logger.WithField("subscriber_id", sub.ID).Debug("change subscriber disconnected")
}

// Count возвращает число подключённых подписчиков.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Deliver раздаёт сообщение подписчикам без блокировки.
func (h *Hub) Deliver(_ context.Context, msg []byte) error {
	head, err := domain.PeekChangeEvent(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var skipped, targeted int
	for _, sub := range h.subs {
		if !sub.wants(head.Entity) {
			continue
		}
		targeted++
		select {
		case sub.ch <- msg:
		default:
			skipped++
			h.logger.WithField("subscriber_id", sub.ID).Warn("change subscriber is not keeping up, skipping event")
		}
	}

	if skipped > 0 {
		return fmt.Errorf("%d of %d subscribers skipped", skipped, targeted)
	}
	return nil
}

// Close отключает всех подписчиков.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
		h.metrics.SubscriberDisconnected()
	}
}

var _ domain.ChangeSink = (*Hub)(nil)

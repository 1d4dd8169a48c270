// Package notify рассылает события изменения каталога подписчикам в фоне.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/metrics"
)

const (
	defaultWorkers         = 4
	defaultQueueSize       = 1024
	defaultDeliveryTimeout = 5 * time.Second
)

// Options задаёт параметры Notifier.
type Options struct {
	Logger          *log.Entry
	Metrics         *metrics.NotifierMetrics
	Workers         int
	QueueSize       int
	DeliveryTimeout time.Duration
	Clock           func() time.Time
}

// Option настраивает Notifier.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики рассылки.
func WithMetrics(m *metrics.NotifierMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithWorkers задаёт число фоновых воркеров рассылки.
func WithWorkers(workers int) Option {
	return func(opts *Options) {
		opts.Workers = workers
	}
}

// WithQueueSize задаёт ёмкость очереди закодированных событий.
func WithQueueSize(size int) Option {
	return func(opts *Options) {
		opts.QueueSize = size
	}
}

// WithDeliveryTimeout ограничивает время одной рассылки.
func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.DeliveryTimeout = timeout
	}
}

// WithClock подменяет источник времени для createdAt.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

type envelope struct {
	entity domain.EntityTag
	kind   domain.OperationKind
	body   []byte
}

// Notifier кодирует события и передаёт их реестру подписчиков на фоновых воркерах.
// Notify никогда не блокируется: при переполненной очереди событие отбрасывается.
type Notifier struct {
	registry        domain.SubscriberRegistry
	logger          *log.Entry
	metrics         *metrics.NotifierMetrics
	deliveryTimeout time.Duration
	now             func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan envelope
	wg     sync.WaitGroup
}

// NewNotifier создаёт Notifier и запускает воркеры рассылки.
func NewNotifier(registry domain.SubscriberRegistry, options ...Option) *Notifier {
	opts := Options{
		Workers:         defaultWorkers,
		QueueSize:       defaultQueueSize,
		DeliveryTimeout: defaultDeliveryTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "change-notifier")
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = defaultDeliveryTimeout
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	n := &Notifier{
		registry:        registry,
		logger:          logger,
		metrics:         opts.Metrics,
		deliveryTimeout: opts.DeliveryTimeout,
		now:             opts.Clock,
		queue:           make(chan envelope, opts.QueueSize),
	}

	n.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go n.work()
	}

	return n
}

// Notify кодирует событие и ставит его в очередь рассылки.
func (n *Notifier) Notify(entity domain.EntityTag, kind domain.OperationKind, payload any) {
	fields := log.Fields{"entity": entity, "kind": kind}

	body, err := json.Marshal(domain.ChangeEvent{
		Entity:    entity,
		Type:      kind,
		Data:      payload,
		CreatedAt: n.now(),
	})
	if err != nil {
		n.logger.WithError(err).WithFields(fields).Error("failed to encode change event, dropping it")
		n.metrics.RecordDropped(metrics.DropEncode)
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.logger.WithFields(fields).Warn("change notifier is closed, dropping event")
		n.metrics.RecordDropped(metrics.DropClosed)
		return
	}

	select {
	case n.queue <- envelope{entity: entity, kind: kind, body: body}:
		n.metrics.RecordEvent(string(entity), string(kind))
		n.metrics.SetQueueDepth(len(n.queue))
	default:
		n.logger.WithFields(fields).Warn("change queue is full, dropping event")
		n.metrics.RecordDropped(metrics.DropQueueFull)
	}
}

// Close прекращает приём событий и дожидается рассылки уже поставленных в очередь.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain change queue: %w", ctx.Err())
	}
}

func (n *Notifier) work() {
	defer n.wg.Done()
	for env := range n.queue {
		n.metrics.SetQueueDepth(len(n.queue))
		n.dispatch(env)
	}
}

func (n *Notifier) dispatch(env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), n.deliveryTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			n.logger.WithFields(log.Fields{
				"entity": env.entity,
				"kind":   env.kind,
				"panic":  r,
			}).Error("change event dispatch panicked")
		}
	}()

	n.registry.Broadcast(ctx, env.body)
}

// Nop: ChangeNotifier, который ничего не делает.
type Nop struct{}

// Notify реализует domain.ChangeNotifier.
func (Nop) Notify(domain.EntityTag, domain.OperationKind, any) {}

var (
	_ domain.ChangeNotifier = (*Notifier)(nil)
	_ domain.ChangeNotifier = Nop{}
)

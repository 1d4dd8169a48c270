package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// RelayConfig задаёт подписку ретранслятора.
type RelayConfig struct {
	Brokers []string
	Topic   string
	// Origin: идентификатор этого экземпляра; у каждого экземпляра своя consumer group.
	Origin string
}

// Relay читает события, опубликованные другими экземплярами сервиса, и отдаёт их локальному
// sink-у (обычно Hub живых подписчиков). Собственные сообщения экземпляра пропускаются:
// они уже доставлены локально. Ошибка доставки логируется, сообщение всё равно помечается.
type Relay struct {
	group  sarama.ConsumerGroup
	topic  string
	origin string
	target domain.ChangeSink
	logger *log.Entry
	wg     sync.WaitGroup
}

// NewRelay создаёт consumer group "catalog-relay-<origin>" и начинает с новых сообщений.
func NewRelay(cfg RelayConfig, target domain.ChangeSink, logger *log.Entry) (*Relay, error) {
	if cfg.Origin == "" {
		return nil, fmt.Errorf("relay origin is required")
	}
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, "catalog-relay-"+cfg.Origin, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}
	return newRelay(group, cfg, target, logger), nil
}

func newRelay(group sarama.ConsumerGroup, cfg RelayConfig, target domain.ChangeSink, logger *log.Entry) *Relay {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if logger == nil {
		logger = log.WithField("component", "kafka-relay")
	}
	return &Relay{group: group, topic: cfg.Topic, origin: cfg.Origin, target: target, logger: logger}
}

// Start запускает чтение в фоне до отмены ctx.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		for {
			// Consume возвращается при каждом rebalance.
			if err := r.group.Consume(ctx, []string{r.topic}, r); err != nil {
				r.logger.WithError(err).Error("kafka relay consume failed")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer r.wg.Done()
		for err := range r.group.Errors() {
			r.logger.WithError(err).Warn("kafka relay error")
		}
	}()
	r.logger.WithField("topic", r.topic).Info("kafka relay started")
}

// Stop закрывает consumer group и ждёт фоновые горутины.
func (r *Relay) Stop() error {
	if err := r.group.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	r.wg.Wait()
	r.logger.Info("kafka relay stopped")
	return nil
}

func (r *Relay) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (r *Relay) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim передаёт сообщения партиции в target.
func (r *Relay) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			r.handle(session.Context(), message)
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (r *Relay) handle(ctx context.Context, message *sarama.ConsumerMessage) {
	if headerValue(message, HeaderOrigin) == r.origin {
		return
	}
	if err := r.target.Deliver(ctx, message.Value); err != nil {
		r.logger.WithError(err).WithFields(log.Fields{
			"partition": message.Partition,
			"offset":    message.Offset,
			"entity":    headerValue(message, HeaderEntity),
		}).Warn("relayed change event was not delivered")
	}
}

func headerValue(message *sarama.ConsumerMessage, key string) string {
	for _, header := range message.Headers {
		if header != nil && string(header.Key) == key {
			return string(header.Value)
		}
	}
	return ""
}

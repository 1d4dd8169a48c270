package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// ChangeSink публикует закодированные события в топик.
// Ключ сообщения составлен из сущности и её id, так что изменения одной сущности попадают в одну партицию.
type ChangeSink struct {
	producer *Producer
	topic    string
	origin   string
}

// NewChangeSink создаёт sink. origin помечает сообщения этого экземпляра сервиса.
func NewChangeSink(producer *Producer, topic, origin string) *ChangeSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &ChangeSink{producer: producer, topic: topic, origin: origin}
}

// Name возвращает имя sink-а для логов и метрик.
func (s *ChangeSink) Name() string { return "kafka" }

// Deliver отправляет событие в Kafka.
func (s *ChangeSink) Deliver(ctx context.Context, msg []byte) error {
	if s == nil || s.producer == nil {
		return fmt.Errorf("kafka change sink is not initialized")
	}

	head, err := domain.PeekChangeEvent(msg)
	if err != nil {
		return err
	}

	key := string(head.Entity)
	if head.EntityID != "" {
		key += ":" + head.EntityID
	}

	return s.producer.Send(ctx, &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(msg),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEntity), Value: []byte(head.Entity)},
			{Key: []byte(HeaderType), Value: []byte(head.Type)},
			{Key: []byte(HeaderOrigin), Value: []byte(s.origin)},
		},
	})
}

var _ domain.ChangeSink = (*ChangeSink)(nil)

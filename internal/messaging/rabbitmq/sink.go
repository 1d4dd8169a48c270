package rabbitmq

import (
	"context"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// publisher: часть *amqp.Channel, которая нужна sink-у.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ChangeSink публикует события с routing key вида catalog.<entity>.<type>,
// например catalog.items.update. Подписчики выбирают события шаблоном привязки.
type ChangeSink struct {
	publisher publisher
	exchange  string
}

// NewChangeSink создаёт sink поверх открытого соединения.
func NewChangeSink(conn *Connection) *ChangeSink {
	return newChangeSink(conn.Channel(), conn.Exchange())
}

func newChangeSink(p publisher, exchange string) *ChangeSink {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &ChangeSink{publisher: p, exchange: exchange}
}

// Name возвращает имя sink-а.
func (s *ChangeSink) Name() string { return "rabbitmq" }

// Deliver публикует событие в exchange.
func (s *ChangeSink) Deliver(ctx context.Context, msg []byte) error {
	head, err := domain.PeekChangeEvent(msg)
	if err != nil {
		return err
	}

	publishing := amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Type:        string(head.Type),
		Body:        msg,
	}
	if head.EntityID != "" {
		publishing.MessageId = head.EntityID
	}

	if err := s.publisher.PublishWithContext(ctx, s.exchange, RoutingKey(head), false, false, publishing); err != nil {
		return fmt.Errorf("publish to rabbitmq: %w", err)
	}
	return nil
}

// RoutingKey строит routing key события.
func RoutingKey(head domain.ChangeHeader) string {
	return fmt.Sprintf("catalog.%s.%s", strings.ToLower(string(head.Entity)), strings.ToLower(string(head.Type)))
}

var _ domain.ChangeSink = (*ChangeSink)(nil)

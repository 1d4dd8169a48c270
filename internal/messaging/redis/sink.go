// Package redis рассылает события изменения каталога через Redis Pub/Sub.
package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

// DefaultChannelPrefix: префикс каналов; полное имя catalog:changes:<entity>.
const DefaultChannelPrefix = "catalog:changes"

// ChangeSink публикует каждое событие в канал своей сущности.
// Pub/Sub не хранит сообщения: если подписчиков нет, событие теряется.
type ChangeSink struct {
	client goredis.Cmdable
	prefix string
}

// NewChangeSink создаёт sink.
func NewChangeSink(client goredis.Cmdable, prefix string) *ChangeSink {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &ChangeSink{client: client, prefix: prefix}
}

// Name возвращает имя sink-а.
func (s *ChangeSink) Name() string { return "redis" }

// Channel возвращает имя канала для сущности.
func (s *ChangeSink) Channel(entity domain.EntityTag) string {
	return s.prefix + ":" + strings.ToLower(string(entity))
}

// Deliver публикует событие.
func (s *ChangeSink) Deliver(ctx context.Context, msg []byte) error {
	head, err := domain.PeekChangeEvent(msg)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.Channel(head.Entity), msg).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

var _ domain.ChangeSink = (*ChangeSink)(nil)

// Package rabbitmq публикует события изменения каталога в topic exchange RabbitMQ.
package rabbitmq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultExchange: имя topic exchange для событий каталога.
	DefaultExchange = "catalog.changes"
	exchangeKind    = "topic"
)

// Config задаёт подключение к брокеру.
type Config struct {
	URL      string
	Exchange string
	// DialAttempts: сколько раз пробовать подключиться при старте.
	DialAttempts int
	DialDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 5
	}
	if c.DialDelay <= 0 {
		c.DialDelay = 2 * time.Second
	}
	return c
}

// Connection владеет соединением и каналом с объявленным exchange.
type Connection struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// Dial подключается к RabbitMQ с повторами и объявляет durable topic exchange.
func Dial(ctx context.Context, cfg Config, logger *log.Entry) (*Connection, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.WithField("component", "rabbitmq")
	}

	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= cfg.DialAttempts; attempt++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("failed to connect to rabbitmq")
		if attempt == cfg.DialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.DialDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open rabbitmq channel: %w", err)
	}

	if err := channel.ExchangeDeclare(cfg.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("could not declare exchange %q: %w", cfg.Exchange, err)
	}

	return &Connection{conn: conn, channel: channel, exchange: cfg.Exchange}, nil
}

// Channel возвращает канал для публикации.
func (c *Connection) Channel() *amqp.Channel { return c.channel }

// Exchange возвращает имя объявленного exchange.
func (c *Connection) Exchange() string { return c.exchange }

// Ping сообщает, живо ли соединение.
func (c *Connection) Ping(context.Context) error {
	if c == nil || c.conn == nil || c.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return nil
}

// Close закрывает канал и соединение.
func (c *Connection) Close() error {
	if c == nil {
		return nil
	}
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}

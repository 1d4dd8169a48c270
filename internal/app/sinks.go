package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/health"
	"github.com/vladislavdragonenkov/catalog/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/catalog/internal/messaging/rabbitmq"
	redisbus "github.com/vladislavdragonenkov/catalog/internal/messaging/redis"
	"github.com/vladislavdragonenkov/catalog/internal/notify"
)

// changeSinks: внешние получатели событий изменения и ретранслятор Kafka.
// Любой из брокеров может быть недоступен при старте: сервис продолжает работу без него.
type changeSinks struct {
	producer *kafka.Producer
	relay    *kafka.Relay
	rabbit   *rabbitmq.Connection
	logger   *log.Entry
}

// initChangeSinks регистрирует Hub и все настроенные брокеры в реестре подписчиков.
func initChangeSinks(ctx context.Context, cfg Config, registry *notify.Registry, hub *notify.Hub, redis *goredis.Client, logger *log.Entry) *changeSinks {
	sinks := &changeSinks{logger: logger}
	registry.Register(hub)

	if redis != nil {
		registry.Register(redisbus.NewChangeSink(redis, cfg.RedisChannelPrefix))
		logger.WithField("prefix", cfg.RedisChannelPrefix).Info("redis change channel enabled")
	}

	if brokers := cfg.KafkaBrokerList(); len(brokers) > 0 {
		sinks.initKafka(cfg, brokers, registry, hub)
	}

	if cfg.RabbitURL != "" {
		conn, err := rabbitmq.Dial(ctx, rabbitmq.Config{
			URL:          cfg.RabbitURL,
			Exchange:     cfg.RabbitExchange,
			DialAttempts: 3,
			DialDelay:    time.Second,
		}, logger.WithField("component", "rabbitmq"))
		if err != nil {
			logger.WithError(err).Warn("failed to connect to rabbitmq, continuing without it")
		} else {
			sinks.rabbit = conn
			registry.Register(rabbitmq.NewChangeSink(conn))
		}
	}

	return sinks
}

func (s *changeSinks) initKafka(cfg Config, brokers []string, registry *notify.Registry, hub *notify.Hub) {
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:  brokers,
		ClientID: "catalog-service-" + cfg.InstanceID,
	}, s.logger.WithField("component", "kafka-producer"))
	if err != nil {
		s.logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return
	}
	s.producer = producer
	registry.Register(kafka.NewChangeSink(producer, cfg.KafkaTopic, cfg.InstanceID))
	s.logger.WithField("brokers", brokers).Info("kafka producer initialized")

	if !cfg.KafkaRelay {
		return
	}
	relay, err := kafka.NewRelay(kafka.RelayConfig{
		Brokers: brokers,
		Topic:   cfg.KafkaTopic,
		Origin:  cfg.InstanceID,
	}, hub, s.logger.WithField("component", "kafka-relay"))
	if err != nil {
		s.logger.WithError(err).Warn("failed to create kafka relay, live feed shows local changes only")
		return
	}
	s.relay = relay
}

// start запускает фоновое чтение ретранслятора.
func (s *changeSinks) start(ctx context.Context) {
	if s.relay != nil {
		s.relay.Start(ctx)
	}
}

func (s *changeSinks) registerHealthChecks(h *health.Handler) {
	if s.rabbit != nil {
		h.RegisterChecker("rabbitmq", health.NewOptionalChecker("rabbitmq", s.rabbit.Ping))
	}
}

// Close останавливает ретранслятор и закрывает соединения с брокерами.
func (s *changeSinks) Close() error {
	var errs []error
	if s.relay != nil {
		if err := s.relay.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			errs = append(errs, err)
		} else {
			s.logger.Info("kafka producer closed")
		}
	}
	if s.rabbit != nil {
		if err := s.rabbit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq: %w", err))
		}
	}
	return errors.Join(errs...)
}

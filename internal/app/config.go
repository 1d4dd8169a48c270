package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

const (
	// StorageDriverMemory хранит каталог и заказы в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres хранит каталог и заказы в PostgreSQL.
	StorageDriverPostgres = "postgres"
)

// Названия окружений для поля Environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

// ErrHelpWanted возвращается LoadConfig, если запрошена справка (--help) или версия.
var ErrHelpWanted = errors.New("config help requested")

// Config описывает настройки запуска сервиса. Значения читаются из окружения и .env.
type Config struct {
	// Адреса
	HTTPAddr    string `conf:"default::8080,env:CATALOG_HTTP_ADDR"`
	GRPCAddr    string `conf:"default::50051,env:CATALOG_GRPC_ADDR"`
	MetricsAddr string `conf:"default::9090,env:CATALOG_METRICS_ADDR"`

	// Приложение
	LogLevel    string `conf:"default:info,env:CATALOG_LOG_LEVEL"`
	Environment string `conf:"default:development,enum:development|testing|production,env:CATALOG_ENVIRONMENT"`
	// InstanceID отличает экземпляры сервиса в Kafka; по умолчанию имя хоста.
	InstanceID string `conf:"env:CATALOG_INSTANCE_ID"`

	// Хранилище
	StorageDriver        string `conf:"default:memory,enum:memory|postgres,env:CATALOG_STORAGE_DRIVER"`
	PostgresDSN          string `conf:"env:CATALOG_POSTGRES_DSN,noprint"`
	PostgresAutoMigrate  bool   `conf:"default:true,env:CATALOG_POSTGRES_AUTO_MIGRATE"`
	PostgresMaxOpenConns int    `conf:"default:20,env:CATALOG_POSTGRES_MAX_OPEN_CONNS"`

	// Redis: кэш позиций и pub/sub событий. Пустой URL выключает оба.
	RedisURL           string        `conf:"env:CATALOG_REDIS_URL,noprint"`
	CacheTTL           time.Duration `conf:"default:10m,env:CATALOG_CACHE_TTL"`
	RedisChannelPrefix string        `conf:"default:catalog:changes,env:CATALOG_REDIS_CHANNEL_PREFIX"`

	// Kafka: брокеры через запятую. Пустой список выключает Kafka.
	KafkaBrokers string `conf:"env:CATALOG_KAFKA_BROKERS"`
	KafkaTopic   string `conf:"default:catalog.changes,env:CATALOG_KAFKA_TOPIC"`
	KafkaRelay   bool   `conf:"default:true,env:CATALOG_KAFKA_RELAY"`

	// RabbitMQ. Пустой URL выключает публикацию.
	RabbitURL      string `conf:"env:CATALOG_RABBITMQ_URL,noprint"`
	RabbitExchange string `conf:"default:catalog.changes,env:CATALOG_RABBITMQ_EXCHANGE"`

	// Рассылка событий
	NotifierWorkers         int           `conf:"default:4,env:CATALOG_NOTIFIER_WORKERS"`
	NotifierQueueSize       int           `conf:"default:1024,env:CATALOG_NOTIFIER_QUEUE_SIZE"`
	NotifierDeliveryTimeout time.Duration `conf:"default:5s,env:CATALOG_NOTIFIER_DELIVERY_TIMEOUT"`

	// Заказы
	StockMaxAttempts int    `conf:"default:3,env:CATALOG_STOCK_MAX_ATTEMPTS"`
	// Значение по умолчанию совпадает с domain.DefaultCurrency.
	OrderCurrency    string `conf:"default:USD,env:CATALOG_ORDER_CURRENCY"`

	// HTTP API
	RateLimit          int           `conf:"default:0,env:CATALOG_RATE_LIMIT"`
	CORSAllowedOrigins string        `conf:"default:*,env:CATALOG_CORS_ALLOWED_ORIGINS"`
	RequestTimeout     time.Duration `conf:"default:15s,env:CATALOG_REQUEST_TIMEOUT"`

	// Наблюдаемость
	OtelEndpoint     string  `conf:"env:CATALOG_OTEL_ENDPOINT"`
	TraceSampleRatio float64 `conf:"default:1,env:CATALOG_TRACE_SAMPLE_RATIO"`

	ShutdownTimeout time.Duration `conf:"default:10s,env:CATALOG_SHUTDOWN_TIMEOUT"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                ":8080",
		GRPCAddr:                ":50051",
		MetricsAddr:             ":9090",
		LogLevel:                "info",
		Environment:             EnvDevelopment,
		InstanceID:              defaultInstanceID(),
		StorageDriver:           StorageDriverMemory,
		PostgresAutoMigrate:     true,
		PostgresMaxOpenConns:    20,
		CacheTTL:                10 * time.Minute,
		RedisChannelPrefix:      "catalog:changes",
		KafkaTopic:              "catalog.changes",
		KafkaRelay:              true,
		RabbitExchange:          "catalog.changes",
		NotifierWorkers:         4,
		NotifierQueueSize:       1024,
		NotifierDeliveryTimeout: 5 * time.Second,
		StockMaxAttempts:        3,
		OrderCurrency:           domain.DefaultCurrency,
		CORSAllowedOrigins:      "*",
		RequestTimeout:          15 * time.Second,
		TraceSampleRatio:        1,
		ShutdownTimeout:         10 * time.Second,
	}
}

// LoadConfig читает .env (если есть), затем окружение и аргументы командной строки.
func LoadConfig() (Config, error) {
	var cfg Config
	_ = godotenv.Load()

	help, err := conf.Parse("", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return Config{}, ErrHelpWanted
		}
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []string

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, "CATALOG_POSTGRES_DSN is required for postgres storage")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported storage driver %q", c.StorageDriver))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.LogLevel))
	}
	if c.NotifierWorkers <= 0 {
		errs = append(errs, "CATALOG_NOTIFIER_WORKERS must be positive")
	}
	if c.NotifierQueueSize <= 0 {
		errs = append(errs, "CATALOG_NOTIFIER_QUEUE_SIZE must be positive")
	}
	if c.StockMaxAttempts <= 0 {
		errs = append(errs, "CATALOG_STOCK_MAX_ATTEMPTS must be positive")
	}
	if c.RateLimit < 0 {
		errs = append(errs, "CATALOG_RATE_LIMIT must not be negative")
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		errs = append(errs, "CATALOG_TRACE_SAMPLE_RATIO must be within [0, 1]")
	}
	if len(c.KafkaBrokerList()) > 0 && c.KafkaRelay && c.InstanceID == "" {
		errs = append(errs, "CATALOG_INSTANCE_ID is required for kafka relay")
	}
	if c.Environment == EnvProduction && c.CORSAllowedOrigins == "*" {
		errs = append(errs, "CATALOG_CORS_ALLOWED_ORIGINS must list origins explicitly in production")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
}

// KafkaBrokerList разбирает список брокеров.
func (c Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// ConfigureLogging выставляет уровень и формат логов: JSON в production, текст в остальных окружениях.
func ConfigureLogging(cfg Config) {
	if cfg.Environment == EnvProduction {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "catalog-local"
	}
	return host
}

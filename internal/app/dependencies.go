package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
	"github.com/vladislavdragonenkov/catalog/internal/health"
	"github.com/vladislavdragonenkov/catalog/internal/storage/memory"
	"github.com/vladislavdragonenkov/catalog/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/catalog/internal/storage/redis"
)

// runtimeDependencies: хранилища и клиенты, которые живут всё время работы процесса.
type runtimeDependencies struct {
	catalog domain.CatalogStore
	orders  domain.OrderStore
	buyers  domain.BuyerDirectory

	pg    *postgres.Store
	redis *goredis.Client
	cache *redisstore.CachedCatalog
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{}

	switch strings.ToLower(strings.TrimSpace(cfg.StorageDriver)) {
	case StorageDriverMemory:
		deps.catalog = memory.NewCatalogRepository()
		deps.orders = memory.NewOrderRepository()
		deps.buyers = memory.NewBuyerRepository()
		logger.Info("using in-memory storage")
	case StorageDriverPostgres:
		if strings.TrimSpace(cfg.PostgresDSN) == "" {
			return nil, fmt.Errorf("postgres storage requires CATALOG_POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.PoolConfig{MaxOpenConns: cfg.PostgresMaxOpenConns})
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := migrateUp(ctx, store, logger); err != nil {
				_ = store.Close()
				return nil, err
			}
		}
		deps.pg = store
		deps.catalog = postgres.NewCatalogRepository(store)
		deps.orders = postgres.NewOrderRepository(store)
		deps.buyers = postgres.NewBuyerRepository(store)
		logger.Info("using postgres storage")
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisURL != "" {
		client, err := redisstore.NewClient(ctx, redisstore.ClientConfig{URL: cfg.RedisURL})
		if err != nil {
			logger.WithError(err).Warn("failed to connect to redis, continuing without item cache")
		} else {
			deps.redis = client
			deps.cache = redisstore.NewCachedCatalog(deps.catalog, client, cfg.CacheTTL, logger.WithField("component", "item-cache"))
			logger.WithField("ttl", cfg.CacheTTL).Info("item cache enabled")
		}
	}

	return deps, nil
}

func migrateUp(ctx context.Context, store *postgres.Store, logger *log.Entry) error {
	migrator, err := postgres.NewMigrator(store, logger.WithField("component", "migrator"))
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if err := migrator.Up(ctx, 0); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// catalogStore возвращает каталог для CRUD-операций, через кэш, если он включён.
func (d *runtimeDependencies) catalogStore() domain.CatalogStore {
	if d.cache != nil {
		return d.cache
	}
	return d.catalog
}

// stockLedger возвращает каталог для оформления заказов, где остаток всегда читается из хранилища.
func (d *runtimeDependencies) stockLedger() domain.StockLedger {
	if d.cache != nil {
		return d.cache.Ledger()
	}
	return d.catalog
}

func (d *runtimeDependencies) registerHealthChecks(h *health.Handler) {
	if d.pg != nil {
		h.RegisterChecker("postgres", health.NewFuncChecker("postgres", d.pg.Ping))
	} else {
		h.RegisterChecker("storage", health.NewFuncChecker("storage", func(context.Context) error { return nil }))
	}
	if d.redis != nil {
		h.RegisterChecker("redis", health.NewOptionalChecker("redis", redisstore.Checker(d.redis)))
	}
}

// Close закрывает клиентов хранилищ.
func (d *runtimeDependencies) Close() error {
	var errs []error
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if d.pg != nil {
		if err := d.pg.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}

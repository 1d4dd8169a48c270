package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/catalog/internal/domain"
)

const (
	// DefaultItemTTL: время жизни позиции в кэше.
	DefaultItemTTL = 10 * time.Minute

	itemKeyPrefix = "catalog:item:"
)

// setIfCurrent кладёт позицию в кэш, только если поколение ключа не менялось с момента,
// когда читатель пошёл в хранилище. KEYS: данные, поколение. ARGV: значение, поколение, TTL в мс.
var setIfCurrent = goredis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[2] then
	return 0
end
return redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
`)

// bumpAndDelete сдвигает поколение и удаляет данные. KEYS: данные, поколение. ARGV: TTL поколения в мс.
var bumpAndDelete = goredis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return redis.call('DEL', KEYS[1])
`)

// cachedItem: форма позиции в кэше. Отдельна от доменной, чтобы её json-теги не влияли на домен.
type cachedItem struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CategoryID   string    `json:"categoryId"`
	CategoryName string    `json:"categoryName"`
	PriceMinor   int64     `json:"priceMinor"`
	Stock        int       `json:"stock"`
	ReleaseDate  time.Time `json:"releaseDate"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toCached(item domain.CatalogItem) cachedItem {
	return cachedItem{
		ID:           item.ID,
		Name:         item.Name,
		CategoryID:   item.Category.ID,
		CategoryName: item.Category.Name,
		PriceMinor:   item.PriceMinor,
		Stock:        item.Stock,
		ReleaseDate:  item.ReleaseDate,
		Version:      item.Version,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
}

func (c cachedItem) toDomain() domain.CatalogItem {
	return domain.CatalogItem{
		ID:          c.ID,
		Name:        c.Name,
		Category:    domain.CategoryRef{ID: c.CategoryID, Name: c.CategoryName},
		PriceMinor:  c.PriceMinor,
		Stock:       c.Stock,
		ReleaseDate: c.ReleaseDate,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// CachedCatalog реализует cache-aside поверх каталога: чтение позиции идёт через Redis,
// любая запись в позицию сбрасывает её ключ. Ошибки Redis не ломают запрос, он уходит в хранилище.
//
// У каждой позиции есть счётчик поколения. Запись сдвигает его вместе с удалением данных,
// а промах кладёт прочитанное значение в кэш, только если поколение не сдвинулось за время чтения.
// Так снимок, прочитанный до параллельной записи, не возвращается в кэш после её сброса.
//
// Остаток из кэша может отставать, поэтому оформление заказов читает позиции напрямую из хранилища.
type CachedCatalog struct {
	domain.CatalogStore

	client goredis.Cmdable
	ttl    time.Duration
	logger *log.Entry
	group  singleflight.Group
}

// NewCachedCatalog оборачивает store кэшем.
func NewCachedCatalog(store domain.CatalogStore, client goredis.Cmdable, ttl time.Duration, logger *log.Entry) *CachedCatalog {
	if ttl <= 0 {
		ttl = DefaultItemTTL
	}
	if logger == nil {
		logger = log.WithField("component", "item-cache")
	}
	return &CachedCatalog{CatalogStore: store, client: client, ttl: ttl, logger: logger}
}

// FindItemByID отдаёт позицию из кэша, при промахе читает хранилище.
// Параллельные промахи по одному ключу схлопываются в одно чтение.
func (c *CachedCatalog) FindItemByID(ctx context.Context, id string) (domain.CatalogItem, error) {
	key := itemKey(id)

	if item, ok := c.lookup(ctx, key); ok {
		return item, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if item, ok := c.lookup(ctx, key); ok {
			return item, nil
		}
		gen, cacheable := c.generation(ctx, id)
		item, err := c.CatalogStore.FindItemByID(ctx, id)
		if err != nil {
			return domain.CatalogItem{}, err
		}
		if cacheable {
			c.store(ctx, id, gen, item)
		}
		return item, nil
	})
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return v.(domain.CatalogItem), nil
}

func (c *CachedCatalog) CreateItem(ctx context.Context, item domain.CatalogItem) (domain.CatalogItem, error) {
	created, err := c.CatalogStore.CreateItem(ctx, item)
	c.invalidate(ctx, item.ID)
	return created, err
}

func (c *CachedCatalog) SaveItem(ctx context.Context, item domain.CatalogItem) (domain.CatalogItem, error) {
	saved, err := c.CatalogStore.SaveItem(ctx, item)
	c.invalidate(ctx, item.ID)
	return saved, err
}

func (c *CachedCatalog) DeleteItem(ctx context.Context, id string) (domain.CatalogItem, error) {
	deleted, err := c.CatalogStore.DeleteItem(ctx, id)
	c.invalidate(ctx, id)
	return deleted, err
}

func (c *CachedCatalog) DecrementStock(ctx context.Context, id string, qty int) (domain.CatalogItem, error) {
	item, err := c.CatalogStore.DecrementStock(ctx, id, qty)
	c.invalidate(ctx, id)
	return item, err
}

func (c *CachedCatalog) IncrementStock(ctx context.Context, id string, qty int) (domain.CatalogItem, error) {
	item, err := c.CatalogStore.IncrementStock(ctx, id, qty)
	c.invalidate(ctx, id)
	return item, err
}

// Ledger возвращает вид каталога для оформления заказов: позиции читаются из хранилища
// в обход кэша, а списание и возврат остатка по-прежнему сбрасывают ключ.
func (c *CachedCatalog) Ledger() domain.StockLedger {
	return ledgerView{c}
}

type ledgerView struct {
	*CachedCatalog
}

func (v ledgerView) FindItemByID(ctx context.Context, id string) (domain.CatalogItem, error) {
	return v.CatalogStore.FindItemByID(ctx, id)
}

func (c *CachedCatalog) lookup(ctx context.Context, key string) (domain.CatalogItem, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.logger.WithError(err).WithField("key", key).Warn("item cache read failed")
		}
		return domain.CatalogItem{}, false
	}

	var cached cachedItem
	if err := json.Unmarshal(raw, &cached); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("item cache entry is corrupted")
		return domain.CatalogItem{}, false
	}
	return cached.toDomain(), true
}

// generation читает текущее поколение позиции. Без ответа Redis кэшировать нельзя.
func (c *CachedCatalog) generation(ctx context.Context, id string) (string, bool) {
	gen, err := c.client.Get(ctx, generationKey(id)).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return "0", true
	case err != nil:
		c.logger.WithError(err).WithField("item_id", id).Warn("item cache generation read failed")
		return "", false
	}
	return gen, true
}

func (c *CachedCatalog) store(ctx context.Context, id, gen string, item domain.CatalogItem) {
	key := itemKey(id)
	raw, err := json.Marshal(toCached(item))
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("item cache encode failed")
		return
	}
	stored, err := setIfCurrent.Run(ctx, c.client, []string{key, generationKey(id)}, raw, gen, c.ttl.Milliseconds()).Result()
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("item cache write failed")
		return
	}
	if stored != "OK" {
		c.logger.WithField("key", key).Debug("item changed while reading, cache fill skipped")
	}
}

// invalidate сбрасывает ключ даже после неудачной записи: состояние хранилища могло измениться.
func (c *CachedCatalog) invalidate(ctx context.Context, id string) {
	keys := []string{itemKey(id), generationKey(id)}
	if err := bumpAndDelete.Run(context.WithoutCancel(ctx), c.client, keys, c.ttl.Milliseconds()).Err(); err != nil {
		c.logger.WithError(err).WithField("item_id", id).Warn("item cache invalidation failed")
	}
}

// Ключи одной позиции делят hash tag, чтобы скрипты работали и в Redis Cluster.
func itemKey(id string) string {
	return fmt.Sprintf("%s{%s}", itemKeyPrefix, id)
}

func generationKey(id string) string {
	return fmt.Sprintf("%s{%s}:gen", itemKeyPrefix, id)
}

var _ domain.CatalogStore = (*CachedCatalog)(nil)

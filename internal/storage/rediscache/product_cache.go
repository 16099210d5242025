// Package rediscache — read-through кэш каталога поверх любого ProductRepository.
// Сток меняется часто, поэтому любая запись сбрасывает карточку и все закэшированные списки.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const (
	defaultTTL    = time.Minute
	defaultPrefix = "shop:products"
)

// Option настраивает ProductCache.
type Option func(*ProductCache)

// WithTTL задаёт время жизни записей.
func WithTTL(ttl time.Duration) Option {
	return func(c *ProductCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithPrefix задаёт префикс ключей.
func WithPrefix(prefix string) Option {
	return func(c *ProductCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *ProductCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// ProductCache реализует domain.ProductRepository. Ошибки redis не ломают запросы:
// чтение уходит в next, запись в кэш пропускается.
type ProductCache struct {
	next   domain.ProductRepository
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *log.Entry
}

// New создаёт кэширующий декоратор.
func New(next domain.ProductRepository, rdb *redis.Client, opts ...Option) *ProductCache {
	c := &ProductCache{
		next:   next,
		rdb:    rdb,
		ttl:    defaultTTL,
		prefix: defaultPrefix,
		logger: log.WithField("component", "product-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClient создаёт клиента redis.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// Ping проверяет доступность redis.
func (c *ProductCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *ProductCache) productKey(id string) string {
	return c.prefix + ":item:" + id
}

func (c *ProductCache) listKey(filter domain.ProductFilter) string {
	scope := "public"
	if filter.IncludeHidden {
		scope = "all"
	}
	return fmt.Sprintf("%s:list:%s:%s", c.prefix, scope, strings.ToLower(filter.Category))
}

// listIndexKey — множество всех закэшированных списков, чтобы сбрасывать их одной командой.
func (c *ProductCache) listIndexKey() string {
	return c.prefix + ":lists"
}

func (c *ProductCache) Get(ctx context.Context, id string) (domain.Product, error) {
	var product domain.Product
	if c.load(ctx, c.productKey(id), &product) {
		return product, nil
	}

	product, err := c.next.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	c.store(ctx, c.productKey(id), product)
	return product, nil
}

func (c *ProductCache) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	key := c.listKey(filter)

	var products []domain.Product
	if c.load(ctx, key, &products) {
		return products, nil
	}

	products, err := c.next.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if c.store(ctx, key, products) {
		if err := c.rdb.SAdd(ctx, c.listIndexKey(), key).Err(); err != nil {
			c.logger.WithError(err).Warn("register cached list failed")
		}
	}
	return products, nil
}

func (c *ProductCache) Create(ctx context.Context, product domain.Product) error {
	if err := c.next.Create(ctx, product); err != nil {
		return err
	}
	c.invalidate(ctx, product.ID)
	return nil
}

func (c *ProductCache) Save(ctx context.Context, product domain.Product) error {
	if err := c.next.Save(ctx, product); err != nil {
		return err
	}
	c.invalidate(ctx, product.ID)
	return nil
}

func (c *ProductCache) Delete(ctx context.Context, id string) error {
	if err := c.next.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

// ReserveStock всегда идёт в хранилище: решение о стоке принимается только по первичным данным.
func (c *ProductCache) ReserveStock(ctx context.Context, lines []domain.StockLine) ([]domain.Product, error) {
	reserved, err := c.next.ReserveStock(ctx, lines)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, stockLineIDs(lines)...)
	return reserved, nil
}

func (c *ProductCache) ReleaseStock(ctx context.Context, lines []domain.StockLine) ([]string, error) {
	skipped, err := c.next.ReleaseStock(ctx, lines)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, stockLineIDs(lines)...)
	return skipped, nil
}

func (c *ProductCache) load(ctx context.Context, key string, dst any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).WithField("key", key).Warn("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache entry is corrupted")
		return false
	}
	return true
}

func (c *ProductCache) store(ctx context.Context, key string, value any) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache encode failed")
		return false
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache write failed")
		return false
	}
	return true
}

// invalidate удаляет карточки и все списки. Выполняется даже после отмены запроса:
// иначе в кэше останется устаревший сток.
func (c *ProductCache) invalidate(ctx context.Context, ids ...string) {
	ctx = context.WithoutCancel(ctx)

	lists, err := c.rdb.SMembers(ctx, c.listIndexKey()).Result()
	if err != nil {
		c.logger.WithError(err).Warn("read cached list index failed")
	}

	keys := make([]string, 0, len(ids)+len(lists)+1)
	for _, id := range ids {
		keys = append(keys, c.productKey(id))
	}
	keys = append(keys, lists...)
	keys = append(keys, c.listIndexKey())

	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.WithError(err).WithField("product_ids", ids).Warn("cache invalidation failed")
	}
}

func stockLineIDs(lines []domain.StockLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

var _ domain.ProductRepository = (*ProductCache)(nil)

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/shop/internal/health"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
	"github.com/vladislavdragonenkov/shop/internal/storage/postgres"
	"github.com/vladislavdragonenkov/shop/internal/storage/rediscache"
)

// runtimeDependencies — хранилища, выбранные по конфигурации.
type runtimeDependencies struct {
	productRepo     domain.ProductRepository
	orderRepo       domain.OrderRepository
	userRepo        domain.UserRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository

	storageChecker healthcheck.Checker
	cacheChecker   healthcheck.Checker

	closeFns []func() error
}

// Close освобождает подключения в обратном порядке открытия.
func (d *runtimeDependencies) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	for i := len(d.closeFns) - 1; i >= 0; i-- {
		if err := d.closeFns[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closeFns = nil
	return errors.Join(errs...)
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	var (
		deps *runtimeDependencies
		err  error
	)
	switch cfg.StorageDriver {
	case StorageDriverMemory:
		deps = initMemoryStorage()
	case StorageDriverPostgres:
		deps, err = initPostgresStorage(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	logger.WithField("driver", cfg.StorageDriver).Info("storage initialized")

	if cfg.RedisAddr != "" {
		client := rediscache.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		attachProductCache(deps, client, cfg, logger)
	}
	return deps, nil
}

func initMemoryStorage() *runtimeDependencies {
	return &runtimeDependencies{
		productRepo:     memory.NewProductRepository(),
		orderRepo:       memory.NewOrderRepository(),
		userRepo:        memory.NewUserRepository(),
		outboxRepo:      memory.NewOutboxRepository(),
		timelineRepo:    memory.NewTimelineRepository(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker: healthcheck.NewPingChecker("storage", func(context.Context) error {
			return nil
		}),
	}
}

func initPostgresStorage(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("postgres storage requires a DSN")
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("postgres migrations applied")
	}

	return &runtimeDependencies{
		productRepo:     postgres.NewProductRepository(store),
		orderRepo:       postgres.NewOrderRepository(store),
		userRepo:        postgres.NewUserRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		timelineRepo:    postgres.NewTimelineRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewPingChecker("storage", store.Ping),
		closeFns:        []func() error{store.Close},
	}, nil
}

// attachProductCache оборачивает каталог read-through кэшем. Redis необязателен:
// его недоступность переводит сервис в degraded, а запросы идут в хранилище.
func attachProductCache(deps *runtimeDependencies, client *redis.Client, cfg Config, logger *log.Entry) {
	cache := rediscache.New(deps.productRepo, client,
		rediscache.WithTTL(cfg.ProductCacheTTL),
		rediscache.WithLogger(logger.WithField("component", "product-cache")),
	)
	deps.productRepo = cache
	deps.cacheChecker = healthcheck.NewOptionalChecker("redis", cache.Ping)
	deps.closeFns = append(deps.closeFns, client.Close)
	logger.WithField("addr", cfg.RedisAddr).Info("product cache enabled")
}

package rediscache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

// countingRepo считает обращения к первичному хранилищу.
type countingRepo struct {
	domain.ProductRepository
	gets  atomic.Int32
	lists atomic.Int32
}

func (r *countingRepo) Get(ctx context.Context, id string) (domain.Product, error) {
	r.gets.Add(1)
	return r.ProductRepository.Get(ctx, id)
}

func (r *countingRepo) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	r.lists.Add(1)
	return r.ProductRepository.List(ctx, filter)
}

func setupCache(t *testing.T) (*miniredis.Miniredis, *countingRepo, *ProductCache) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &countingRepo{ProductRepository: memory.NewProductRepository()}
	require.NoError(t, repo.Create(context.Background(), domain.Product{
		ID: "P1", Name: "Soap", Category: "Bath", PriceMinor: 300, Stock: 5, IsVisible: true,
	}))

	return mr, repo, New(repo, client, WithTTL(time.Minute), WithPrefix("test:products"))
}

func TestGetIsReadThrough(t *testing.T) {
	ctx := context.Background()
	mr, repo, cache := setupCache(t)

	first, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	second, err := cache.Get(ctx, "P1")
	require.NoError(t, err)

	require.Equal(t, first.Stock, second.Stock)
	require.Equal(t, int32(1), repo.gets.Load())
	require.True(t, mr.Exists("test:products:item:P1"))
	require.Equal(t, time.Minute, mr.TTL("test:products:item:P1"))
}

func TestReserveStockInvalidatesCachedProductAndLists(t *testing.T) {
	ctx := context.Background()
	mr, repo, cache := setupCache(t)

	_, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	listed, err := cache.List(ctx, domain.ProductFilter{Category: "Bath"})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	_, err = cache.ReserveStock(ctx, []domain.StockLine{{ProductID: "P1", Quantity: 2}})
	require.NoError(t, err)
	require.False(t, mr.Exists("test:products:item:P1"))
	require.False(t, mr.Exists("test:products:list:public:bath"))

	product, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, 3, product.Stock)
	require.Equal(t, int32(2), repo.gets.Load())

	listed, err = cache.List(ctx, domain.ProductFilter{Category: "Bath"})
	require.NoError(t, err)
	require.Equal(t, 3, listed[0].Stock)
	require.Equal(t, int32(2), repo.lists.Load())
}

func TestFailedReservationKeepsCache(t *testing.T) {
	ctx := context.Background()
	mr, _, cache := setupCache(t)

	_, err := cache.Get(ctx, "P1")
	require.NoError(t, err)

	_, err = cache.ReserveStock(ctx, []domain.StockLine{{ProductID: "P1", Quantity: 50}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.True(t, mr.Exists("test:products:item:P1"))
}

func TestListsAreScopedByVisibility(t *testing.T) {
	ctx := context.Background()
	_, repo, cache := setupCache(t)
	require.NoError(t, cache.Create(ctx, domain.Product{ID: "P2", Name: "Draft", Category: "Bath"}))

	public, err := cache.List(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	all, err := cache.List(ctx, domain.ProductFilter{IncludeHidden: true})
	require.NoError(t, err)

	require.Len(t, public, 1)
	require.Len(t, all, 2)
	require.Equal(t, int32(2), repo.lists.Load())
}

func TestRedisOutageFallsBackToRepository(t *testing.T) {
	ctx := context.Background()
	mr, repo, cache := setupCache(t)
	mr.Close()

	product, err := cache.Get(ctx, "P1")
	require.NoError(t, err)
	require.Equal(t, "Soap", product.Name)
	require.Equal(t, int32(1), repo.gets.Load())

	require.Error(t, cache.Ping(ctx))
	require.NoError(t, cache.Delete(ctx, "P1"))
}

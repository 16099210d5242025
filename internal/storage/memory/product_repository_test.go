package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/storage/memory"
)

func seedProducts(t *testing.T, repo domain.ProductRepository, stock map[string]int) {
	t.Helper()
	now := time.Now().UTC()
	for id, qty := range stock {
		product := domain.Product{
			ID:         id,
			Name:       "Product " + id,
			PriceMinor: 1000,
			Stock:      qty,
			IsVisible:  true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		product.ApplyDefaults()
		if err := repo.Create(context.Background(), product); err != nil {
			t.Fatalf("seed %s failed: %v", id, err)
		}
	}
}

func stockOf(t *testing.T, repo domain.ProductRepository, id string) int {
	t.Helper()
	product, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s failed: %v", id, err)
	}
	return product.Stock
}

func TestProductRepository_ReserveStockAllLines(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	seedProducts(t, repo, map[string]int{"p1": 5, "p2": 3})

	reserved, err := repo.ReserveStock(ctx, []domain.StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if len(reserved) != 2 {
		t.Fatalf("expected 2 products, got %d", len(reserved))
	}
	if got := stockOf(t, repo, "p1"); got != 3 {
		t.Fatalf("expected p1 stock 3, got %d", got)
	}
	if got := stockOf(t, repo, "p2"); got != 2 {
		t.Fatalf("expected p2 stock 2, got %d", got)
	}
}

func TestProductRepository_ReserveStockIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	seedProducts(t, repo, map[string]int{"p1": 5, "p2": 2})

	_, err := repo.ReserveStock(ctx, []domain.StockLine{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 3},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected InsufficientStockError, got %T", err)
	}
	if stockErr.ProductID != "p2" || stockErr.Available != 2 || stockErr.Requested != 3 {
		t.Fatalf("unexpected error details: %+v", stockErr)
	}

	if got := stockOf(t, repo, "p1"); got != 5 {
		t.Fatalf("p1 stock must stay 5, got %d", got)
	}
	if got := stockOf(t, repo, "p2"); got != 2 {
		t.Fatalf("p2 stock must stay 2, got %d", got)
	}
}

func TestProductRepository_ReserveStockAggregatesDuplicateLines(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	seedProducts(t, repo, map[string]int{"p1": 3})

	// По отдельности каждая строка проходит, вместе они превышают сток.
	_, err := repo.ReserveStock(ctx, []domain.StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p1", Quantity: 2},
	})
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if got := stockOf(t, repo, "p1"); got != 3 {
		t.Fatalf("stock must stay 3, got %d", got)
	}
}

func TestProductRepository_ReserveStockMissingProduct(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	seedProducts(t, repo, map[string]int{"p1": 3})

	_, err := repo.ReserveStock(ctx, []domain.StockLine{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "ghost", Quantity: 1},
	})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if got := stockOf(t, repo, "p1"); got != 3 {
		t.Fatalf("stock must stay 3, got %d", got)
	}
}

func TestProductRepository_ReleaseStockSkipsMissing(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	seedProducts(t, repo, map[string]int{"p1": 1})

	skipped, err := repo.ReleaseStock(ctx, []domain.StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "gone", Quantity: 4},
	})
	if err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != "gone" {
		t.Fatalf("expected gone to be skipped, got %v", skipped)
	}
	if got := stockOf(t, repo, "p1"); got != 3 {
		t.Fatalf("expected p1 stock 3, got %d", got)
	}
}

func TestProductRepository_ConcurrentReservationsNeverOversell(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	seedProducts(t, repo, map[string]int{"p1": 10})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.ReserveStock(ctx, []domain.StockLine{{ProductID: "p1", Quantity: 1}}); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 10 {
		t.Fatalf("expected exactly 10 successful reservations, got %d", success)
	}
	if got := stockOf(t, repo, "p1"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
}

func TestProductRepository_ListAndSave(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewProductRepository()
	seedProducts(t, repo, map[string]int{"p1": 1, "p2": 1})

	hidden, err := repo.Get(ctx, "p2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	hidden.IsVisible = false
	if err := repo.Save(ctx, hidden); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := repo.Save(ctx, hidden); !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for stale save, got %v", err)
	}

	visible, err := repo.List(ctx, domain.ProductFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != "p1" {
		t.Fatalf("expected only visible product, got %+v", visible)
	}

	all, err := repo.List(ctx, domain.ProductFilter{IncludeHidden: true, Category: "general"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 products, got %d", len(all))
	}

	if err := repo.Delete(ctx, "p1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := repo.Get(ctx, "p1"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

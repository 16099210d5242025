package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// productRepositoryInMemory — in-memory каталог. Все операции со стоком идут под одним мьютексом,
// поэтому ReserveStock атомарен относительно любых других изменений.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory репозиторий каталога для локальной разработки и тестов.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
	}
}

func (r *productRepositoryInMemory) Create(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[product.ID]; exists {
		return domain.ErrVersionConflict
	}
	r.items[product.ID] = product.Clone()
	return nil
}

func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product.Clone(), nil
}

func (r *productRepositoryInMemory) List(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.items))
	for _, product := range r.items {
		if !filter.Matches(product) {
			continue
		}
		result = append(result, product.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return result, nil
}

// Save перезаписывает карточку, проверяя версию (optimistic locking).
func (r *productRepositoryInMemory) Save(_ context.Context, product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[product.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if current.Version != product.Version {
		return domain.ErrVersionConflict
	}
	product.Version++
	r.items[product.ID] = product.Clone()
	return nil
}

func (r *productRepositoryInMemory) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return domain.ErrProductNotFound
	}
	delete(r.items, id)
	return nil
}

// ReserveStock сначала проверяет все строки и только потом списывает.
func (r *productRepositoryInMemory) ReserveStock(_ context.Context, lines []domain.StockLine) ([]domain.Product, error) {
	aggregated, err := domain.AggregateStockLines(lines)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, line := range aggregated {
		product, ok := r.items[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, line.ProductID)
		}
		if product.Stock < line.Quantity {
			return nil, &domain.InsufficientStockError{
				ProductID: product.ID,
				Name:      product.Name,
				Requested: line.Quantity,
				Available: product.Stock,
			}
		}
	}

	now := time.Now().UTC()
	reserved := make([]domain.Product, 0, len(aggregated))
	for _, line := range aggregated {
		product := r.items[line.ProductID]
		product.Stock -= line.Quantity
		product.Version++
		product.UpdatedAt = now
		r.items[line.ProductID] = product
		reserved = append(reserved, product.Clone())
	}

	return reserved, nil
}

// ReleaseStock возвращает сток; отсутствующие товары пропускаются.
func (r *productRepositoryInMemory) ReleaseStock(_ context.Context, lines []domain.StockLine) ([]string, error) {
	aggregated, err := domain.AggregateStockLines(lines)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	var skipped []string
	for _, line := range aggregated {
		product, ok := r.items[line.ProductID]
		if !ok {
			skipped = append(skipped, line.ProductID)
			continue
		}
		product.Stock += line.Quantity
		product.Version++
		product.UpdatedAt = now
		r.items[line.ProductID] = product
	}

	return skipped, nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)

// Package catalog управляет карточками товаров. Сток здесь задаётся администратором напрямую,
// списание и возврат под заказы выполняет движок заказов.
package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

// ProductPatch — набор полей карточки для создания и частичного обновления. nil означает «не задано».
type ProductPatch struct {
	Name               *string
	Category           *string
	PriceMinor         *int64
	OriginalPriceMinor *int64
	SalePriceMinor     *int64
	IsSale             *bool
	Stock              *int
	Image              *string
	Description        *string
	IsEcoFriendly      *bool
	IsNew              *bool
	InStock            *bool
	IsVisible          *bool
	Rating             *float64
	Reviews            *int
	Tags               *[]string
	Features           *[]string
	// ExpectedVersion включает проверку версии, которую видел клиент.
	ExpectedVersion *int64
}

// Service — сервис каталога.
type Service struct {
	products domain.ProductRepository
	logger   *log.Entry
	now      func() time.Time
}

// NewService создаёт сервис каталога.
func NewService(products domain.ProductRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "catalog")
	}
	return &Service{
		products: products,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// List возвращает каталог. Скрытые товары видит только admin.
func (s *Service) List(ctx context.Context, caller domain.Caller, category string) ([]domain.Product, error) {
	return s.products.List(ctx, domain.ProductFilter{
		Category:      strings.TrimSpace(category),
		IncludeHidden: caller.IsAdmin(),
	})
}

// Get возвращает карточку; скрытая карточка для не-admin неотличима от отсутствующей.
func (s *Service) Get(ctx context.Context, caller domain.Caller, id string) (domain.Product, error) {
	product, err := s.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.IsVisible && !caller.IsAdmin() {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// Create добавляет карточку (admin). Не заданные поля получают значения по умолчанию:
// товар виден и в наличии, категория General, рейтинг 4.
func (s *Service) Create(ctx context.Context, caller domain.Caller, fields ProductPatch) (domain.Product, error) {
	if err := requireAdmin(caller); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{InStock: true, IsVisible: true}
	fields.apply(&product)
	product.ApplyDefaults()
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}

	now := s.now()
	product.ID = uuid.NewString()
	product.Version = 0
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := s.products.Create(ctx, product); err != nil {
		return domain.Product{}, err
	}

	s.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"stock":      product.Stock,
	}).Info("product created")
	return product, nil
}

// Update применяет частичное обновление (admin).
func (s *Service) Update(ctx context.Context, caller domain.Caller, id string, patch ProductPatch) (domain.Product, error) {
	if err := requireAdmin(caller); err != nil {
		return domain.Product{}, err
	}

	product, err := s.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if patch.ExpectedVersion != nil && *patch.ExpectedVersion != product.Version {
		return domain.Product{}, domain.ErrVersionConflict
	}

	patch.apply(&product)
	product.ApplyDefaults()
	if errs := product.Validate(); len(errs) > 0 {
		return domain.Product{}, errs[0]
	}
	product.UpdatedAt = s.now()

	if err := s.products.Save(ctx, product); err != nil {
		return domain.Product{}, err
	}
	product.Version++

	s.logger.WithField("product_id", product.ID).Info("product updated")
	return product, nil
}

// Delete удаляет карточку (admin). Заказы сохраняют снимок позиции.
func (s *Service) Delete(ctx context.Context, caller domain.Caller, id string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("product_id", id).Info("product deleted")
	return nil
}

func (p ProductPatch) apply(product *domain.Product) {
	setIf(&product.Name, p.Name)
	setIf(&product.Category, p.Category)
	setIf(&product.PriceMinor, p.PriceMinor)
	setIf(&product.OriginalPriceMinor, p.OriginalPriceMinor)
	setIf(&product.SalePriceMinor, p.SalePriceMinor)
	setIf(&product.IsSale, p.IsSale)
	setIf(&product.Stock, p.Stock)
	setIf(&product.Image, p.Image)
	setIf(&product.Description, p.Description)
	setIf(&product.IsEcoFriendly, p.IsEcoFriendly)
	setIf(&product.IsNew, p.IsNew)
	setIf(&product.InStock, p.InStock)
	setIf(&product.IsVisible, p.IsVisible)
	setIf(&product.Rating, p.Rating)
	setIf(&product.Reviews, p.Reviews)
	if p.Tags != nil {
		product.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Features != nil {
		product.Features = append([]string(nil), (*p.Features)...)
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func requireAdmin(caller domain.Caller) error {
	if !caller.Authenticated() {
		return domain.ErrUnauthenticated
	}
	if !caller.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}

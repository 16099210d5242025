package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultProductCategory присваивается товару без категории.
	DefaultProductCategory = "General"
	// DefaultProductRating — стартовый рейтинг новой карточки.
	DefaultProductRating = 4.0
	// MaxQuantity ограничивает сток товара и количество по позиции (столбцы INTEGER в postgres).
	MaxQuantity = math.MaxInt32
)

// Product — карточка каталога. Движок заказов меняет только Stock.
type Product struct {
	ID                 string
	Name               string
	Category           string
	PriceMinor         int64
	OriginalPriceMinor int64
	SalePriceMinor     int64
	IsSale             bool
	Stock              int
	Image              string
	Description        string
	IsEcoFriendly      bool
	IsNew              bool
	InStock            bool
	IsVisible          bool
	Rating             float64
	Reviews            int
	Tags               []string
	Features           []string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProductFilter ограничивает выборку каталога.
type ProductFilter struct {
	Category      string
	IncludeHidden bool
}

// Matches проверяет товар на соответствие фильтру.
func (f ProductFilter) Matches(p Product) bool {
	if !f.IncludeHidden && !p.IsVisible {
		return false
	}
	if f.Category != "" && !strings.EqualFold(f.Category, p.Category) {
		return false
	}
	return true
}

// ApplyDefaults заполняет поля по умолчанию для новой карточки.
func (p *Product) ApplyDefaults() {
	p.Name = strings.TrimSpace(p.Name)
	if strings.TrimSpace(p.Category) == "" {
		p.Category = DefaultProductCategory
	}
	if p.Rating == 0 {
		p.Rating = DefaultProductRating
	}
}

// Validate проверяет инварианты карточки.
func (p *Product) Validate() []error {
	var errs []error

	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.PriceMinor < 0 || p.OriginalPriceMinor < 0 || p.SalePriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrStockNegative)
	}
	if p.Stock > MaxQuantity {
		errs = append(errs, ErrStockTooLarge)
	}

	return errs
}

// Clone возвращает копию без общих слайсов.
func (p Product) Clone() Product {
	dst := p
	dst.Tags = append([]string(nil), p.Tags...)
	dst.Features = append([]string(nil), p.Features...)
	return dst
}

// StockLine — количество товара для резерва или возврата.
type StockLine struct {
	ProductID string
	Quantity  int
}

// AggregateStockLines склеивает строки одного товара и сортирует по ProductID,
// чтобы блокировки всегда брались в одном порядке. Суммарное количество по товару
// не может превышать MaxQuantity.
func AggregateStockLines(lines []StockLine) ([]StockLine, error) {
	totals := make(map[string]int, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: %s", ErrItemQtyInvalid, line.ProductID)
		}
		if line.Quantity > MaxQuantity-totals[line.ProductID] {
			return nil, fmt.Errorf("%w: %s", ErrItemQtyTooLarge, line.ProductID)
		}
		totals[line.ProductID] += line.Quantity
	}

	result := make([]StockLine, 0, len(totals))
	for id, qty := range totals {
		result = append(result, StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}

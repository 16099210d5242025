// Package seed наполняет каталог и учётные записи из YAML-файла.
// Повторный запуск с тем же файлом ничего не дублирует: товары сверяются по имени, пользователи по email.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/shop/internal/domain"
	"github.com/vladislavdragonenkov/shop/internal/service/accounts"
	"github.com/vladislavdragonenkov/shop/internal/service/catalog"
)

// File — содержимое seed-файла.
type File struct {
	Products []Product `yaml:"products"`
	Users    []User    `yaml:"users"`
}

// Product — карточка товара. Цены в минимальных единицах валюты.
type Product struct {
	Name               string   `yaml:"name"`
	Category           string   `yaml:"category"`
	PriceMinor         int64    `yaml:"price_minor"`
	OriginalPriceMinor int64    `yaml:"original_price_minor"`
	SalePriceMinor     int64    `yaml:"sale_price_minor"`
	IsSale             bool     `yaml:"is_sale"`
	Stock              int      `yaml:"stock"`
	Image              string   `yaml:"image"`
	Description        string   `yaml:"description"`
	IsEcoFriendly      bool     `yaml:"is_eco_friendly"`
	IsNew              bool     `yaml:"is_new"`
	Hidden             bool     `yaml:"hidden"`
	Rating             *float64 `yaml:"rating"`
	Reviews            int      `yaml:"reviews"`
	Tags               []string `yaml:"tags"`
	Features           []string `yaml:"features"`
}

// User — учётная запись.
type User struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	Role  string `yaml:"role"`
}

// Result — итог применения seed-файла.
type Result struct {
	ProductsCreated int
	ProductsSkipped int
	UsersCreated    int
	UsersSkipped    int
}

// Catalog — операции каталога, нужные seed.
type Catalog interface {
	List(ctx context.Context, caller domain.Caller, category string) ([]domain.Product, error)
	Create(ctx context.Context, caller domain.Caller, fields catalog.ProductPatch) (domain.Product, error)
}

// Accounts — операции учётных записей, нужные seed.
type Accounts interface {
	Register(ctx context.Context, caller domain.Caller, in accounts.RegisterInput) (domain.User, error)
}

// Load разбирает YAML. Неизвестные ключи считаются ошибкой.
func Load(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	return f, nil
}

// LoadFile читает seed-файл с диска.
func LoadFile(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer fh.Close()
	return Load(fh)
}

// Apply создаёт недостающие товары и пользователей от имени системного вызывающего.
func Apply(ctx context.Context, products Catalog, users Accounts, f File, logger *log.Entry) (Result, error) {
	if logger == nil {
		logger = log.WithField("component", "seed")
	}
	caller := domain.SystemCaller()
	var res Result

	if len(f.Products) > 0 {
		existing, err := products.List(ctx, caller, "")
		if err != nil {
			return res, fmt.Errorf("list products: %w", err)
		}
		known := make(map[string]struct{}, len(existing))
		for _, p := range existing {
			known[nameKey(p.Name)] = struct{}{}
		}

		for i, item := range f.Products {
			key := nameKey(item.Name)
			if _, ok := known[key]; ok {
				res.ProductsSkipped++
				continue
			}
			created, err := products.Create(ctx, caller, item.patch())
			if err != nil {
				return res, fmt.Errorf("product #%d %q: %w", i+1, item.Name, err)
			}
			known[key] = struct{}{}
			res.ProductsCreated++
			logger.WithFields(log.Fields{"product_id": created.ID, "name": created.Name}).Debug("seed product created")
		}
	}

	for i, item := range f.Users {
		created, err := users.Register(ctx, caller, accounts.RegisterInput{Name: item.Name, Email: item.Email, Role: item.Role})
		if errors.Is(err, domain.ErrEmailTaken) {
			res.UsersSkipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("user #%d %q: %w", i+1, item.Email, err)
		}
		res.UsersCreated++
		logger.WithFields(log.Fields{"user_id": created.ID, "role": created.Role}).Debug("seed user created")
	}

	logger.WithFields(log.Fields{
		"products_created": res.ProductsCreated,
		"products_skipped": res.ProductsSkipped,
		"users_created":    res.UsersCreated,
		"users_skipped":    res.UsersSkipped,
	}).Info("seed applied")
	return res, nil
}

func (p Product) patch() catalog.ProductPatch {
	visible := !p.Hidden
	patch := catalog.ProductPatch{
		Name:          &p.Name,
		PriceMinor:    &p.PriceMinor,
		IsSale:        &p.IsSale,
		Stock:         &p.Stock,
		IsEcoFriendly: &p.IsEcoFriendly,
		IsNew:         &p.IsNew,
		IsVisible:     &visible,
		Reviews:       &p.Reviews,
		Rating:        p.Rating,
	}
	if p.Category != "" {
		patch.Category = &p.Category
	}
	if p.OriginalPriceMinor != 0 {
		patch.OriginalPriceMinor = &p.OriginalPriceMinor
	}
	if p.SalePriceMinor != 0 {
		patch.SalePriceMinor = &p.SalePriceMinor
	}
	if p.Image != "" {
		patch.Image = &p.Image
	}
	if p.Description != "" {
		patch.Description = &p.Description
	}
	if p.Tags != nil {
		patch.Tags = &p.Tags
	}
	if p.Features != nil {
		patch.Features = &p.Features
	}
	return patch
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

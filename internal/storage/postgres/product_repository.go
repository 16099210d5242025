package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shop/internal/domain"
)

const productColumns = `
	id, name, category, price_minor, original_price_minor, sale_price_minor, is_sale,
	stock, image, description, is_eco_friendly, is_new, in_stock, is_visible,
	rating, reviews, tags, features, version, created_at, updated_at`

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p        domain.Product
		tags     []byte
		features []byte
	)
	if err := row.Scan(
		&p.ID, &p.Name, &p.Category, &p.PriceMinor, &p.OriginalPriceMinor, &p.SalePriceMinor, &p.IsSale,
		&p.Stock, &p.Image, &p.Description, &p.IsEcoFriendly, &p.IsNew, &p.InStock, &p.IsVisible,
		&p.Rating, &p.Reviews, &tags, &features, &p.Version, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Product{}, err
	}
	if err := decodeStrings(tags, &p.Tags); err != nil {
		return domain.Product{}, fmt.Errorf("decode product tags: %w", err)
	}
	if err := decodeStrings(features, &p.Features); err != nil {
		return domain.Product{}, fmt.Errorf("decode product features: %w", err)
	}
	return p, nil
}

func (r *productRepository) Create(ctx context.Context, p domain.Product) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	tags, features, err := encodeProductLists(p)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`,
		p.ID, p.Name, p.Category, p.PriceMinor, p.OriginalPriceMinor, p.SalePriceMinor, p.IsSale,
		p.Stock, p.Image, p.Description, p.IsEcoFriendly, p.IsNew, p.InStock, p.IsVisible,
		p.Rating, p.Reviews, tags, features, p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	p, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *productRepository) List(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 OR is_visible)
		  AND ($2 = '' OR LOWER(category) = LOWER($2))
		ORDER BY created_at DESC, id DESC
	`, filter.IncludeHidden, filter.Category)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product rows: %w", err)
	}
	return products, nil
}

func (r *productRepository) Save(ctx context.Context, p domain.Product) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	tags, features, err := encodeProductLists(p)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET name = $1, category = $2, price_minor = $3, original_price_minor = $4,
		    sale_price_minor = $5, is_sale = $6, stock = $7, image = $8, description = $9,
		    is_eco_friendly = $10, is_new = $11, in_stock = $12, is_visible = $13,
		    rating = $14, reviews = $15, tags = $16, features = $17,
		    version = version + 1, updated_at = $18
		WHERE id = $19
		  AND version = $20
	`,
		p.Name, p.Category, p.PriceMinor, p.OriginalPriceMinor,
		p.SalePriceMinor, p.IsSale, p.Stock, p.Image, p.Description,
		p.IsEcoFriendly, p.IsNew, p.InStock, p.IsVisible,
		p.Rating, p.Reviews, tags, features,
		p.UpdatedAt, p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return r.resolveMiss(ctx, res, p.ID)
}

func (r *productRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := opContext(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

// ReserveStock блокирует строки товаров в порядке ID и списывает сток только если хватает по всем позициям.
func (r *productRepository) ReserveStock(ctx context.Context, lines []domain.StockLine) ([]domain.Product, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	aggregated, err := domain.AggregateStockLines(lines)
	if err != nil {
		return nil, err
	}
	reserved := make([]domain.Product, 0, len(aggregated))

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, line := range aggregated {
			var (
				name  string
				stock int
			)
			err := tx.QueryRowContext(ctx, `
				SELECT name, stock FROM products WHERE id = $1 FOR UPDATE
			`, line.ProductID).Scan(&name, &stock)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", domain.ErrProductNotFound, line.ProductID)
			}
			if err != nil {
				return fmt.Errorf("lock product %s: %w", line.ProductID, err)
			}
			if stock < line.Quantity {
				return &domain.InsufficientStockError{
					ProductID: line.ProductID,
					Name:      name,
					Requested: line.Quantity,
					Available: stock,
				}
			}
		}

		now := time.Now().UTC()
		for _, line := range aggregated {
			p, err := scanProduct(tx.QueryRowContext(ctx, `
				UPDATE products
				SET stock = stock - $1, version = version + 1, updated_at = $2
				WHERE id = $3
				RETURNING `+productColumns,
				line.Quantity, now, line.ProductID,
			))
			if err != nil {
				return fmt.Errorf("decrement stock for %s: %w", line.ProductID, err)
			}
			reserved = append(reserved, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reserved, nil
}

// ReleaseStock возвращает сток; товары, удалённые из каталога, попадают в skipped.
func (r *productRepository) ReleaseStock(ctx context.Context, lines []domain.StockLine) ([]string, error) {
	ctx, cancel := opContext(ctx)
	defer cancel()

	aggregated, err := domain.AggregateStockLines(lines)
	if err != nil {
		return nil, err
	}
	var skipped []string

	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, line := range aggregated {
			res, err := tx.ExecContext(ctx, `
				UPDATE products
				SET stock = stock + $1, version = version + 1, updated_at = $2
				WHERE id = $3
			`, line.Quantity, now, line.ProductID)
			if err != nil {
				return fmt.Errorf("increment stock for %s: %w", line.ProductID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			if affected == 0 {
				skipped = append(skipped, line.ProductID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return skipped, nil
}

func (r *productRepository) resolveMiss(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	return domain.ErrVersionConflict
}

func encodeProductLists(p domain.Product) (string, string, error) {
	tags, err := encodeStrings(p.Tags)
	if err != nil {
		return "", "", fmt.Errorf("encode product tags: %w", err)
	}
	features, err := encodeStrings(p.Features)
	if err != nil {
		return "", "", fmt.Errorf("encode product features: %w", err)
	}
	return tags, features, nil
}

// encodeStrings сериализует список в JSON-текст для колонки JSONB.
func encodeStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeStrings(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		*dst = nil
		return nil
	}
	return json.Unmarshal(raw, dst)
}

var _ domain.ProductRepository = (*productRepository)(nil)

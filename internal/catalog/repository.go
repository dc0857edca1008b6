package catalog

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/joao-fontenele/giftshop/internal/domain"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) ListActive(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, slug, price, stock, active
		FROM products
		WHERE active
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.Price, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

func (r *ProductRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p := &domain.Product{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, slug, price, stock, active
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Slug, &p.Price, &p.Stock, &p.Active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, name, price, stock, active
		FROM product_variants
		WHERE product_id = $1
		ORDER BY price
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.ProductID, &v.Name, &v.Price, &v.Stock, &v.Active); err != nil {
			return nil, err
		}
		p.Variants = append(p.Variants, v)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return p, nil
}

// Availability reports whether the product, and the variant when given, is
// active and has stock.
func (r *ProductRepository) Availability(ctx context.Context, productID, variantID string) (bool, error) {
	var available bool

	err := r.db.QueryRowContext(ctx, `
		SELECT p.active AND p.stock > 0
			AND ($2 = '' OR EXISTS (
				SELECT 1 FROM product_variants v
				WHERE v.id = $2 AND v.product_id = p.id AND v.active AND v.stock > 0
			))
		FROM products p
		WHERE p.id = $1
	`, productID, variantID).Scan(&available)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}

	return available, nil
}

func (r *ProductRepository) AddOns(ctx context.Context, ids []string) ([]domain.AddOn, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM addons
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var addons []domain.AddOn
	for rows.Next() {
		var a domain.AddOn
		if err := rows.Scan(&a.ID, &a.Name, &a.Price, &a.Active); err != nil {
			return nil, err
		}
		addons = append(addons, a)
	}

	return addons, rows.Err()
}

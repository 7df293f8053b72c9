package repositories

import (
	"context"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductRepository is a read-only view over the externally owned catalog.
type ProductRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ProductInfo, error)
}

type productRepo struct {
	db Database
}

func NewProductRepo(db Database) ProductRepository {
	return &productRepo{db: db}
}

func (r *productRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ProductInfo, error) {
	query := `
		SELECT id, name, sku, category_id, unit_price, unit_cost
		FROM products
		WHERE id = $1
	`
	p := &models.ProductInfo{}
	var unitCost decimal.NullDecimal
	err := conn(ctx, r.db).QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.SKU, &p.CategoryID, &p.UnitPrice, &unitCost)
	if err != nil {
		return nil, notFound(err, "product", id)
	}
	p.UnitCost = decimalPtr(unitCost)
	return p, nil
}

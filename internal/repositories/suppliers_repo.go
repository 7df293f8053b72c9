package repositories

import (
	"context"

	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type SupplierRepository interface {
	Create(ctx context.Context, supplier *models.Supplier) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Supplier, error)
	ListActive(ctx context.Context) ([]*models.Supplier, error)
}

type supplierRepo struct {
	db Database
}

func NewSupplierRepository(db Database) SupplierRepository {
	return &supplierRepo{db: db}
}

const supplierColumns = `id, name, contact_email, contact_phone, lead_time_days, is_local, is_preferred,
		discount_rate, minimum_order_quantity, is_active, created_at, updated_at`

func scanSupplier(row pgx.Row) (*models.Supplier, error) {
	s := &models.Supplier{}
	err := row.Scan(&s.ID, &s.Name, &s.ContactEmail, &s.ContactPhone, &s.LeadTimeDays, &s.IsLocal, &s.IsPreferred,
		&s.DiscountRate, &s.MinimumOrderQuantity, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *supplierRepo) Create(ctx context.Context, s *models.Supplier) error {
	query := `
		INSERT INTO suppliers (` + supplierColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := conn(ctx, r.db).Exec(ctx, query, s.ID, s.Name, s.ContactEmail, s.ContactPhone, s.LeadTimeDays,
		s.IsLocal, s.IsPreferred, s.DiscountRate, s.MinimumOrderQuantity, s.IsActive, s.CreatedAt, s.UpdatedAt)
	return mapPgError(err)
}

func (r *supplierRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE id = $1`
	s, err := scanSupplier(conn(ctx, r.db).QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "supplier", id)
	}
	return s, nil
}

func (r *supplierRepo) ListActive(ctx context.Context) ([]*models.Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers WHERE is_active = TRUE ORDER BY lead_time_days, name`
	rows, err := conn(ctx, r.db).Query(ctx, query)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var suppliers []*models.Supplier
	for rows.Next() {
		s, err := scanSupplier(rows)
		if err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

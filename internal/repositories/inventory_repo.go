package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockledger/internal/common"
	"stockledger/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type StockRepository interface {
	GetByProductID(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error)
	// GetOrCreateForUpdate inserts defaults when no record exists and returns
	// the row locked for the rest of the surrounding transaction.
	GetOrCreateForUpdate(ctx context.Context, defaults *models.StockRecord) (*models.StockRecord, error)
	// Update persists rec if its version is current and bumps rec.Version.
	// A stale version yields common.ErrConflict.
	Update(ctx context.Context, rec *models.StockRecord) error
	ListTracked(ctx context.Context, limit, offset int) ([]*models.StockRecord, error)
	ListLowStock(ctx context.Context) ([]*models.StockRecord, error)

	InsertMovement(ctx context.Context, m *models.MovementRecord) error
	ListMovements(ctx context.Context, productID uuid.UUID, filter models.MovementFilter) ([]*models.MovementRecord, error)
	SumMovements(ctx context.Context, productID uuid.UUID) (sum int, count int, err error)
	SalesSince(ctx context.Context, productID uuid.UUID, since time.Time) (int, error)
}

type stockRepo struct {
	db Database
}

func NewStockRepo(db Database) StockRepository {
	return &stockRepo{db: db}
}

const stockColumns = `id, product_id, quantity_on_hand, reserved_quantity, low_stock_threshold, reorder_point,
		reorder_quantity, status, track_inventory, allow_backorder, average_cost, last_cost,
		last_restocked_at, last_sold_at, version, created_at, updated_at`

func scanStock(row pgx.Row) (*models.StockRecord, error) {
	rec := &models.StockRecord{}
	var lastCost decimal.NullDecimal
	err := row.Scan(&rec.ID, &rec.ProductID, &rec.QuantityOnHand, &rec.ReservedQuantity, &rec.LowStockThreshold,
		&rec.ReorderPoint, &rec.ReorderQuantity, &rec.Status, &rec.TrackInventory, &rec.AllowBackorder,
		&rec.AverageCost, &lastCost, &rec.LastRestockedAt, &rec.LastSoldAt, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.LastCost = decimalPtr(lastCost)
	return rec, nil
}

func (r *stockRepo) GetByProductID(ctx context.Context, productID uuid.UUID) (*models.StockRecord, error) {
	query := `SELECT ` + stockColumns + ` FROM stock_records WHERE product_id = $1`
	rec, err := scanStock(conn(ctx, r.db).QueryRow(ctx, query, productID))
	if err != nil {
		return nil, notFound(err, "stock record", productID)
	}
	return rec, nil
}

func (r *stockRepo) GetOrCreateForUpdate(ctx context.Context, defaults *models.StockRecord) (*models.StockRecord, error) {
	db := conn(ctx, r.db)
	insert := `
		INSERT INTO stock_records (id, product_id, quantity_on_hand, reserved_quantity, low_stock_threshold,
			reorder_point, reorder_quantity, status, track_inventory, allow_backorder, average_cost, version,
			created_at, updated_at)
		VALUES ($1, $2, 0, 0, $3, $4, $5, $6, $7, $8, 0, 0, $9, $9)
		ON CONFLICT (product_id) DO NOTHING
	`
	if _, err := db.Exec(ctx, insert, defaults.ID, defaults.ProductID, defaults.LowStockThreshold, defaults.ReorderPoint,
		defaults.ReorderQuantity, defaults.Status, defaults.TrackInventory, defaults.AllowBackorder, defaults.CreatedAt); err != nil {
		return nil, mapPgError(fmt.Errorf("insert stock record: %w", err))
	}

	query := `SELECT ` + stockColumns + ` FROM stock_records WHERE product_id = $1 FOR UPDATE`
	rec, err := scanStock(db.QueryRow(ctx, query, defaults.ProductID))
	if err != nil {
		return nil, notFound(err, "stock record", defaults.ProductID)
	}
	return rec, nil
}

func (r *stockRepo) Update(ctx context.Context, rec *models.StockRecord) error {
	query := `
		UPDATE stock_records
		SET quantity_on_hand = $1, reserved_quantity = $2, low_stock_threshold = $3, reorder_point = $4,
			reorder_quantity = $5, status = $6, track_inventory = $7, allow_backorder = $8, average_cost = $9,
			last_cost = $10, last_restocked_at = $11, last_sold_at = $12, updated_at = $13, version = version + 1
		WHERE id = $14 AND version = $15
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query, rec.QuantityOnHand, rec.ReservedQuantity, rec.LowStockThreshold,
		rec.ReorderPoint, rec.ReorderQuantity, rec.Status, rec.TrackInventory, rec.AllowBackorder, rec.AverageCost,
		nullDecimal(rec.LastCost), rec.LastRestockedAt, rec.LastSoldAt, rec.UpdatedAt, rec.ID, rec.Version)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("stock record %s: %w", rec.ProductID, common.ErrConflict)
	}
	rec.Version++
	return nil
}

func (r *stockRepo) ListTracked(ctx context.Context, limit, offset int) ([]*models.StockRecord, error) {
	query := `SELECT ` + stockColumns + `
		FROM stock_records
		WHERE track_inventory = TRUE
		ORDER BY product_id
		LIMIT $1 OFFSET $2`
	return r.queryStock(ctx, query, limit, offset)
}

func (r *stockRepo) ListLowStock(ctx context.Context) ([]*models.StockRecord, error) {
	query := `SELECT ` + stockColumns + `
		FROM stock_records
		WHERE track_inventory = TRUE AND quantity_on_hand <= low_stock_threshold
		ORDER BY quantity_on_hand ASC`
	return r.queryStock(ctx, query)
}

func (r *stockRepo) queryStock(ctx context.Context, query string, args ...interface{}) ([]*models.StockRecord, error) {
	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var records []*models.StockRecord
	for rows.Next() {
		rec, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *stockRepo) InsertMovement(ctx context.Context, m *models.MovementRecord) error {
	query := `
		INSERT INTO stock_movements (id, stock_record_id, product_id, type, quantity_delta, previous_quantity,
			new_quantity, unit_cost, reason, reference_type, reference_id, created_by, created_at, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := conn(ctx, r.db).Exec(ctx, query, m.ID, m.StockRecordID, m.ProductID, m.Type, m.QuantityDelta,
		m.PreviousQuantity, m.NewQuantity, nullDecimal(m.UnitCost), m.Reason, m.ReferenceType, m.ReferenceID,
		m.CreatedBy, m.CreatedAt, m.BatchID)
	return mapPgError(err)
}

// ListMovements returns history newest first, filtered by type and time range.
func (r *stockRepo) ListMovements(ctx context.Context, productID uuid.UUID, filter models.MovementFilter) ([]*models.MovementRecord, error) {
	limit, offset, err := common.ValidatePaginationParams(filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}

	conditions := []string{"product_id = $1"}
	args := []interface{}{productID}
	argIndex := 2

	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		conditions = append(conditions, fmt.Sprintf("type = ANY($%d)", argIndex))
		args = append(args, types)
		argIndex++
	}
	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.Since)
		argIndex++
	}
	if filter.Until != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIndex))
		args = append(args, *filter.Until)
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT id, stock_record_id, product_id, type, quantity_delta, previous_quantity, new_quantity, unit_cost,
			reason, reference_type, reference_id, created_by, created_at, batch_id
		FROM stock_movements
		WHERE %s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d`, strings.Join(conditions, " AND "), argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var movements []*models.MovementRecord
	for rows.Next() {
		m := &models.MovementRecord{}
		var unitCost decimal.NullDecimal
		if err := rows.Scan(&m.ID, &m.StockRecordID, &m.ProductID, &m.Type, &m.QuantityDelta, &m.PreviousQuantity,
			&m.NewQuantity, &unitCost, &m.Reason, &m.ReferenceType, &m.ReferenceID, &m.CreatedBy, &m.CreatedAt,
			&m.BatchID); err != nil {
			return nil, err
		}
		m.UnitCost = decimalPtr(unitCost)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *stockRepo) SumMovements(ctx context.Context, productID uuid.UUID) (int, int, error) {
	query := `SELECT COALESCE(SUM(quantity_delta), 0), COUNT(*) FROM stock_movements WHERE product_id = $1`
	var sum, count int
	if err := conn(ctx, r.db).QueryRow(ctx, query, productID).Scan(&sum, &count); err != nil {
		return 0, 0, mapPgError(err)
	}
	return sum, count, nil
}

func (r *stockRepo) SalesSince(ctx context.Context, productID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COALESCE(SUM(-quantity_delta), 0)
		FROM stock_movements
		WHERE product_id = $1 AND type = $2 AND created_at >= $3
	`
	var sold int
	if err := conn(ctx, r.db).QueryRow(ctx, query, productID, models.MovementSale, since).Scan(&sold); err != nil {
		return 0, mapPgError(err)
	}
	return sold, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

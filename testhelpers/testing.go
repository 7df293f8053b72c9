package testhelpers

import (
	"context"
	"os"
	"testing"

	"stockledger/internal/models"
	"stockledger/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TestDB holds the database connection for testing
type TestDB struct {
	Pool    *pgxpool.Pool
	Cleanup func() error
}

var ledgerTables = []string{
	"reorder_request_history", "reorder_requests", "reorder_suggestions", "alert_configurations", "stock_alerts",
	"stock_reservations", "stock_movements", "stock_records", "suppliers", "products",
}

// SetupTestDB connects to TEST_DATABASE_URL, applies the schema and empties
// every table. The test is skipped when no database is configured.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := database.NewPool(ctx, database.PoolConfig{DSN: connString, MaxConns: 8}, zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	db := &TestDB{Pool: pool}
	db.Cleanup = func() error {
		defer pool.Close()
		return db.truncate(ctx)
	}
	if err := db.truncate(ctx); err != nil {
		t.Fatalf("Failed to clean test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Cleanup(); err != nil {
			t.Logf("cleanup failed: %v", err)
		}
	})
	return db
}

func (db *TestDB) truncate(ctx context.Context) error {
	for _, table := range ledgerTables {
		if _, err := db.Pool.Exec(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}

// SetupTestProduct inserts a catalog row for the engine to read.
func SetupTestProduct(t *testing.T, db *TestDB, name, sku string, unitPrice decimal.Decimal) *models.ProductInfo {
	t.Helper()

	product := &models.ProductInfo{
		ID:        uuid.New(),
		Name:      name,
		SKU:       sku,
		UnitPrice: unitPrice,
	}
	query := `
		INSERT INTO products (id, name, sku, category_id, unit_price, unit_cost)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := db.Pool.Exec(context.Background(), query,
		product.ID, product.Name, product.SKU, product.CategoryID, product.UnitPrice, product.UnitCost)
	if err != nil {
		t.Fatalf("Failed to create test product: %v", err)
	}
	return product
}

package services

import (
	"context"

	"stockledger/internal/models"

	"github.com/google/uuid"
)

// StockEvaluator is notified after every committed ledger mutation.
type StockEvaluator interface {
	EvaluateStock(ctx context.Context, record *models.StockRecord) ([]*models.StockAlert, error)
}

// ExpiryNotifier is told about reservations released by the sweep.
type ExpiryNotifier interface {
	ReservationExpired(ctx context.Context, reservation *models.Reservation) error
}

// Dispatcher delivers a rendered alert to one channel recipient.
type Dispatcher interface {
	Send(ctx context.Context, msg models.NotificationMessage) error
}

// CatalogLookup resolves read-only product data for messages and costing.
type CatalogLookup interface {
	GetProduct(ctx context.Context, productID uuid.UUID) (*models.ProductInfo, error)
}

// SupplierDirectory resolves supplier reference data.
type SupplierDirectory interface {
	GetSupplier(ctx context.Context, supplierID uuid.UUID) (*models.Supplier, error)
	ListActiveSuppliers(ctx context.Context) ([]*models.Supplier, error)
}

// AlertHandler receives every newly persisted alert.
type AlertHandler func(ctx context.Context, alert *models.StockAlert)

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockStatus is derived from quantity on hand and the low-stock threshold.
type StockStatus string

const (
	StockStatusActive     StockStatus = "ACTIVE"
	StockStatusLowStock   StockStatus = "LOW_STOCK"
	StockStatusOutOfStock StockStatus = "OUT_OF_STOCK"
	StockStatusInactive   StockStatus = "INACTIVE"
)

// Defaults applied when a stock record is lazily created.
const (
	DefaultLowStockThreshold = 10
	DefaultReorderPoint      = 10
	DefaultReorderQuantity   = 50
)

// StockRecord is the authoritative quantity-on-hand for one product.
type StockRecord struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	ProductID         uuid.UUID        `json:"product_id" db:"product_id"`
	QuantityOnHand    int              `json:"quantity_on_hand" db:"quantity_on_hand"`
	ReservedQuantity  int              `json:"reserved_quantity" db:"reserved_quantity"`
	LowStockThreshold int              `json:"low_stock_threshold" db:"low_stock_threshold"`
	ReorderPoint      int              `json:"reorder_point" db:"reorder_point"`
	ReorderQuantity   int              `json:"reorder_quantity" db:"reorder_quantity"`
	Status            StockStatus      `json:"status" db:"status"`
	TrackInventory    bool             `json:"track_inventory" db:"track_inventory"`
	AllowBackorder    bool             `json:"allow_backorder" db:"allow_backorder"`
	AverageCost       decimal.Decimal  `json:"average_cost" db:"average_cost"`
	LastCost          *decimal.Decimal `json:"last_cost,omitempty" db:"last_cost"`
	LastRestockedAt   *time.Time       `json:"last_restocked_at,omitempty" db:"last_restocked_at"`
	LastSoldAt        *time.Time       `json:"last_sold_at,omitempty" db:"last_sold_at"`
	Version           int64            `json:"version" db:"version"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// NewStockRecord returns a zero-quantity record with default thresholds.
func NewStockRecord(productID uuid.UUID, now time.Time) *StockRecord {
	r := &StockRecord{
		ID:                uuid.New(),
		ProductID:         productID,
		LowStockThreshold: DefaultLowStockThreshold,
		ReorderPoint:      DefaultReorderPoint,
		ReorderQuantity:   DefaultReorderQuantity,
		TrackInventory:    true,
		AverageCost:       decimal.Zero,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	r.Status = r.DeriveStatus()
	return r
}

// AvailableQuantity is on-hand stock not held by reservations.
func (r *StockRecord) AvailableQuantity() int {
	return r.QuantityOnHand - r.ReservedQuantity
}

// DeriveStatus computes Status from the current quantity and threshold.
func (r *StockRecord) DeriveStatus() StockStatus {
	switch {
	case !r.TrackInventory:
		return StockStatusInactive
	case r.QuantityOnHand <= 0:
		return StockStatusOutOfStock
	case r.QuantityOnHand <= r.LowStockThreshold:
		return StockStatusLowStock
	default:
		return StockStatusActive
	}
}

// Clone returns a deep copy so cached or stored records are never aliased.
func (r *StockRecord) Clone() *StockRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastCost != nil {
		v := *r.LastCost
		c.LastCost = &v
	}
	if r.LastRestockedAt != nil {
		t := *r.LastRestockedAt
		c.LastRestockedAt = &t
	}
	if r.LastSoldAt != nil {
		t := *r.LastSoldAt
		c.LastSoldAt = &t
	}
	return &c
}

// StockSettings carries optional updates to per-record thresholds and flags.
type StockSettings struct {
	LowStockThreshold *int  `json:"low_stock_threshold,omitempty"`
	ReorderPoint      *int  `json:"reorder_point,omitempty"`
	ReorderQuantity   *int  `json:"reorder_quantity,omitempty"`
	TrackInventory    *bool `json:"track_inventory,omitempty"`
	AllowBackorder    *bool `json:"allow_backorder,omitempty"`
}

// ReconciliationReport compares quantity on hand with the movement log.
type ReconciliationReport struct {
	ProductID      uuid.UUID `json:"product_id"`
	QuantityOnHand int       `json:"quantity_on_hand"`
	MovementSum    int       `json:"movement_sum"`
	MovementCount  int       `json:"movement_count"`
	Drift          int       `json:"drift"`
	Balanced       bool      `json:"balanced"`
}

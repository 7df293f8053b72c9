package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MovementType tags every quantity change on the ledger.
type MovementType string

const (
	MovementInitialStock   MovementType = "INITIAL_STOCK"
	MovementRestock        MovementType = "RESTOCK"
	MovementPurchase       MovementType = "PURCHASE"
	MovementReturn         MovementType = "RETURN"
	MovementTransferIn     MovementType = "TRANSFER_IN"
	MovementAdjustmentIn   MovementType = "ADJUSTMENT_IN"
	MovementReleaseReserve MovementType = "RELEASE_RESERVE"
	MovementSale           MovementType = "SALE"
	MovementDamage         MovementType = "DAMAGE"
	MovementTransferOut    MovementType = "TRANSFER_OUT"
	MovementAdjustmentOut  MovementType = "ADJUSTMENT_OUT"
)

var inboundMovements = map[MovementType]bool{
	MovementInitialStock:   true,
	MovementRestock:        true,
	MovementPurchase:       true,
	MovementReturn:         true,
	MovementTransferIn:     true,
	MovementAdjustmentIn:   true,
	MovementReleaseReserve: true,
}

var outboundMovements = map[MovementType]bool{
	MovementSale:          true,
	MovementDamage:        true,
	MovementTransferOut:   true,
	MovementAdjustmentOut: true,
}

func (t MovementType) Valid() bool {
	return inboundMovements[t] || outboundMovements[t]
}

func (t MovementType) Inbound() bool {
	return inboundMovements[t]
}

// Sign is +1 for inbound types and -1 for outbound types.
func (t MovementType) Sign() int {
	if inboundMovements[t] {
		return 1
	}
	return -1
}

// RefreshesRestockTime reports whether the movement counts as a restock.
func (t MovementType) RefreshesRestockTime() bool {
	return t == MovementRestock || t == MovementPurchase || t == MovementInitialStock
}

// MovementReference links a movement to the business document that caused it.
type MovementReference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// MovementRecord is an immutable entry in the stock ledger.
type MovementRecord struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	StockRecordID    uuid.UUID        `json:"stock_record_id" db:"stock_record_id"`
	ProductID        uuid.UUID        `json:"product_id" db:"product_id"`
	Type             MovementType     `json:"type" db:"type"`
	QuantityDelta    int              `json:"quantity_delta" db:"quantity_delta"`
	PreviousQuantity int              `json:"previous_quantity" db:"previous_quantity"`
	NewQuantity      int              `json:"new_quantity" db:"new_quantity"`
	UnitCost         *decimal.Decimal `json:"unit_cost,omitempty" db:"unit_cost"`
	Reason           *string          `json:"reason,omitempty" db:"reason"`
	ReferenceType    *string          `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID      *string          `json:"reference_id,omitempty" db:"reference_id"`
	CreatedBy        string           `json:"created_by" db:"created_by"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	BatchID          *uuid.UUID       `json:"batch_id,omitempty" db:"batch_id"`
}

// MovementInput is the request to apply one movement to the ledger.
type MovementInput struct {
	ProductID uuid.UUID
	Type      MovementType
	Quantity  int
	UnitCost  *decimal.Decimal
	Reason    *string
	Reference *MovementReference
	Actor     string
	BatchID   *uuid.UUID
}

// MovementFilter narrows a movement history query.
type MovementFilter struct {
	Types  []MovementType `json:"types,omitempty"`
	Since  *time.Time     `json:"since,omitempty"`
	Until  *time.Time     `json:"until,omitempty"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

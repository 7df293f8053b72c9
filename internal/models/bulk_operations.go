package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	BulkStatusCompleted = "completed"
	BulkStatusPartial   = "partial"
	BulkStatusFailed    = "failed"
)

// BulkOperationResult represents the result of a bulk operation
type BulkOperationResult struct {
	OperationID    string               `json:"operation_id"` // Shared batch id of successful movements
	Status         string               `json:"status"`       // completed, partial, failed
	TotalItems     int                  `json:"total_items"`
	ProcessedItems int                  `json:"processed_items"`
	FailedItems    int                  `json:"failed_items"`
	Progress       float64              `json:"progress"`     // Progress percentage (0-100)
	StartTime      time.Time            `json:"start_time"`
	CompletionTime *time.Time           `json:"completion_time,omitempty"`
	Errors         []BulkOperationError `json:"errors,omitempty"`
	Items          []BulkOperationItem  `json:"items,omitempty"`
}

// BulkOperationError represents an error for a specific item in bulk operation
type BulkOperationError struct {
	ItemIndex int    `json:"item_index"`
	ItemID    string `json:"item_id"`
	Error     string `json:"error"`
}

// BulkOperationItem represents the result for a specific item
type BulkOperationItem struct {
	ItemIndex int          `json:"item_index"`
	ItemID    string       `json:"item_id"`
	Status    string       `json:"status"` // success, failed
	Error     *string      `json:"error,omitempty"`
	Record    *StockRecord `json:"record,omitempty"`
}

// StockUpdate is one line of a bulk ledger operation.
type StockUpdate struct {
	ProductID uuid.UUID          `json:"product_id"`
	Type      MovementType       `json:"type"`
	Quantity  int                `json:"quantity"`
	UnitCost  *decimal.Decimal   `json:"unit_cost,omitempty"`
	Reason    *string            `json:"reason,omitempty"`
	Reference *MovementReference `json:"reference,omitempty"`
}

// Finish derives the final status, progress and completion time.
func (r *BulkOperationResult) Finish(now time.Time) {
	switch {
	case r.FailedItems == 0:
		r.Status = BulkStatusCompleted
	case r.ProcessedItems == 0:
		r.Status = BulkStatusFailed
	default:
		r.Status = BulkStatusPartial
	}
	if r.TotalItems > 0 {
		r.Progress = float64(r.ProcessedItems+r.FailedItems) / float64(r.TotalItems) * 100
	}
	r.CompletionTime = &now
}

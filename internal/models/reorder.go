package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Velocity summarizes recent sales for one product.
type Velocity struct {
	ProductID         uuid.UUID `json:"product_id"`
	WindowDays        int       `json:"window_days"`
	TotalSold         int       `json:"total_sold"`
	AverageDailySales float64   `json:"average_daily_sales"`
	DaysOfStockLeft   float64   `json:"days_of_stock_left"`
	QuantityOnHand    int       `json:"quantity_on_hand"`
	// TrackedSince is when the stock record was created.
	TrackedSince time.Time `json:"tracked_since"`
}

// Unbounded reports whether there were no sales in the window.
func (v Velocity) Unbounded() bool {
	return math.IsInf(v.DaysOfStockLeft, 1)
}

type ReorderPriority string

const (
	PriorityLow      ReorderPriority = "LOW"
	PriorityMedium   ReorderPriority = "MEDIUM"
	PriorityHigh     ReorderPriority = "HIGH"
	PriorityCritical ReorderPriority = "CRITICAL"
	PriorityUrgent   ReorderPriority = "URGENT"
)

type SuggestionStatus string

const (
	SuggestionActive    SuggestionStatus = "ACTIVE"
	SuggestionConverted SuggestionStatus = "CONVERTED"
	SuggestionDismissed SuggestionStatus = "DISMISSED"
)

// ReorderSuggestion is a computed recommendation to restock a product.
type ReorderSuggestion struct {
	ID                  uuid.UUID        `json:"id" db:"id"`
	ProductID           uuid.UUID        `json:"product_id" db:"product_id"`
	SupplierID          *uuid.UUID       `json:"supplier_id,omitempty" db:"supplier_id"`
	Status              SuggestionStatus `json:"status" db:"status"`
	Priority            ReorderPriority  `json:"priority" db:"priority"`
	CurrentQuantity     int              `json:"current_quantity" db:"current_quantity"`
	AverageDailySales   float64          `json:"average_daily_sales" db:"average_daily_sales"`
	DaysOfStockLeft     *float64         `json:"days_of_stock_left,omitempty" db:"days_of_stock_left"`
	LeadTimeDays        int              `json:"lead_time_days" db:"lead_time_days"`
	SafetyDays          int              `json:"safety_days" db:"safety_days"`
	RecommendedQuantity int              `json:"recommended_quantity" db:"recommended_quantity"`
	UnitCost            decimal.Decimal  `json:"unit_cost" db:"unit_cost"`
	EstimatedCost       decimal.Decimal  `json:"estimated_cost" db:"estimated_cost"`
	Reason              string           `json:"reason" db:"reason"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at" db:"updated_at"`
}

type RequestStatus string

const (
	RequestSuggested       RequestStatus = "SUGGESTED"
	RequestPendingApproval RequestStatus = "PENDING_APPROVAL"
	RequestApproved        RequestStatus = "APPROVED"
	RequestRejected        RequestStatus = "REJECTED"
	RequestCompleted       RequestStatus = "COMPLETED"
	RequestCancelled       RequestStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestRejected || s == RequestCompleted || s == RequestCancelled
}

type RequestAction string

const (
	ActionApprove  RequestAction = "approve"
	ActionReject   RequestAction = "reject"
	ActionComplete RequestAction = "complete"
	ActionCancel   RequestAction = "cancel"
)

// RequestHistoryEntry is one append-only transition of a reorder request.
type RequestHistoryEntry struct {
	ID         uuid.UUID     `json:"id" db:"id"`
	RequestID  uuid.UUID     `json:"request_id" db:"request_id"`
	Action     string        `json:"action" db:"action"`
	FromStatus RequestStatus `json:"from_status" db:"from_status"`
	ToStatus   RequestStatus `json:"to_status" db:"to_status"`
	Actor      string        `json:"actor" db:"actor"`
	Notes      *string       `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// ReorderRequest is an approvable purchase request for restocking.
type ReorderRequest struct {
	ID           uuid.UUID             `json:"id" db:"id"`
	SuggestionID *uuid.UUID            `json:"suggestion_id,omitempty" db:"suggestion_id"`
	ProductID    uuid.UUID             `json:"product_id" db:"product_id"`
	SupplierID   *uuid.UUID            `json:"supplier_id,omitempty" db:"supplier_id"`
	Quantity     int                   `json:"quantity" db:"quantity"`
	UnitCost     decimal.Decimal       `json:"unit_cost" db:"unit_cost"`
	TotalCost    decimal.Decimal       `json:"total_cost" db:"total_cost"`
	Status       RequestStatus         `json:"status" db:"status"`
	RequestedBy  string                `json:"requested_by" db:"requested_by"`
	MovementID   *uuid.UUID            `json:"movement_id,omitempty" db:"movement_id"`
	History      []RequestHistoryEntry `json:"history"`
	CreatedAt    time.Time             `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at" db:"updated_at"`
}

// CreateRequestInput is the request to open a reorder request.
type CreateRequestInput struct {
	SuggestionID *uuid.UUID
	ProductID    uuid.UUID
	SupplierID   *uuid.UUID
	Quantity     int
	UnitCost     decimal.Decimal
	Actor        string
}

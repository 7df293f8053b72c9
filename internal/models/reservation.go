package models

import (
	"time"

	"github.com/google/uuid"
)

// HolderRef identifies who owns a reservation. Exactly one field is set.
type HolderRef struct {
	OrderID *string `json:"order_id,omitempty"`
	CartID  *string `json:"cart_id,omitempty"`
}

func OrderHolder(id string) HolderRef { return HolderRef{OrderID: &id} }

func CartHolder(id string) HolderRef { return HolderRef{CartID: &id} }

// Valid reports whether exactly one non-empty holder id is present.
func (h HolderRef) Valid() bool {
	hasOrder := h.OrderID != nil && *h.OrderID != ""
	hasCart := h.CartID != nil && *h.CartID != ""
	return hasOrder != hasCart
}

func (h HolderRef) String() string {
	if h.OrderID != nil {
		return "order:" + *h.OrderID
	}
	if h.CartID != nil {
		return "cart:" + *h.CartID
	}
	return ""
}

// Reservation is a time-bounded hold against available stock.
type Reservation struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	StockRecordID uuid.UUID  `json:"stock_record_id" db:"stock_record_id"`
	ProductID     uuid.UUID  `json:"product_id" db:"product_id"`
	Quantity      int        `json:"quantity" db:"quantity"`
	Holder        HolderRef  `json:"holder"`
	Reason        *string    `json:"reason,omitempty" db:"reason"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at" db:"expires_at"`
	ReleasedAt    *time.Time `json:"released_at,omitempty" db:"released_at"`
	IsReleased    bool       `json:"is_released" db:"is_released"`
}

func (r *Reservation) Expired(now time.Time) bool {
	return !r.IsReleased && r.ExpiresAt.Before(now)
}

// ReserveInput is the request to place a hold on stock.
type ReserveInput struct {
	ProductID uuid.UUID
	Quantity  int
	Holder    HolderRef
	TTL       time.Duration
	Reason    *string
}

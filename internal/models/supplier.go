package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Supplier is reference data owned by admin tooling and read by the planner.
type Supplier struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	Name                 string          `json:"name" db:"name"`
	ContactEmail         *string         `json:"contact_email,omitempty" db:"contact_email"`
	ContactPhone         *string         `json:"contact_phone,omitempty" db:"contact_phone"`
	LeadTimeDays         int             `json:"lead_time_days" db:"lead_time_days"`
	IsLocal              bool            `json:"is_local" db:"is_local"`
	IsPreferred          bool            `json:"is_preferred" db:"is_preferred"`
	DiscountRate         decimal.Decimal `json:"discount_rate" db:"discount_rate"`
	MinimumOrderQuantity int             `json:"minimum_order_quantity" db:"minimum_order_quantity"`
	IsActive             bool            `json:"is_active" db:"is_active"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// HasContact reports whether the supplier can be reached.
func (s *Supplier) HasContact() bool {
	return (s.ContactEmail != nil && *s.ContactEmail != "") || (s.ContactPhone != nil && *s.ContactPhone != "")
}

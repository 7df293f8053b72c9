package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductInfo is the read-only catalog view used in alert and suggestion messages.
type ProductInfo struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	Name       string           `json:"name" db:"name"`
	SKU        string           `json:"sku" db:"sku"`
	CategoryID *uuid.UUID       `json:"category_id,omitempty" db:"category_id"`
	UnitPrice  decimal.Decimal  `json:"unit_price" db:"unit_price"`
	UnitCost   *decimal.Decimal `json:"unit_cost,omitempty" db:"unit_cost"`
}

// DisplayName prefers the product name and falls back to SKU or id.
func (p *ProductInfo) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.Name != "" {
		return p.Name
	}
	if p.SKU != "" {
		return p.SKU
	}
	return p.ID.String()
}

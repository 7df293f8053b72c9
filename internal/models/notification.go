package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType names a dispatch channel
type NotificationType string

const (
	NotificationTypeEmail   NotificationType = "email"
	NotificationTypeSMS     NotificationType = "sms"
	NotificationTypeWebhook NotificationType = "webhook"
	NotificationTypePush    NotificationType = "push"
)

// AlertType represents different types of stock alerts
type AlertType string

const (
	AlertTypeLowStock           AlertType = "LOW_STOCK"
	AlertTypeCriticalStock      AlertType = "CRITICAL_STOCK"
	AlertTypeOutOfStock         AlertType = "OUT_OF_STOCK"
	AlertTypeReorderNeeded      AlertType = "REORDER_NEEDED"
	AlertTypeSlowMoving         AlertType = "SLOW_MOVING"
	AlertTypeFastMoving         AlertType = "FAST_MOVING"
	AlertTypeOverstock          AlertType = "OVERSTOCK"
	AlertTypeNegativeStock      AlertType = "NEGATIVE_STOCK"
	AlertTypeReservationExpired AlertType = "RESERVATION_EXPIRED"
)

// AllAlertTypes lists every alert type in declaration order.
var AllAlertTypes = []AlertType{
	AlertTypeLowStock, AlertTypeCriticalStock, AlertTypeOutOfStock, AlertTypeReorderNeeded,
	AlertTypeSlowMoving, AlertTypeFastMoving, AlertTypeOverstock, AlertTypeNegativeStock,
	AlertTypeReservationExpired,
}

// IsStockLevel reports whether the type is derived from quantity thresholds.
func (t AlertType) IsStockLevel() bool {
	switch t {
	case AlertTypeLowStock, AlertTypeCriticalStock, AlertTypeOutOfStock, AlertTypeReorderNeeded, AlertTypeNegativeStock:
		return true
	}
	return false
}

// Severity orders alerts INFO < LOW < MEDIUM < HIGH < CRITICAL < URGENT.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
	SeverityUrgent   Severity = "URGENT"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
	SeverityUrgent:   5,
}

// Rank returns the ordinal of s, or -1 when unknown.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// JSONB represents PostgreSQL JSONB type
type JSONB map[string]interface{}

// StockAlert is raised by the alert engine and never deleted.
type StockAlert struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	ProductID      uuid.UUID  `json:"product_id" db:"product_id"`
	Type           AlertType  `json:"type" db:"type"`
	Severity       Severity   `json:"severity" db:"severity"`
	Message        string     `json:"message" db:"message"`
	IsRead         bool       `json:"is_read" db:"is_read"`
	IsAcknowledged bool       `json:"is_acknowledged" db:"is_acknowledged"`
	IsDismissed    bool       `json:"is_dismissed" db:"is_dismissed"`
	ReadBy         *string    `json:"read_by,omitempty" db:"read_by"`
	ReadAt         *time.Time `json:"read_at,omitempty" db:"read_at"`
	AcknowledgedBy *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	DismissedBy    *string    `json:"dismissed_by,omitempty" db:"dismissed_by"`
	DismissedAt    *time.Time `json:"dismissed_at,omitempty" db:"dismissed_at"`
	Metadata       JSONB      `json:"metadata" db:"metadata"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// AlertCandidate is an alert the engine wants to raise before dedup and persistence.
type AlertCandidate struct {
	ProductID uuid.UUID
	Type      AlertType
	Severity  Severity
	Message   string
	Metadata  JSONB
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	ProductID        *uuid.UUID  `json:"product_id,omitempty"`
	Types            []AlertType `json:"types,omitempty"`
	MinSeverity      *Severity   `json:"min_severity,omitempty"`
	IncludeDismissed bool        `json:"include_dismissed,omitempty"`
	UnreadOnly       bool        `json:"unread_only,omitempty"`
	Limit            int         `json:"limit,omitempty"`
	Offset           int         `json:"offset,omitempty"`
}

// ChannelConfig toggles one dispatch channel for a configuration.
type ChannelConfig struct {
	Channel   NotificationType `json:"channel"`
	Enabled   bool             `json:"enabled"`
	Recipient string           `json:"recipient"`
}

// AlertConfiguration holds per-owner thresholds and dispatch preferences.
type AlertConfiguration struct {
	ID                     uuid.UUID       `json:"id" db:"id"`
	OwnerID                string          `json:"owner_id" db:"owner_id"`
	Name                   string          `json:"name" db:"name"`
	EnabledTypes           []AlertType     `json:"enabled_types" db:"enabled_types"`
	MinSeverity            Severity        `json:"min_severity" db:"min_severity"`
	UseCustomThresholds    bool            `json:"use_custom_thresholds" db:"use_custom_thresholds"`
	LowStockThreshold      *int            `json:"low_stock_threshold,omitempty" db:"low_stock_threshold"`
	CriticalStockThreshold *int            `json:"critical_stock_threshold,omitempty" db:"critical_stock_threshold"`
	Channels               []ChannelConfig `json:"channels" db:"channels"`
	RespectBusinessHours   bool            `json:"respect_business_hours" db:"respect_business_hours"`
	Timezone               string          `json:"timezone" db:"timezone"`
	BusinessDays           []time.Weekday  `json:"business_days" db:"business_days"`
	BusinessHoursStart     string          `json:"business_hours_start" db:"business_hours_start"`
	BusinessHoursEnd       string          `json:"business_hours_end" db:"business_hours_end"`
	MaxPerHour             int             `json:"max_per_hour" db:"max_per_hour"`
	MaxPerDay              int             `json:"max_per_day" db:"max_per_day"`
	ProductIDs             []uuid.UUID     `json:"product_ids,omitempty" db:"product_ids"`
	CategoryIDs            []uuid.UUID     `json:"category_ids,omitempty" db:"category_ids"`
	IsActive               bool            `json:"is_active" db:"is_active"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

// TypeEnabled reports whether t is listed in EnabledTypes.
func (c *AlertConfiguration) TypeEnabled(t AlertType) bool {
	for _, enabled := range c.EnabledTypes {
		if enabled == t {
			return true
		}
	}
	return false
}

// NotificationMessage is handed to the dispatch gateway.
type NotificationMessage struct {
	Channel   NotificationType  `json:"channel"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Variables map[string]string `json:"variables"`
}

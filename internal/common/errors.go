package common

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrConflict is returned by repositories when a concurrent writer won the race
// for a row (stale version, serialization failure, deadlock victim).
var ErrConflict = errors.New("concurrent modification")

// NotFoundError reports an unknown product, reservation, alert or request.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NewNotFound(resource string, id interface{}) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

// InsufficientStockError is returned when a reservation or outbound movement
// would take available stock below zero on a record without backorder.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID.String(), e.Requested, e.Available)
}

// ValidationError covers malformed input and invalid state transitions.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError is surfaced once transparent retries are exhausted.
type ConflictError struct {
	Resource string
	ID       string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently (gave up after %d attempts)", e.Resource, e.ID, e.Attempts)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// ConfigurationError reports an unusable alert or application configuration.
type ConfigurationError struct {
	Scope   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Scope, e.Message)
}

func NewConfigurationError(scope, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Scope: scope, Message: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsInsufficientStock(err error) bool {
	var target *InsufficientStockError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflict matches both the repository sentinel and an exhausted ConflictError.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

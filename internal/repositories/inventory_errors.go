package repositories

import "fmt"

// InventoryErrorCode enumerates stock mutation failure causes.
type InventoryErrorCode string

const (
	// InventoryErrorUnknown represents an unspecified failure.
	InventoryErrorUnknown InventoryErrorCode = "inventory_unknown"
	// InventoryErrorProductNotFound indicates the product row is absent.
	InventoryErrorProductNotFound InventoryErrorCode = "inventory_product_not_found"
	// InventoryErrorProductInactive indicates the product cannot be ordered.
	InventoryErrorProductInactive InventoryErrorCode = "inventory_product_inactive"
	// InventoryErrorInsufficientStock indicates the requested quantity exceeds
	// availability and backorder is disallowed.
	InventoryErrorInsufficientStock InventoryErrorCode = "inventory_insufficient_stock"
)

// InventoryError wraps inventory failures with machine readable codes and,
// for shortfalls, the requested/available quantities so callers can report
// which products fell short and by how much.
type InventoryError struct {
	Op        string
	Code      InventoryErrorCode
	ProductID string
	Requested int
	Available int
	Message   string
	Err       error
}

// Error implements the error interface.
func (e *InventoryError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *InventoryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInventoryError constructs a typed inventory error.
func NewInventoryError(code InventoryErrorCode, productID string, message string, err error) *InventoryError {
	if message == "" {
		message = string(code)
	}
	return &InventoryError{
		Code:      code,
		ProductID: productID,
		Message:   message,
		Err:       err,
	}
}

// NewInsufficientStockError reports a shortfall with its quantities.
func NewInsufficientStockError(productID string, requested, available int) *InventoryError {
	return &InventoryError{
		Code:      InventoryErrorInsufficientStock,
		ProductID: productID,
		Requested: requested,
		Available: available,
		Message:   fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", productID, requested, available),
	}
}

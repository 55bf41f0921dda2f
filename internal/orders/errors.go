package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrLockExpired          = errors.New("inventory lock expired")
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
	ErrNotCancellable       = errors.New("order is not cancellable")
)

// ValidationError menunjuk field pertama yang bermasalah.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

type StockRejectedDetail struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

// InsufficientStockError membungkus detail per product yang kurang stok.
// errors.Is(err, ErrInsufficientStock) tetap true.
type InsufficientStockError struct {
	Details []StockRejectedDetail
}

func (e *InsufficientStockError) Error() string {
	if len(e.Details) == 0 {
		return ErrInsufficientStock.Error()
	}
	return fmt.Sprintf("insufficient stock: product %s (need %d, have %d)",
		e.Details[0].ProductID, e.Details[0].Required, e.Details[0].Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

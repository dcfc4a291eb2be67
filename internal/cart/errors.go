package cart

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("product not in cart")
)

// StockError reports a quantity that would exceed a line's stock ceiling. It
// matches ErrInsufficientStock under errors.Is and carries the ceiling that was
// available so callers can show it.
type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}

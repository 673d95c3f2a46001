// Package catalog is the stock side of checkout. Products live in a store
// the order database cannot join or lock.
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("catalog: product not found")
	ErrInvalidID         = errors.New("catalog: malformed product id")
	ErrInvalidQuantity   = errors.New("catalog: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("catalog: insufficient stock")
)

type Product struct {
	ID       string
	SKU      string
	Title    string
	Price    decimal.Decimal
	Stock    int
	VendorID string
}

// Ledger adjusts stock. Decrement is a single conditional write that only
// succeeds while stock >= qty and returns the stock left afterwards; it is
// the only serialization point between concurrent checkouts.
type Ledger interface {
	FindByID(ctx context.Context, id string) (*Product, error)
	Decrement(ctx context.Context, id string, qty int) (int, error)
	Increment(ctx context.Context, id string, qty int) error
	IncrementBySKU(ctx context.Context, sku string, qty int) error
}

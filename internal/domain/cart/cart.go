package cart

import (
	"context"
	"errors"
)

var ErrInvalidProduct = errors.New("cart: invalid product reference")

type Line struct {
	ProductID string
	Qty       int
}

// Repository is the slice of the cart collaborator checkout needs.
type Repository interface {
	Lines(ctx context.Context, userID string) ([]Line, error)
	Clear(ctx context.Context, userID string) error
}

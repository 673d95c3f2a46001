package memory

import (
	"context"
	"sync"

	domain "github.com/ahz777/nxtmarket/internal/domain/cart"
)

type CartRepository struct {
	mu    sync.RWMutex
	carts map[string][]domain.Line
}

func NewCartRepository() *CartRepository {
	return &CartRepository{carts: make(map[string][]domain.Line)}
}

// Set replaces the user's cart.
func (r *CartRepository) Set(userID string, lines ...domain.Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[userID] = append([]domain.Line(nil), lines...)
}

func (r *CartRepository) Lines(ctx context.Context, userID string) ([]domain.Line, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Line(nil), r.carts[userID]...), nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts[userID] = nil
	return nil
}

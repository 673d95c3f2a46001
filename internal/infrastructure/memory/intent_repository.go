package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/ahz777/nxtmarket/internal/domain/payment"
)

type IntentRepository struct {
	mu      sync.RWMutex
	intents []*domain.Intent
}

func NewIntentRepository() *IntentRepository {
	return &IntentRepository{}
}

func (r *IntentRepository) Create(ctx context.Context, in *domain.Intent) error {
	_ = ctx
	if in == nil || in.ID == "" {
		return fmt.Errorf("intent repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *in
	r.intents = append(r.intents, &clone)
	return nil
}

// LatestWithStatus walks newest first; later inserts win ties.
func (r *IntentRepository) LatestWithStatus(ctx context.Context, orderID string, status domain.Status) (*domain.Intent, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *domain.Intent
	for _, in := range r.intents {
		if in.OrderID != orderID || in.Status != status {
			continue
		}
		if best == nil || !in.CreatedAt.Before(best.CreatedAt) {
			best = in
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	clone := *best
	return &clone, nil
}

func (r *IntentRepository) UpdateStatus(ctx context.Context, id string, from, to domain.Status) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, in := range r.intents {
		if in.ID != id {
			continue
		}
		if in.Status != from {
			return domain.ErrStaleStatus
		}
		in.Status = to
		in.UpdatedAt = time.Now().UTC()
		return nil
	}
	return domain.ErrNotFound
}

// ForOrder returns every intent of the order in creation order.
func (r *IntentRepository) ForOrder(orderID string) []domain.Intent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Intent
	for _, in := range r.intents {
		if in.OrderID == orderID {
			out = append(out, *in)
		}
	}
	return out
}

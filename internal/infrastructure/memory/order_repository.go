package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/shopspring/decimal"
)

// OrderRepository keeps orders in memory. Every read returns a clone so
// callers cannot mutate stored state.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	seq    map[string]int
	next   int
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*domain.Order),
		seq:    make(map[string]int),
	}
}

func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return domain.ErrConflict
	}
	r.orders[o.ID] = o.Clone()
	r.next++
	r.seq[o.ID] = r.next
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to domain.Status) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != from {
		return domain.ErrStaleStatus
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *OrderRepository) MarkItemShipped(ctx context.Context, orderID, itemID string, at time.Time) (bool, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return false, domain.ErrNotFound
	}
	it, err := o.Item(itemID)
	if err != nil {
		return false, err
	}
	if it.Shipped() {
		return false, nil
	}
	shippedAt := at.UTC()
	it.FulfillmentStatus = domain.FulfillmentShipped
	it.ShippedAt = &shippedAt
	it.UpdatedAt = shippedAt
	return true, nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page domain.Page) ([]*domain.Order, int, error) {
	return r.List(ctx, domain.Filter{UserID: userID}, page)
}

func (r *OrderRepository) List(ctx context.Context, filter domain.Filter, page domain.Page) ([]*domain.Order, int, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		matched = append(matched, o)
	}
	r.sortNewestFirst(matched)

	out := make([]*domain.Order, 0, page.Limit)
	for _, o := range window(matched, page) {
		out = append(out, o.Clone())
	}
	return out, len(matched), nil
}

func (r *OrderRepository) ListByVendor(ctx context.Context, vendorID string, page domain.Page) ([]*domain.Order, int, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	type owned struct {
		order *domain.Order
		item  domain.Item
	}
	var all []owned
	orders := make([]*domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		orders = append(orders, o)
	}
	r.sortNewestFirst(orders)
	for _, o := range orders {
		for _, it := range o.Items {
			if it.VendorID == vendorID {
				all = append(all, owned{order: o, item: it})
			}
		}
	}

	start, end := bounds(len(all), page)
	byOrder := make(map[string]*domain.Order)
	var out []*domain.Order
	for _, ow := range all[start:end] {
		o, ok := byOrder[ow.order.ID]
		if !ok {
			o = ow.order.Clone()
			o.Items = nil
			byOrder[o.ID] = o
			out = append(out, o)
		}
		o.Items = append(o.Items, ow.item)
	}
	return out, len(all), nil
}

func (r *OrderRepository) Stats(ctx context.Context) (domain.Stats, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	st := domain.Stats{TotalRevenue: decimal.Zero}
	for _, o := range r.orders {
		st.TotalOrders++
		st.TotalRevenue = st.TotalRevenue.Add(o.Total)
	}
	return st, nil
}

// sortNewestFirst orders by creation time, then by insertion order.
func (r *OrderRepository) sortNewestFirst(orders []*domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return r.seq[orders[i].ID] > r.seq[orders[j].ID]
	})
}

func window(orders []*domain.Order, page domain.Page) []*domain.Order {
	start, end := bounds(len(orders), page)
	return orders[start:end]
}

func bounds(n int, page domain.Page) (int, int) {
	start := page.Offset()
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := start + page.Limit
	if end > n || page.Limit <= 0 {
		end = n
	}
	return start, end
}

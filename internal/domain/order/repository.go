package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Page is a 1-based window over a listing.
type Page struct {
	Number int
	Limit  int
}

func (p Page) Offset() int { return (p.Number - 1) * p.Limit }

// Filter narrows admin listings; zero values match everything.
type Filter struct {
	Status Status
	UserID string
}

// Stats aggregates over all orders.
type Stats struct {
	TotalOrders  int
	TotalRevenue decimal.Decimal
}

// Repository is the transactional order store. Create writes the order and
// all its items atomically. UpdateStatus is a compare-and-set on the
// current status and fails with ErrStaleStatus when it lost a race.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) error
	// MarkItemShipped reports false when the item was already shipped.
	MarkItemShipped(ctx context.Context, orderID, itemID string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string, page Page) ([]*Order, int, error)
	// ListByVendor pages over the vendor's items; each returned order
	// carries only those items.
	ListByVendor(ctx context.Context, vendorID string, page Page) ([]*Order, int, error)
	List(ctx context.Context, filter Filter, page Page) ([]*Order, int, error)
	Stats(ctx context.Context) (Stats, error)
}

package order

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrItemNotFound      = errors.New("order: item not found")
	ErrConflict          = errors.New("order: conflicting write")
	ErrStaleStatus       = errors.New("order: status changed concurrently")
	ErrEmpty             = errors.New("order: at least one item is required")
	ErrInvalidQuantity   = errors.New("order: quantity must be greater than zero")
	ErrInvalidPrice      = errors.New("order: price must be zero or greater")
	ErrInvalidState      = errors.New("order: unknown status")
	ErrInvalidTransition = errors.New("order: transition not allowed")
)

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusPaid             Status = "PAID"
	StatusPartiallyShipped Status = "PARTIALLY_SHIPPED"
	StatusShipped          Status = "SHIPPED"
	StatusCancelled        Status = "CANCELLED"
	StatusRefunded         Status = "REFUNDED"
)

// ParseStatus normalises s to a known status.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := transitions[st]; !ok {
		return "", ErrInvalidState
	}
	return st, nil
}

type FulfillmentStatus string

const (
	FulfillmentPending   FulfillmentStatus = "PENDING"
	FulfillmentShipped   FulfillmentStatus = "SHIPPED"
	FulfillmentCancelled FulfillmentStatus = "CANCELLED"
)

// Item is a purchased line. SKU, title and price are snapshots taken at
// checkout and never follow later catalog edits.
type Item struct {
	ID                string
	OrderID           string
	ProductSKU        string
	Title             string
	Price             decimal.Decimal
	Qty               int
	VendorID          string
	FulfillmentStatus FulfillmentStatus
	ShippedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (i Item) Shipped() bool { return i.FulfillmentStatus == FulfillmentShipped }

// LineTotal is price times quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Qty)))
}

type Order struct {
	ID        string
	UserID    string
	Status    Status
	Total     decimal.Decimal
	Items     []Item
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Line is the input to New: one snapshotted cart line.
type Line struct {
	ItemID   string
	SKU      string
	Title    string
	Price    decimal.Decimal
	Qty      int
	VendorID string
}

// New builds a PENDING order with its items and a total rounded to cents.
func New(id, userID string, lines []Line) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrEmpty
	}

	now := time.Now().UTC()
	o := &Order{
		ID:        id,
		UserID:    userID,
		Status:    StatusPending,
		Total:     decimal.Zero,
		Items:     make([]Item, 0, len(lines)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, l := range lines {
		if l.Qty <= 0 {
			return nil, ErrInvalidQuantity
		}
		if l.Price.IsNegative() {
			return nil, ErrInvalidPrice
		}
		it := Item{
			ID:                l.ItemID,
			OrderID:           id,
			ProductSKU:        strings.ToUpper(l.SKU),
			Title:             l.Title,
			Price:             l.Price.Round(2),
			Qty:               l.Qty,
			VendorID:          l.VendorID,
			FulfillmentStatus: FulfillmentPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		o.Items = append(o.Items, it)
		o.Total = o.Total.Add(it.LineTotal())
	}
	o.Total = o.Total.Round(2)
	return o, nil
}

// VendorIDs returns the distinct vendors in item order.
func (o *Order) VendorIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	out := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if _, ok := seen[it.VendorID]; ok {
			continue
		}
		seen[it.VendorID] = struct{}{}
		out = append(out, it.VendorID)
	}
	return out
}

// Item looks up an item of this order by id.
func (o *Order) Item(itemID string) (*Item, error) {
	for i := range o.Items {
		if o.Items[i].ID == itemID {
			return &o.Items[i], nil
		}
	}
	return nil, ErrItemNotFound
}

// ItemsOf returns the items owned by vendorID.
func (o *Order) ItemsOf(vendorID string) []Item {
	var out []Item
	for _, it := range o.Items {
		if it.VendorID == vendorID {
			out = append(out, it)
		}
	}
	return out
}

// TransitionTo validates and applies a status change.
func (o *Order) TransitionTo(to Status) error {
	if err := AssertTransition(o.Status, to); err != nil {
		return err
	}
	o.Status = to
	o.touch()
	return nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = make([]Item, len(o.Items))
	copy(cp.Items, o.Items)
	for i := range cp.Items {
		if at := cp.Items[i].ShippedAt; at != nil {
			t := *at
			cp.Items[i].ShippedAt = &t
		}
	}
	return &cp
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}

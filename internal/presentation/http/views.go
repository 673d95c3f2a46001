package httppresentation

import (
	"time"

	appOrder "github.com/ahz777/nxtmarket/internal/application/order"
	domainOrder "github.com/ahz777/nxtmarket/internal/domain/order"
)

type orderView struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId"`
	Status    domainOrder.Status `json:"status"`
	Total     string             `json:"total"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type itemView struct {
	ID                string                        `json:"id"`
	OrderID           string                        `json:"orderId"`
	ProductSKU        string                        `json:"productSku"`
	Title             string                        `json:"title"`
	Price             string                        `json:"price"`
	Qty               int                           `json:"qty"`
	VendorID          string                        `json:"vendorId"`
	FulfillmentStatus domainOrder.FulfillmentStatus `json:"fulfillmentStatus"`
	ShippedAt         *time.Time                    `json:"shippedAt"`
}

type detailView struct {
	Order orderView  `json:"order"`
	Items []itemView `json:"items,omitempty"`
}

type pageView[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Pages int `json:"pages"`
}

func newPageView[T any](items []T, l *appOrder.Listing) pageView[T] {
	return pageView[T]{Items: items, Total: l.Total, Page: l.Page, Limit: l.Limit, Pages: l.Pages}
}

func viewOrder(o *domainOrder.Order) orderView {
	return orderView{
		ID:        o.ID,
		UserID:    o.UserID,
		Status:    o.Status,
		Total:     o.Total.StringFixed(2),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func viewItem(it domainOrder.Item) itemView {
	return itemView{
		ID:                it.ID,
		OrderID:           it.OrderID,
		ProductSKU:        it.ProductSKU,
		Title:             it.Title,
		Price:             it.Price.StringFixed(2),
		Qty:               it.Qty,
		VendorID:          it.VendorID,
		FulfillmentStatus: it.FulfillmentStatus,
		ShippedAt:         it.ShippedAt,
	}
}

func viewDetail(o *domainOrder.Order, withItems bool) detailView {
	d := detailView{Order: viewOrder(o)}
	if withItems {
		d.Items = make([]itemView, 0, len(o.Items))
		for _, it := range o.Items {
			d.Items = append(d.Items, viewItem(it))
		}
	}
	return d
}

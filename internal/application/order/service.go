// Package order drives the order lifecycle after checkout: buyer
// cancellation, admin status changes, per-item vendor fulfillment and the
// read views for buyers, vendors and admins.
package order

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/ahz777/nxtmarket/internal/application"
	"github.com/ahz777/nxtmarket/internal/domain/audit"
	"github.com/ahz777/nxtmarket/internal/domain/catalog"
	"github.com/ahz777/nxtmarket/internal/domain/notification"
	domain "github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
)

const (
	orderService = "order-service"

	DefaultLimit   = 20
	MaxLimit       = 50
	MaxAdminLimit  = 100
	restockCancel  = "order_cancelled"
	aggregateTries = 3
)

type Service struct {
	orders   domain.Repository
	ledger   catalog.Ledger
	notifier application.Notifier
	auditor  application.Auditor
	now      func() time.Time

	ins           application.Instruments
	compensations observability.Counter
}

type Deps struct {
	Orders   domain.Repository
	Ledger   catalog.Ledger
	Notifier application.Notifier
	Auditor  application.Auditor
}

func NewService(d Deps, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Service{
		orders:        d.Orders,
		ledger:        d.Ledger,
		notifier:      d.Notifier,
		auditor:       d.Auditor,
		now:           func() time.Time { return time.Now().UTC() },
		ins:           application.NewInstruments(tel, orderService),
		compensations: tel.Metrics().Counter(observability.MStockCompensations),
	}
}

// Listing is one page of orders.
type Listing struct {
	Orders []*domain.Order
	Total  int
	Page   int
	Limit  int
	Pages  int
}

func newListing(orders []*domain.Order, total int, p domain.Page) *Listing {
	pages := 0
	if p.Limit > 0 {
		pages = int(math.Ceil(float64(total) / float64(p.Limit)))
	}
	return &Listing{Orders: orders, Total: total, Page: p.Number, Limit: p.Limit, Pages: pages}
}

// Paginate clamps raw query values: page >= 1, 1 <= limit <= max, and an
// absent limit means DefaultLimit.
func Paginate(page, limit, max int) domain.Page {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > max {
		limit = max
	}
	return domain.Page{Number: page, Limit: limit}
}

// Restock returns each item's quantity to the catalog by SKU. With
// skipShipped, lines already handed to a carrier stay out of stock. A
// failed line is logged and skipped; the order change that triggered the
// restock has already been committed.
func Restock(ctx context.Context, ledger catalog.Ledger, items []domain.Item, skipShipped bool, logger observability.Logger) int {
	ctx = context.WithoutCancel(ctx)
	restocked := 0
	for _, it := range items {
		if skipShipped && it.Shipped() {
			continue
		}
		err := ledger.IncrementBySKU(ctx, it.ProductSKU, it.Qty)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			logger.Error("restock_failed",
				observability.F("sku", it.ProductSKU),
				observability.F("qty", it.Qty),
				observability.F("error", err),
			)
			continue
		}
		if err != nil {
			logger.Warn("restock_sku_missing", observability.F("sku", it.ProductSKU))
			continue
		}
		restocked++
	}
	return restocked
}

func (s *Service) restock(ctx context.Context, o *domain.Order, reason string) {
	n := Restock(ctx, s.ledger, o.Items, false, logctx.FromOr(ctx, s.ins.Logger()))
	s.compensations.Add(float64(n), observability.L("reason", reason))
}

func (s *Service) notifyStatus(ctx context.Context, o *domain.Order) {
	payload := map[string]any{"orderId": o.ID, "status": o.Status, "userId": o.UserID}
	s.notifier.EmitOrder(ctx, notification.EventOrderStatusChanged, o.UserID, o.VendorIDs(), payload, payload)
}

func (s *Service) record(ctx context.Context, actorType audit.ActorType, actorID, entityType, entityID, action string, data map[string]any) {
	s.auditor.Record(ctx, audit.Entry{
		ActorType:  actorType,
		ActorID:    actorID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Data:       data,
	})
}

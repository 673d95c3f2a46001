// Package checkout turns a user's cart into a PENDING order. Stock lives in
// the catalog store and orders in the transactional store, so the two
// writes are coordinated as a saga: every reservation has a compensating
// increment that runs if a later step fails.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ahz777/nxtmarket/internal/application"
	"github.com/ahz777/nxtmarket/internal/application/idempotency"
	"github.com/ahz777/nxtmarket/internal/domain/audit"
	"github.com/ahz777/nxtmarket/internal/domain/cart"
	"github.com/ahz777/nxtmarket/internal/domain/catalog"
	"github.com/ahz777/nxtmarket/internal/domain/identity"
	"github.com/ahz777/nxtmarket/internal/domain/notification"
	"github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
	"github.com/ahz777/nxtmarket/internal/pkg/saga"
	"go.opentelemetry.io/otel/attribute"
)

const (
	checkoutService  = "checkout-service"
	useCaseCheckout  = "order.checkout"
	Endpoint         = "POST /api/orders"
	MinKeyLength     = 8
	DefaultLowStock  = 5
	reasonNoStock    = "insufficient_stock"
	reasonCreateFail = "order_create_failed"
)

var (
	ErrKeyRequired    = apperr.Validation("Idempotency-Key header is required (min 8 chars)")
	ErrEmptyCart      = apperr.Validation("Cart is empty")
	ErrInvalidProduct = apperr.Validation("Invalid productId in cart")
	ErrInvalidQty     = apperr.Validation("Invalid quantity in cart")
	ErrProductsGone   = apperr.Conflict("One or more products no longer exist")
)

type Input struct {
	Actor          identity.Actor
	IdempotencyKey string
}

// Result carries the exact bytes to send; a replay returns what the first
// call stored.
type Result struct {
	StatusCode int
	Body       []byte
	Replayed   bool
	OrderID    string
}

type Response struct {
	OrderID string       `json:"orderId"`
	Status  order.Status `json:"status"`
	Total   string       `json:"total"`
}

type Service struct {
	orders   order.Repository
	ledger   catalog.Ledger
	carts    cart.Repository
	guard    *idempotency.Guard
	notifier application.Notifier
	auditor  application.Auditor
	ids      application.IDGenerator
	lowStock int

	ins           application.Instruments
	compensations observability.Counter // stock_compensations_total{reason}
}

type Deps struct {
	Orders   order.Repository
	Ledger   catalog.Ledger
	Carts    cart.Repository
	Guard    *idempotency.Guard
	Notifier application.Notifier
	Auditor  application.Auditor
	IDs      application.IDGenerator
	// LowStock is the remaining-stock level at or below which vendors are
	// warned. Zero selects DefaultLowStock.
	LowStock int
}

func NewService(d Deps, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	if d.LowStock <= 0 {
		d.LowStock = DefaultLowStock
	}
	return &Service{
		orders:        d.Orders,
		ledger:        d.Ledger,
		carts:         d.Carts,
		guard:         d.Guard,
		notifier:      d.Notifier,
		auditor:       d.Auditor,
		ids:           d.IDs,
		lowStock:      d.LowStock,
		ins:           application.NewInstruments(tel, checkoutService),
		compensations: tel.Metrics().Counter(observability.MStockCompensations),
	}
}

// reservation is one cart line bound to its catalog snapshot.
type reservation struct {
	product   *catalog.Product
	qty       int
	remaining int
}

func (s *Service) Execute(ctx context.Context, in Input) (_ *Result, err error) {
	ctx, run := s.ins.Start(ctx, useCaseCheckout, "Checkout",
		attribute.String("user.id", in.Actor.ID),
	)
	defer run.End(&err)
	logger := run.Logger()

	if err := identity.Authorize(in.Actor, identity.PermCheckout); err != nil {
		run.Fail("FORBIDDEN")
		return nil, apperr.Wrap(apperr.KindForbidden, err, "Forbidden")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) < MinKeyLength {
		run.Fail("IDEMPOTENCY_KEY_INVALID")
		return nil, ErrKeyRequired
	}

	claim, err := s.guard.Begin(ctx, idempotency.Claim{Key: key, ActorID: in.Actor.ID, Endpoint: Endpoint})
	if err != nil {
		run.Fail("IDEMPOTENCY_REJECTED")
		return nil, err
	}
	if claim.Outcome == idempotency.Replay {
		run.Status("IDEMPOTENT_REPLAY")
		run.Span().AddEvent("order.idempotent_replay")
		return &Result{StatusCode: claim.StatusCode, Body: claim.Response, Replayed: true}, nil
	}

	completed := false
	defer func() {
		if !completed {
			s.guard.Release(context.WithoutCancel(ctx), key)
		}
	}()

	reservations, err := s.snapshot(ctx, in.Actor.ID)
	if err != nil {
		run.Fail("CART_REJECTED")
		return nil, err
	}

	entity, err := s.placeOrder(ctx, in.Actor.ID, reservations)
	if err != nil {
		if saga.IsCompensationFailure(err) {
			logger.Error("stock_compensation_failed", observability.F("error", err))
		}
		run.Fail("PLACE_ORDER_FAILED")
		return nil, err
	}
	run.Span().SetAttributes(attribute.String("order.id", entity.ID))
	run.Note(observability.F("order_id", entity.ID))

	if cerr := s.carts.Clear(ctx, in.Actor.ID); cerr != nil {
		logger.Warn("cart_clear_failed",
			observability.F("order_id", entity.ID),
			observability.F("error", cerr),
		)
	}

	s.announce(ctx, entity, reservations)

	body, err := json.Marshal(Response{OrderID: entity.ID, Status: entity.Status, Total: entity.Total.StringFixed(2)})
	if err != nil {
		run.Fail("ENCODE_FAILED")
		return nil, apperr.Internal(err)
	}
	if cerr := s.guard.Complete(ctx, key, http.StatusCreated, body); cerr != nil {
		// The order exists; the claim is left to expire.
		logger.Error("idempotency_complete_failed",
			observability.F("order_id", entity.ID),
			observability.F("error", cerr),
		)
	}
	completed = true

	return &Result{StatusCode: http.StatusCreated, Body: body, OrderID: entity.ID}, nil
}

// snapshot loads the cart and freezes the catalog view of every line.
func (s *Service) snapshot(ctx context.Context, userID string) ([]*reservation, error) {
	lines, err := s.carts.Lines(ctx, userID)
	if errors.Is(err, cart.ErrInvalidProduct) {
		return nil, ErrInvalidProduct
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("checkout: load cart: %w", err))
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	out := make([]*reservation, 0, len(lines))
	for _, line := range lines {
		if line.Qty <= 0 {
			return nil, ErrInvalidQty
		}
		p, err := s.ledger.FindByID(ctx, line.ProductID)
		switch {
		case errors.Is(err, catalog.ErrInvalidID):
			return nil, ErrInvalidProduct
		case errors.Is(err, catalog.ErrNotFound):
			return nil, ErrProductsGone
		case err != nil:
			return nil, apperr.Internal(fmt.Errorf("checkout: find product: %w", err))
		}
		out = append(out, &reservation{product: p, qty: line.Qty})
	}
	return out, nil
}

// placeOrder reserves stock line by line, then writes the order. Any
// failure undoes the reservations already taken, newest first.
func (s *Service) placeOrder(ctx context.Context, userID string, reservations []*reservation) (*order.Order, error) {
	lines := make([]order.Line, 0, len(reservations))
	for _, r := range reservations {
		lines = append(lines, order.Line{
			ItemID:   s.ids.NewID(),
			SKU:      r.product.SKU,
			Title:    r.product.Title,
			Price:    r.product.Price,
			Qty:      r.qty,
			VendorID: r.product.VendorID,
		})
	}
	entity, err := order.New(s.ids.NewID(), userID, lines)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "Invalid cart contents")
	}

	reason := reasonNoStock
	steps := make([]saga.Step, 0, len(reservations)+1)
	for _, r := range reservations {
		steps = append(steps, saga.Func("reserve:"+r.product.SKU,
			func(ctx context.Context) error {
				remaining, err := s.ledger.Decrement(ctx, r.product.ID, r.qty)
				if errors.Is(err, catalog.ErrInsufficientStock) || errors.Is(err, catalog.ErrNotFound) {
					return apperr.Wrap(apperr.KindConflict, err, "Insufficient stock for SKU "+r.product.SKU).
						WithDetails(map[string]any{"sku": r.product.SKU})
				}
				if err != nil {
					return apperr.Internal(fmt.Errorf("checkout: decrement %s: %w", r.product.SKU, err))
				}
				r.remaining = remaining
				return nil
			},
			func(ctx context.Context) error {
				s.compensations.Add(1, observability.L("reason", reason))
				return s.ledger.Increment(ctx, r.product.ID, r.qty)
			},
		))
	}
	steps = append(steps, saga.Func("create_order",
		func(ctx context.Context) error {
			if err := s.orders.Create(ctx, entity); err != nil {
				reason = reasonCreateFail
				return apperr.Internal(fmt.Errorf("checkout: create order: %w", err))
			}
			return nil
		},
		nil,
	))

	logger := logctx.FromOr(ctx, s.ins.Logger()).With(observability.F("saga", "checkout"))
	if err := saga.NewOrchestrator(logger, steps...).Run(ctx); err != nil {
		return nil, err
	}
	return entity, nil
}

func (s *Service) announce(ctx context.Context, o *order.Order, reservations []*reservation) {
	warned := make(map[string]struct{})
	for _, r := range reservations {
		if r.remaining > s.lowStock {
			continue
		}
		if _, ok := warned[r.product.ID]; ok {
			continue
		}
		warned[r.product.ID] = struct{}{}
		s.notifier.Emit(ctx, notification.VendorRoom(r.product.VendorID), notification.EventLowStock, map[string]any{
			"sku":      r.product.SKU,
			"title":    r.product.Title,
			"stock":    r.remaining,
			"vendorId": r.product.VendorID,
		})
	}

	total := o.Total.StringFixed(2)
	s.notifier.EmitOrder(ctx, notification.EventOrderCreated, o.UserID, o.VendorIDs(),
		map[string]any{"orderId": o.ID, "userId": o.UserID, "status": o.Status, "total": total},
		map[string]any{"orderId": o.ID, "userId": o.UserID},
	)

	s.auditor.Record(ctx, audit.Entry{
		ActorType:  audit.ActorUser,
		ActorID:    o.UserID,
		EntityType: "order",
		EntityID:   o.ID,
		Action:     "order.created",
		Data:       map[string]any{"status": o.Status, "total": total},
	})
}

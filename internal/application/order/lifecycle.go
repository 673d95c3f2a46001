package order

import (
	"context"
	"errors"

	"github.com/ahz777/nxtmarket/internal/domain/audit"
	"github.com/ahz777/nxtmarket/internal/domain/identity"
	"github.com/ahz777/nxtmarket/internal/domain/notification"
	domain "github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseCancel    = "order.cancel"
	useCaseSetStatus = "order.set_status"
	useCaseShipItem  = "order.ship_item"
)

// Cancel moves the caller's own PENDING order to CANCELLED and puts every
// line back in stock.
func (s *Service) Cancel(ctx context.Context, actor identity.Actor, orderID string) (_ *domain.Order, err error) {
	ctx, run := s.ins.Start(ctx, useCaseCancel, "CancelOrder", attribute.String("order.id", orderID))
	defer run.End(&err)

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, ClassifyLookup(err)
	}
	if !actor.Can(identity.PermOrderCancelOwn) || actor.ID != o.UserID {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	if o.Status != domain.StatusPending {
		run.Fail("NOT_CANCELABLE")
		return nil, ErrNotCancelable
	}

	from := o.Status
	if err := o.TransitionTo(domain.StatusCancelled); err != nil {
		return nil, ClassifyTransition(err)
	}
	if err := s.orders.UpdateStatus(ctx, o.ID, from, o.Status); err != nil {
		run.Fail("STATUS_WRITE_FAILED")
		return nil, ClassifyTransition(err)
	}

	s.restock(ctx, o, restockCancel)
	s.notifyStatus(ctx, o)
	s.record(ctx, audit.ActorUser, actor.ID, "order", o.ID, "order.cancelled", map[string]any{"restocked": true})
	return o, nil
}

// SetStatus is the admin override. It still goes through the transition
// table.
func (s *Service) SetStatus(ctx context.Context, actor identity.Actor, orderID, status string) (_ *domain.Order, err error) {
	ctx, run := s.ins.Start(ctx, useCaseSetStatus, "SetOrderStatus", attribute.String("order.id", orderID))
	defer run.End(&err)

	if err := identity.Authorize(actor, identity.PermOrderSetStatus); err != nil {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	to, err := domain.ParseStatus(status)
	if err != nil {
		run.Fail("INVALID_STATUS")
		return nil, ErrInvalidStatus
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, ClassifyLookup(err)
	}
	from := o.Status
	if err := o.TransitionTo(to); err != nil {
		run.Fail("TRANSITION_REJECTED")
		return nil, ClassifyTransition(err)
	}
	if err := s.orders.UpdateStatus(ctx, o.ID, from, to); err != nil {
		run.Fail("STATUS_WRITE_FAILED")
		return nil, ClassifyTransition(err)
	}
	run.Note(observability.F("from", from), observability.F("to", to))

	s.notifyStatus(ctx, o)
	s.record(ctx, audit.ActorAdmin, actor.ID, "order", o.ID, "order.status_changed", map[string]any{"from": from, "to": to})
	return o, nil
}

// ShipItem marks one line shipped and re-derives the order status from its
// items. Shipping an already shipped line changes nothing.
func (s *Service) ShipItem(ctx context.Context, actor identity.Actor, orderID, itemID string) (_ *domain.Order, _ *domain.Item, err error) {
	ctx, run := s.ins.Start(ctx, useCaseShipItem, "ShipOrderItem",
		attribute.String("order.id", orderID),
		attribute.String("order.item_id", itemID),
	)
	defer run.End(&err)

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, nil, ClassifyLookup(err)
	}
	if o.Status != domain.StatusPaid && o.Status != domain.StatusPartiallyShipped {
		run.Fail("NOT_SHIPPABLE")
		return nil, nil, ErrNotShippable
	}
	item, err := o.Item(itemID)
	if err != nil {
		run.Fail("ITEM_NOT_FOUND")
		return nil, nil, ErrItemNotFound
	}
	if err := identity.AuthorizeOwned(actor, item.VendorID, identity.PermFulfillOwnItem, identity.PermFulfillAnyItem); err != nil {
		run.Fail("FORBIDDEN")
		return nil, nil, ErrForbidden
	}
	if item.Shipped() {
		run.Status("ALREADY_SHIPPED")
		return o, item, nil
	}

	changed, err := s.orders.MarkItemShipped(ctx, o.ID, item.ID, s.now())
	if err != nil {
		run.Fail("ITEM_WRITE_FAILED")
		return nil, nil, ClassifyTransition(err)
	}
	if !changed {
		run.Status("ALREADY_SHIPPED")
	}

	o, err = s.aggregate(ctx, o.ID)
	if err != nil {
		run.Fail("AGGREGATE_FAILED")
		return nil, nil, err
	}
	item, err = o.Item(itemID)
	if err != nil {
		return nil, nil, ErrItemNotFound
	}
	if !changed {
		return o, item, nil
	}

	s.notifier.Emit(ctx, notification.UserRoom(o.UserID), notification.EventOrderStatusChanged,
		map[string]any{"orderId": o.ID, "status": o.Status, "userId": o.UserID})
	s.notifier.Emit(ctx, notification.VendorRoom(item.VendorID), notification.EventOrderItemShipped,
		map[string]any{"orderId": o.ID, "itemId": item.ID, "vendorId": item.VendorID})

	actorType := audit.ActorVendor
	if actor.Can(identity.PermFulfillAnyItem) {
		actorType = audit.ActorAdmin
	}
	s.record(ctx, actorType, actor.ID, "order_item", item.ID, "order_item.shipped",
		map[string]any{"orderId": o.ID, "vendorId": item.VendorID})
	return o, item, nil
}

// aggregate reloads the order and applies the status its items imply. A
// lost compare-and-set means another shipment moved the order; the fresh
// copy is re-derived.
func (s *Service) aggregate(ctx context.Context, orderID string) (*domain.Order, error) {
	for attempt := 0; attempt < aggregateTries; attempt++ {
		o, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return nil, ClassifyLookup(err)
		}
		next := domain.Aggregate(o.Status, o.Items)
		if next == o.Status {
			return o, nil
		}
		from := o.Status
		if err := o.TransitionTo(next); err != nil {
			return nil, ClassifyTransition(err)
		}
		err = s.orders.UpdateStatus(ctx, o.ID, from, next)
		if errors.Is(err, domain.ErrStaleStatus) {
			continue
		}
		if err != nil {
			return nil, ClassifyTransition(err)
		}
		return o, nil
	}
	return nil, apperr.Wrap(apperr.KindConflict, domain.ErrStaleStatus, "Order status changed concurrently")
}

package order

import (
	"context"
	"fmt"

	"github.com/ahz777/nxtmarket/internal/domain/identity"
	domain "github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseGet         = "order.get"
	useCaseListMine    = "order.list_mine"
	useCaseVendorList  = "vendor.list_orders"
	useCaseVendorGet   = "vendor.get_order"
	useCaseAdminList   = "admin.list_orders"
	useCaseAdminGet    = "admin.get_order"
	useCaseAdminReport = "admin.metrics"
)

// Get returns the order with all items to its owner or to a reader of any
// order.
func (s *Service) Get(ctx context.Context, actor identity.Actor, orderID string) (_ *domain.Order, err error) {
	ctx, run := s.ins.Start(ctx, useCaseGet, "GetOrder", attribute.String("order.id", orderID))
	defer run.End(&err)

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, ClassifyLookup(err)
	}
	if err := identity.AuthorizeOwned(actor, o.UserID, identity.PermOrderReadOwn, identity.PermOrderReadAny); err != nil {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	return o, nil
}

func (s *Service) ListMine(ctx context.Context, actor identity.Actor, page, limit int) (_ *Listing, err error) {
	ctx, run := s.ins.Start(ctx, useCaseListMine, "ListMyOrders")
	defer run.End(&err)

	if err := identity.Authorize(actor, identity.PermOrderReadOwn); err != nil {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	p := Paginate(page, limit, MaxLimit)
	orders, total, err := s.orders.ListByUser(ctx, actor.ID, p)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("order repository: list by user: %w", err))
	}
	return newListing(orders, total, p), nil
}

// VendorList pages over the vendor's own items, grouped per order.
func (s *Service) VendorList(ctx context.Context, actor identity.Actor, page, limit int) (_ *Listing, err error) {
	ctx, run := s.ins.Start(ctx, useCaseVendorList, "ListVendorOrders")
	defer run.End(&err)

	if err := identity.Authorize(actor, identity.PermVendorOrdersRead); err != nil {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	p := Paginate(page, limit, MaxLimit)
	orders, total, err := s.orders.ListByVendor(ctx, actor.ID, p)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("order repository: list by vendor: %w", err))
	}
	return newListing(orders, total, p), nil
}

// VendorGet returns the order narrowed to the caller's items. A vendor with
// no line in the order may not see it.
func (s *Service) VendorGet(ctx context.Context, actor identity.Actor, orderID string) (_ *domain.Order, err error) {
	ctx, run := s.ins.Start(ctx, useCaseVendorGet, "GetVendorOrder", attribute.String("order.id", orderID))
	defer run.End(&err)

	if err := identity.Authorize(actor, identity.PermVendorOrdersRead); err != nil {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, ClassifyLookup(err)
	}
	mine := o.ItemsOf(actor.ID)
	if len(mine) == 0 {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	o.Items = mine
	return o, nil
}

type AdminQuery struct {
	Status string
	UserID string
	Page   int
	Limit  int
}

func (s *Service) AdminList(ctx context.Context, actor identity.Actor, q AdminQuery) (_ *Listing, err error) {
	ctx, run := s.ins.Start(ctx, useCaseAdminList, "AdminListOrders")
	defer run.End(&err)

	if err := identity.Authorize(actor, identity.PermOrderReadAny); err != nil {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	filter := domain.Filter{UserID: q.UserID}
	if q.Status != "" {
		st, err := domain.ParseStatus(q.Status)
		if err != nil {
			run.Fail("INVALID_STATUS")
			return nil, ErrInvalidStatus
		}
		filter.Status = st
	}
	p := Paginate(q.Page, q.Limit, MaxAdminLimit)
	orders, total, err := s.orders.List(ctx, filter, p)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("order repository: list: %w", err))
	}
	return newListing(orders, total, p), nil
}

func (s *Service) AdminGet(ctx context.Context, actor identity.Actor, orderID string) (_ *domain.Order, err error) {
	ctx, run := s.ins.Start(ctx, useCaseAdminGet, "AdminGetOrder", attribute.String("order.id", orderID))
	defer run.End(&err)

	if err := identity.Authorize(actor, identity.PermOrderReadAny); err != nil {
		run.Fail("FORBIDDEN")
		return nil, ErrForbidden
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, ClassifyLookup(err)
	}
	return o, nil
}

func (s *Service) Metrics(ctx context.Context, actor identity.Actor) (_ domain.Stats, err error) {
	ctx, run := s.ins.Start(ctx, useCaseAdminReport, "AdminMetrics")
	defer run.End(&err)

	if err := identity.Authorize(actor, identity.PermAdminReports); err != nil {
		run.Fail("FORBIDDEN")
		return domain.Stats{}, ErrForbidden
	}
	st, err := s.orders.Stats(ctx)
	if err != nil {
		return domain.Stats{}, apperr.Internal(fmt.Errorf("order repository: stats: %w", err))
	}
	return st, nil
}

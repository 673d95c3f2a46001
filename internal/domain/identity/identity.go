// Package identity holds the authenticated actor and the authorization policy.
package identity

import (
	"context"
	"errors"
)

var ErrForbidden = errors.New("identity: permission denied")

type Role string

const (
	RoleUser   Role = "user"
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	_, ok := policy[r]
	return ok
}

type Actor struct {
	ID   string
	Role Role
}

type Permission string

const (
	PermCheckout         Permission = "order:checkout"
	PermOrderReadOwn     Permission = "order:read:own"
	PermOrderReadAny     Permission = "order:read:any"
	PermOrderCancelOwn   Permission = "order:cancel:own"
	PermOrderSetStatus   Permission = "order:status:set"
	PermPaymentIntentOwn Permission = "payment:intent:own"
	PermPaymentIntentAny Permission = "payment:intent:any"
	PermVendorOrdersRead Permission = "vendor:orders:read"
	PermFulfillOwnItem   Permission = "fulfillment:ship:own"
	PermFulfillAnyItem   Permission = "fulfillment:ship:any"
	PermAdminReports     Permission = "admin:reports"
)

// policy is the single role -> capability table.
var policy = map[Role]map[Permission]struct{}{
	RoleUser: {
		PermCheckout:         {},
		PermOrderReadOwn:     {},
		PermOrderCancelOwn:   {},
		PermPaymentIntentOwn: {},
	},
	RoleVendor: {
		PermOrderReadOwn:     {},
		PermVendorOrdersRead: {},
		PermFulfillOwnItem:   {},
	},
	RoleAdmin: {
		PermOrderReadOwn:     {},
		PermOrderReadAny:     {},
		PermOrderSetStatus:   {},
		PermPaymentIntentOwn: {},
		PermPaymentIntentAny: {},
		PermVendorOrdersRead: {},
		PermFulfillOwnItem:   {},
		PermFulfillAnyItem:   {},
		PermAdminReports:     {},
	},
}

// Can reports whether the actor's role grants perm.
func (a Actor) Can(perm Permission) bool {
	_, ok := policy[a.Role][perm]
	return ok
}

// Authorize fails with ErrForbidden unless the actor holds perm.
func Authorize(a Actor, perm Permission) error {
	if a.Can(perm) {
		return nil
	}
	return ErrForbidden
}

// AuthorizeOwned passes when the actor holds anyPerm, or holds ownPerm and
// owns the resource.
func AuthorizeOwned(a Actor, ownerID string, ownPerm, anyPerm Permission) error {
	if a.Can(anyPerm) {
		return nil
	}
	if a.Can(ownPerm) && a.ID != "" && a.ID == ownerID {
		return nil
	}
	return ErrForbidden
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	appaudit "github.com/ahz777/nxtmarket/internal/application/audit"
	"github.com/ahz777/nxtmarket/internal/application/idempotency"
	"github.com/ahz777/nxtmarket/internal/domain/cart"
	"github.com/ahz777/nxtmarket/internal/domain/catalog"
	"github.com/ahz777/nxtmarket/internal/domain/identity"
	"github.com/ahz777/nxtmarket/internal/domain/notification"
	"github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/ahz777/nxtmarket/internal/infrastructure/memory"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%03d", s.n)
}

type sent struct {
	room, event string
	payload     map[string]any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (f *fakeNotifier) Emit(_ context.Context, room, event string, payload map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{room: room, event: event, payload: payload})
}

func (f *fakeNotifier) EmitOrder(ctx context.Context, event, userID string, vendorIDs []string, up, vp map[string]any) {
	f.Emit(ctx, notification.UserRoom(userID), event, up)
	for _, v := range vendorIDs {
		f.Emit(ctx, notification.VendorRoom(v), event, vp)
	}
}

func (f *fakeNotifier) events(name string) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.sent {
		if s.event == name {
			out = append(out, s)
		}
	}
	return out
}

// failingOrders fails Create so the compensation path runs.
type failingOrders struct {
	*memory.OrderRepository
}

func (failingOrders) Create(context.Context, *order.Order) error {
	return errors.New("connection reset")
}

type fixture struct {
	svc      *Service
	orders   *memory.OrderRepository
	catalog  *memory.Catalog
	carts    *memory.CartRepository
	audit    *memory.AuditSink
	notifier *fakeNotifier
}

func newFixture(t *testing.T, orders order.Repository, products ...catalog.Product) *fixture {
	t.Helper()
	f := &fixture{
		orders:   memory.NewOrderRepository(),
		catalog:  memory.NewCatalog(products...),
		carts:    memory.NewCartRepository(),
		audit:    memory.NewAuditSink(),
		notifier: &fakeNotifier{},
	}
	if orders == nil {
		orders = f.orders
	}
	f.svc = NewService(Deps{
		Orders:   orders,
		Ledger:   f.catalog,
		Carts:    f.carts,
		Guard:    idempotency.NewGuard(memory.NewIdempotencyStore(), time.Minute),
		Notifier: f.notifier,
		Auditor:  appaudit.NewRecorder(f.audit, nil),
		IDs:      &seqIDs{},
	}, observability.Nop())
	return f
}

func product(id, sku string, price string, stock int, vendor string) catalog.Product {
	return catalog.Product{ID: id, SKU: sku, Title: "Title " + sku, Price: decimal.RequireFromString(price), Stock: stock, VendorID: vendor}
}

var buyer = identity.Actor{ID: "U1", Role: identity.RoleUser}

func userOrders(t *testing.T, repo *memory.OrderRepository, userID string) []*order.Order {
	t.Helper()
	list, _, err := repo.ListByUser(context.Background(), userID, order.Page{Number: 1, Limit: 50})
	require.NoError(t, err)
	return list
}

func TestCheckoutCreatesOrder(t *testing.T) {
	f := newFixture(t, nil,
		product("p1", "a-1", "10.015", 10, "V1"),
		product("p2", "B-2", "5", 6, "V2"),
	)
	f.carts.Set("U1", cart.Line{ProductID: "p1", Qty: 2}, cart.Line{ProductID: "p2", Qty: 3})

	res, err := f.svc.Execute(context.Background(), Input{Actor: buyer, IdempotencyKey: "key-00000001"})
	require.NoError(t, err)
	assert.Equal(t, 201, res.StatusCode)
	assert.False(t, res.Replayed)
	assert.JSONEq(t, `{"orderId":"`+res.OrderID+`","status":"PENDING","total":"35.04"}`, string(res.Body))

	o, err := f.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "A-1", o.Items[0].ProductSKU)
	assert.Equal(t, 8, f.catalog.Stock("p1"))
	assert.Equal(t, 3, f.catalog.Stock("p2"))

	lines, _ := f.carts.Lines(context.Background(), "U1")
	assert.Empty(t, lines)

	created := f.notifier.events(notification.EventOrderCreated)
	require.Len(t, created, 3)
	assert.Equal(t, "user:U1", created[0].room)
	assert.Equal(t, "35.04", created[0].payload["total"])
	assert.Equal(t, "vendor:V1", created[1].room)
	assert.Equal(t, map[string]any{"orderId": res.OrderID, "userId": "U1"}, created[2].payload)

	low := f.notifier.events(notification.EventLowStock)
	require.Len(t, low, 1)
	assert.Equal(t, "vendor:V2", low[0].room)
	assert.Equal(t, 3, low[0].payload["stock"])

	entries := f.audit.Entries("order.created")
	require.Len(t, entries, 1)
	assert.Equal(t, "35.04", entries[0].Data["total"])
}

func TestCheckoutInsufficientStockKeepsStock(t *testing.T) {
	f := newFixture(t, nil, product("p1", "A", "1.00", 2, "V1"))
	f.carts.Set("U1", cart.Line{ProductID: "p1", Qty: 3})

	_, err := f.svc.Execute(context.Background(), Input{Actor: buyer, IdempotencyKey: "key-00000001"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	ae, _ := apperr.As(err)
	assert.Equal(t, "Insufficient stock for SKU A", ae.Message)
	assert.Equal(t, "A", ae.Details["sku"])

	assert.Equal(t, 2, f.catalog.Stock("p1"))
	assert.Empty(t, userOrders(t, f.orders, "U1"))
}

func TestCheckoutRollsBackEarlierLines(t *testing.T) {
	f := newFixture(t, nil,
		product("pa", "A", "1.00", 5, "V1"),
		product("pb", "B", "1.00", 0, "V1"),
	)
	f.carts.Set("U1", cart.Line{ProductID: "pa", Qty: 2}, cart.Line{ProductID: "pb", Qty: 1})

	_, err := f.svc.Execute(context.Background(), Input{Actor: buyer, IdempotencyKey: "key-00000001"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)

	assert.Equal(t, 5, f.catalog.Stock("pa"))
	assert.Equal(t, 0, f.catalog.Stock("pb"))
	assert.Empty(t, userOrders(t, f.orders, "U1"))
	assert.Empty(t, f.notifier.events(notification.EventOrderCreated))

	lines, _ := f.carts.Lines(context.Background(), "U1")
	assert.Len(t, lines, 2)
}

func TestCheckoutCompensatesWhenOrderWriteFails(t *testing.T) {
	f := newFixture(t, failingOrders{memory.NewOrderRepository()},
		product("pa", "A", "1.00", 5, "V1"),
		product("pb", "B", "1.00", 4, "V1"),
	)
	f.carts.Set("U1", cart.Line{ProductID: "pa", Qty: 2}, cart.Line{ProductID: "pb", Qty: 1})

	_, err := f.svc.Execute(context.Background(), Input{Actor: buyer, IdempotencyKey: "key-00000001"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Equal(t, 5, f.catalog.Stock("pa"))
	assert.Equal(t, 4, f.catalog.Stock("pb"))
	assert.Empty(t, f.audit.Entries(""))
}

func TestCheckoutReplayIsByteIdentical(t *testing.T) {
	f := newFixture(t, nil, product("p1", "A", "2.50", 10, "V1"))
	f.carts.Set("U1", cart.Line{ProductID: "p1", Qty: 1})
	in := Input{Actor: buyer, IdempotencyKey: "key-00000001"}

	first, err := f.svc.Execute(context.Background(), in)
	require.NoError(t, err)

	f.carts.Set("U1", cart.Line{ProductID: "p1", Qty: 4})
	second, err := f.svc.Execute(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.StatusCode, second.StatusCode)
	assert.Equal(t, first.Body, second.Body)
	assert.Len(t, userOrders(t, f.orders, "U1"), 1)
	assert.Equal(t, 9, f.catalog.Stock("p1"))
}

func TestCheckoutFailureReleasesKey(t *testing.T) {
	f := newFixture(t, nil, product("p1", "A", "1.00", 1, "V1"))
	f.carts.Set("U1", cart.Line{ProductID: "p1", Qty: 2})
	in := Input{Actor: buyer, IdempotencyKey: "key-00000001"}

	_, err := f.svc.Execute(context.Background(), in)
	require.Error(t, err)

	f.carts.Set("U1", cart.Line{ProductID: "p1", Qty: 1})
	res, err := f.svc.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestCheckoutRejections(t *testing.T) {
	tests := []struct {
		name  string
		actor identity.Actor
		key   string
		lines []cart.Line
		kind  apperr.Kind
		msg   string
	}{
		{name: "short key", actor: buyer, key: " short ", lines: []cart.Line{{ProductID: "p1", Qty: 1}}, kind: apperr.KindValidation},
		{name: "empty cart", actor: buyer, key: "key-00000001", kind: apperr.KindValidation, msg: "Cart is empty"},
		{name: "malformed product", actor: buyer, key: "key-00000002", lines: []cart.Line{{ProductID: " ", Qty: 1}}, kind: apperr.KindValidation, msg: "Invalid productId in cart"},
		{name: "vanished product", actor: buyer, key: "key-00000003", lines: []cart.Line{{ProductID: "gone", Qty: 1}}, kind: apperr.KindConflict, msg: "One or more products no longer exist"},
		{name: "vendor cannot buy", actor: identity.Actor{ID: "U1", Role: identity.RoleVendor}, key: "key-00000004", lines: []cart.Line{{ProductID: "p1", Qty: 1}}, kind: apperr.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, product("p1", "A", "1.00", 5, "V1"))
			f.carts.Set("U1", tt.lines...)

			_, err := f.svc.Execute(context.Background(), Input{Actor: tt.actor, IdempotencyKey: tt.key})
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			if tt.msg != "" {
				ae, ok := apperr.As(err)
				require.True(t, ok)
				assert.Equal(t, tt.msg, ae.Message)
			}
			assert.Equal(t, 5, f.catalog.Stock("p1"))
		})
	}
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t, nil, product("p1", "A", "1.00", 5, "V1"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		user := fmt.Sprintf("U%d", i)
		f.carts.Set(user, cart.Line{ProductID: "p1", Qty: 1})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Execute(context.Background(), Input{
				Actor:          identity.Actor{ID: user, Role: identity.RoleUser},
				IdempotencyKey: "key-" + user + "-0000",
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, f.catalog.Stock("p1"))
}

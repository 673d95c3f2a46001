package order

import (
	"context"
	"sync"
	"testing"
	"time"

	appaudit "github.com/ahz777/nxtmarket/internal/application/audit"
	"github.com/ahz777/nxtmarket/internal/domain/catalog"
	"github.com/ahz777/nxtmarket/internal/domain/identity"
	"github.com/ahz777/nxtmarket/internal/domain/notification"
	domain "github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/ahz777/nxtmarket/internal/infrastructure/memory"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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
	f.sent = append(f.sent, sent{room, event, payload})
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

var (
	buyer   = identity.Actor{ID: "U1", Role: identity.RoleUser}
	other   = identity.Actor{ID: "U2", Role: identity.RoleUser}
	vendor1 = identity.Actor{ID: "V1", Role: identity.RoleVendor}
	vendor2 = identity.Actor{ID: "V2", Role: identity.RoleVendor}
	admin   = identity.Actor{ID: "A1", Role: identity.RoleAdmin}
)

type fixture struct {
	svc      *Service
	orders   *memory.OrderRepository
	catalog  *memory.Catalog
	audit    *memory.AuditSink
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders: memory.NewOrderRepository(),
		catalog: memory.NewCatalog(
			catalog.Product{ID: "pa", SKU: "A", Stock: 3, VendorID: "V1"},
			catalog.Product{ID: "pb", SKU: "B", Stock: 0, VendorID: "V2"},
		),
		audit:    memory.NewAuditSink(),
		notifier: &fakeNotifier{},
	}
	f.svc = NewService(Deps{
		Orders:   f.orders,
		Ledger:   f.catalog,
		Notifier: f.notifier,
		Auditor:  appaudit.NewRecorder(f.audit, nil),
	}, observability.Nop())
	return f
}

// seed stores a two-vendor order for U1 in the given status.
func (f *fixture) seed(t *testing.T, id string, status domain.Status) *domain.Order {
	t.Helper()
	o, err := domain.New(id, "U1", []domain.Line{
		{ItemID: id + "-i1", SKU: "a", Title: "A", Price: decimal.NewFromInt(3), Qty: 2, VendorID: "V1"},
		{ItemID: id + "-i2", SKU: "b", Title: "B", Price: decimal.NewFromInt(4), Qty: 1, VendorID: "V2"},
	})
	require.NoError(t, err)
	o.Status = status
	require.NoError(t, f.orders.Create(context.Background(), o))
	return o
}

func (f *fixture) status(t *testing.T, id string) domain.Status {
	t.Helper()
	o, err := f.orders.Get(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestCancelRestocksAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1", domain.StatusPending)

	o, err := f.svc.Cancel(context.Background(), buyer, "O1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, o.Status)
	assert.Equal(t, domain.StatusCancelled, f.status(t, "O1"))
	assert.Equal(t, 5, f.catalog.Stock("pa"))
	assert.Equal(t, 1, f.catalog.Stock("pb"))

	changed := f.notifier.events(notification.EventOrderStatusChanged)
	require.Len(t, changed, 3)
	assert.Equal(t, "user:U1", changed[0].room)

	entries := f.audit.Entries("order.cancelled")
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]any{"restocked": true}, entries[0].Data)
}

func TestCancelRejections(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1", domain.StatusPending)
	f.seed(t, "O2", domain.StatusPaid)

	_, err := f.svc.Cancel(context.Background(), other, "O1")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.Cancel(context.Background(), admin, "O1")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = f.svc.Cancel(context.Background(), buyer, "O2")
	assert.ErrorIs(t, err, ErrNotCancelable)

	_, err = f.svc.Cancel(context.Background(), buyer, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	assert.Equal(t, 3, f.catalog.Stock("pa"))
}

func TestSetStatusUsesTransitionTable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1", domain.StatusPending)

	_, err := f.svc.SetStatus(context.Background(), admin, "O1", "shipped")
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	ae, _ := apperr.As(err)
	assert.Equal(t, "Cannot transition order from PENDING to SHIPPED", ae.Message)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.SetStatus(context.Background(), admin, "O1", "lost")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.SetStatus(context.Background(), buyer, "O1", "paid")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	o, err := f.svc.SetStatus(context.Background(), admin, "O1", " paid ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, o.Status)

	entries := f.audit.Entries("order.status_changed")
	require.Len(t, entries, 1)
	assert.Equal(t, domain.StatusPending, entries[0].Data["from"])
	assert.Equal(t, domain.StatusPaid, entries[0].Data["to"])
	assert.Equal(t, "A1", entries[0].ActorID)
}

func TestShipItemsInEitherOrder(t *testing.T) {
	orders := [][]string{{"i1", "i2"}, {"i2", "i1"}}
	for _, seq := range orders {
		t.Run(seq[0]+"_first", func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "O1", domain.StatusPaid)
			actors := map[string]identity.Actor{"i1": vendor1, "i2": vendor2}

			_, _, err := f.svc.ShipItem(context.Background(), actors[seq[0]], "O1", "O1-"+seq[0])
			require.NoError(t, err)
			assert.Equal(t, domain.StatusPartiallyShipped, f.status(t, "O1"))

			o, item, err := f.svc.ShipItem(context.Background(), actors[seq[1]], "O1", "O1-"+seq[1])
			require.NoError(t, err)
			assert.Equal(t, domain.StatusShipped, o.Status)
			assert.True(t, item.Shipped())
			assert.NotNil(t, item.ShippedAt)
			assert.Equal(t, domain.StatusShipped, f.status(t, "O1"))
		})
	}
}

func TestShipItemIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1", domain.StatusPaid)

	_, _, err := f.svc.ShipItem(context.Background(), vendor1, "O1", "O1-i1")
	require.NoError(t, err)
	o, _, err := f.svc.ShipItem(context.Background(), vendor1, "O1", "O1-i1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPartiallyShipped, o.Status)
	assert.Len(t, f.audit.Entries("order_item.shipped"), 1)
	assert.Len(t, f.notifier.events(notification.EventOrderItemShipped), 1)
}

func TestShipItemNotifiesAndAudits(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1", domain.StatusPaid)

	_, _, err := f.svc.ShipItem(context.Background(), admin, "O1", "O1-i2")
	require.NoError(t, err)

	shipped := f.notifier.events(notification.EventOrderItemShipped)
	require.Len(t, shipped, 1)
	assert.Equal(t, "vendor:V2", shipped[0].room)
	assert.Equal(t, map[string]any{"orderId": "O1", "itemId": "O1-i2", "vendorId": "V2"}, shipped[0].payload)

	changed := f.notifier.events(notification.EventOrderStatusChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "user:U1", changed[0].room)

	entries := f.audit.Entries("order_item.shipped")
	require.Len(t, entries, 1)
	assert.Equal(t, "admin", string(entries[0].ActorType))
	assert.Equal(t, "O1", entries[0].Data["orderId"])
}

func TestShipItemRejections(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1", domain.StatusPaid)
	f.seed(t, "O2", domain.StatusPending)

	_, _, err := f.svc.ShipItem(context.Background(), vendor2, "O1", "O1-i1")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, _, err = f.svc.ShipItem(context.Background(), vendor1, "O1", "nope")
	assert.ErrorIs(t, err, ErrItemNotFound)

	_, _, err = f.svc.ShipItem(context.Background(), vendor1, "O2", "O2-i1")
	assert.ErrorIs(t, err, ErrNotShippable)

	assert.Equal(t, domain.StatusPaid, f.status(t, "O1"))
}

func TestShippedOrderNeverRegresses(t *testing.T) {
	f := newFixture(t)
	o := f.seed(t, "O1", domain.StatusPaid)
	_, err := f.orders.MarkItemShipped(context.Background(), o.ID, "O1-i1", time.Now())
	require.NoError(t, err)
	require.NoError(t, f.orders.UpdateStatus(context.Background(), o.ID, domain.StatusPaid, domain.StatusShipped))

	_, _, err = f.svc.ShipItem(context.Background(), vendor2, "O1", "O1-i2")
	assert.ErrorIs(t, err, ErrNotShippable)
	assert.Equal(t, domain.StatusShipped, f.status(t, "O1"))
}

func TestConcurrentShipmentsSettleOnShipped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1", domain.StatusPaid)

	var wg sync.WaitGroup
	for _, c := range []struct {
		actor identity.Actor
		item  string
	}{{vendor1, "O1-i1"}, {vendor2, "O1-i2"}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.ShipItem(context.Background(), c.actor, "O1", c.item)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, domain.StatusShipped, f.status(t, "O1"))
}

func TestReadViews(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "O1", domain.StatusPending)
	f.seed(t, "O2", domain.StatusPaid)

	_, err := f.svc.Get(context.Background(), other, "O1")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	o, err := f.svc.Get(context.Background(), admin, "O1")
	require.NoError(t, err)
	assert.Len(t, o.Items, 2)

	mine, err := f.svc.ListMine(context.Background(), buyer, 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 2, mine.Total)
	assert.Equal(t, MaxLimit, mine.Limit)
	assert.Equal(t, 1, mine.Pages)
	assert.Equal(t, "O2", mine.Orders[0].ID)

	vo, err := f.svc.VendorGet(context.Background(), vendor2, "O1")
	require.NoError(t, err)
	require.Len(t, vo.Items, 1)
	assert.Equal(t, "V2", vo.Items[0].VendorID)

	_, err = f.svc.VendorGet(context.Background(), identity.Actor{ID: "V9", Role: identity.RoleVendor}, "O1")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	vl, err := f.svc.VendorList(context.Background(), vendor1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, vl.Total)
	assert.Equal(t, 2, vl.Pages)
	require.Len(t, vl.Orders, 1)
	assert.Len(t, vl.Orders[0].Items, 1)

	al, err := f.svc.AdminList(context.Background(), admin, AdminQuery{Status: "paid"})
	require.NoError(t, err)
	assert.Equal(t, 1, al.Total)
	assert.Equal(t, DefaultLimit, al.Limit)

	_, err = f.svc.AdminList(context.Background(), buyer, AdminQuery{})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	st, err := f.svc.Metrics(context.Background(), admin)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalOrders)
	assert.Equal(t, "20", st.TotalRevenue.String())
}

func TestPaginate(t *testing.T) {
	assert.Equal(t, domain.Page{Number: 1, Limit: 20}, Paginate(0, 0, MaxLimit))
	assert.Equal(t, domain.Page{Number: 3, Limit: 100}, Paginate(3, 1000, MaxAdminLimit))
	assert.Equal(t, domain.Page{Number: 1, Limit: 5}, Paginate(-2, 5, MaxLimit))
}

//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/ahz777/nxtmarket/internal/domain/audit"
	"github.com/ahz777/nxtmarket/internal/domain/idempotency"
	"github.com/ahz777/nxtmarket/internal/domain/order"
	"github.com/ahz777/nxtmarket/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("testuser"),
		tcpostgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(pool))
	// A second run is a no-op.
	require.NoError(t, Migrate(pool))
	return pool
}

func newOrder(t *testing.T, userID string, lines ...order.Line) *order.Order {
	t.Helper()
	for i := range lines {
		lines[i].ItemID = uuid.NewString()
	}
	o, err := order.New(uuid.NewString(), userID, lines)
	require.NoError(t, err)
	return o
}

func TestOrderRepositoryRoundTrip(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	repo := NewOrderRepository(pool)

	o := newOrder(t, "buyer-1",
		order.Line{SKU: "A", Title: "Alpha", Price: decimal.RequireFromString("10.00"), Qty: 2, VendorID: "v1"},
		order.Line{SKU: "B", Title: "Beta", Price: decimal.RequireFromString("5.25"), Qty: 1, VendorID: "v2"},
	)
	require.NoError(t, repo.Create(ctx, o))
	assert.ErrorIs(t, repo.Create(ctx, o), order.ErrConflict)

	got, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, "25.25", got.Total.StringFixed(2))
	require.Len(t, got.Items, 2)

	_, err = repo.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, order.ErrNotFound)

	require.NoError(t, repo.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusPaid))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, o.ID, order.StatusPending, order.StatusPaid), order.ErrStaleStatus)
	assert.ErrorIs(t, repo.UpdateStatus(ctx, uuid.NewString(), order.StatusPending, order.StatusPaid), order.ErrNotFound)

	itemID := o.Items[0].ID
	shipped, err := repo.MarkItemShipped(ctx, o.ID, itemID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, shipped)
	shipped, err = repo.MarkItemShipped(ctx, o.ID, itemID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, shipped)
	_, err = repo.MarkItemShipped(ctx, o.ID, uuid.NewString(), time.Now().UTC())
	assert.ErrorIs(t, err, order.ErrItemNotFound)
}

func TestOrderRepositoryListings(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	repo := NewOrderRepository(pool)

	first := newOrder(t, "u1", order.Line{SKU: "A", Title: "A", Price: decimal.NewFromInt(1), Qty: 1, VendorID: "v1"})
	second := newOrder(t, "u1",
		order.Line{SKU: "B", Title: "B", Price: decimal.NewFromInt(2), Qty: 1, VendorID: "v1"},
		order.Line{SKU: "C", Title: "C", Price: decimal.NewFromInt(3), Qty: 1, VendorID: "v2"},
	)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	other := newOrder(t, "u2", order.Line{SKU: "D", Title: "D", Price: decimal.NewFromInt(4), Qty: 1, VendorID: "v2"})
	for _, o := range []*order.Order{first, second, other} {
		require.NoError(t, repo.Create(ctx, o))
	}

	mine, total, err := repo.ListByUser(ctx, "u1", order.Page{Number: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Len(t, mine[0].Items, 2)

	vendor, total, err := repo.ListByVendor(ctx, "v1", order.Page{Number: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, vendor, 2)
	for _, o := range vendor {
		for _, it := range o.Items {
			assert.Equal(t, "v1", it.VendorID)
		}
	}

	require.NoError(t, repo.UpdateStatus(ctx, other.ID, order.StatusPending, order.StatusCancelled))
	cancelled, total, err := repo.List(ctx, order.Filter{Status: order.StatusCancelled}, order.Page{Number: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, other.ID, cancelled[0].ID)

	st, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalOrders)
	assert.Equal(t, "10.00", st.TotalRevenue.StringFixed(2))
}

func TestIntentRepository(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	orders := NewOrderRepository(pool)
	intents := NewIntentRepository(pool)

	o := newOrder(t, "u1", order.Line{SKU: "A", Title: "A", Price: decimal.NewFromInt(7), Qty: 1, VendorID: "v1"})
	require.NoError(t, orders.Create(ctx, o))

	now := time.Now().UTC()
	in := &payment.Intent{
		ID: uuid.NewString(), OrderID: o.ID, UserID: "u1", Provider: "stub",
		Amount: o.Total, Currency: payment.CurrencyUSD, Status: payment.StatusRequiresPayment,
		ClientSecret: "s", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, intents.Create(ctx, in))

	got, err := intents.LatestWithStatus(ctx, o.ID, payment.StatusRequiresPayment)
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(7)))

	require.NoError(t, intents.UpdateStatus(ctx, in.ID, payment.StatusRequiresPayment, payment.StatusSucceeded))
	assert.ErrorIs(t, intents.UpdateStatus(ctx, in.ID, payment.StatusRequiresPayment, payment.StatusFailed), payment.ErrStaleStatus)

	_, err = intents.LatestWithStatus(ctx, o.ID, payment.StatusRequiresPayment)
	assert.ErrorIs(t, err, payment.ErrNotFound)
}

func TestIdempotencyStore(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	store := NewIdempotencyStore(pool)

	now := time.Now().UTC()
	rec := &idempotency.Record{Key: "key-00001", ActorID: "u1", Endpoint: "POST /api/orders", LockedAt: now, CreatedAt: now}
	require.NoError(t, store.Insert(ctx, rec))
	assert.ErrorIs(t, store.Insert(ctx, rec), idempotency.ErrDuplicate)

	won, err := store.Reclaim(ctx, rec.Key, now.Add(-time.Minute), now)
	require.NoError(t, err)
	assert.False(t, won, "fresh lock must not be reclaimed")
	won, err = store.Reclaim(ctx, rec.Key, now.Add(time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, won)

	require.NoError(t, store.Complete(ctx, rec.Key, 201, []byte(`{"ok":true}`), now))
	got, err := store.Get(ctx, rec.Key)
	require.NoError(t, err)
	assert.True(t, got.Completed())
	assert.Equal(t, 201, got.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(got.Response))

	require.NoError(t, store.Release(ctx, rec.Key))
	_, err = store.Get(ctx, rec.Key)
	require.NoError(t, err, "completed records survive release")

	_, err = store.Get(ctx, "missing-key")
	assert.ErrorIs(t, err, idempotency.ErrNotFound)
}

func TestAuditSink(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	sink := NewAuditSink(pool)

	require.NoError(t, sink.Record(ctx, audit.Entry{
		ActorType: audit.ActorUser, ActorID: "u1", EntityType: "order", EntityID: "o1",
		Action: "order.created", Data: map[string]any{"total": "10.00"}, CreatedAt: time.Now().UTC(),
	}))

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM audit_logs WHERE action = 'order.created'`).Scan(&n))
	assert.Equal(t, 1, n)
}

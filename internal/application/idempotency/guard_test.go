package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ahz777/nxtmarket/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newGuard(t *testing.T) (*Guard, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewGuard(memory.NewIdempotencyStore(), 30*time.Second, WithClock(clk.Now)), clk
}

func checkoutClaim(key, user string) Claim {
	return Claim{Key: key, ActorID: user, Endpoint: "POST /api/orders"}
}

func TestBeginThenReplay(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	res, err := g.Begin(ctx, checkoutClaim("K1-abcdef", "U1"))
	require.NoError(t, err)
	assert.Equal(t, Fresh, res.Outcome)

	require.NoError(t, g.Complete(ctx, "K1-abcdef", 201, []byte(`{"id":"O1"}`)))

	res, err = g.Begin(ctx, checkoutClaim("K1-abcdef", "U1"))
	require.NoError(t, err)
	assert.Equal(t, Replay, res.Outcome)
	assert.Equal(t, 201, res.StatusCode)
	assert.JSONEq(t, `{"id":"O1"}`, string(res.Response))
}

func TestBeginRejectsOtherActor(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	_, err := g.Begin(ctx, checkoutClaim("K1-abcdef", "U1"))
	require.NoError(t, err)
	require.NoError(t, g.Complete(ctx, "K1-abcdef", 201, []byte(`{}`)))

	_, err = g.Begin(ctx, checkoutClaim("K1-abcdef", "U2"))
	assert.ErrorIs(t, err, ErrKeyConflict)

	_, err = g.Begin(ctx, Claim{Key: "K1-abcdef", ActorID: "U1", Endpoint: "POST /other"})
	assert.ErrorIs(t, err, ErrKeyConflict)
}

func TestBeginPayloadMismatchWinsOverReplay(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()
	claim := Claim{Key: "webhook:E1", ActorID: "webhook", Endpoint: "webhook", RequestHash: "aaa"}

	_, err := g.Begin(ctx, claim)
	require.NoError(t, err)
	require.NoError(t, g.Complete(ctx, claim.Key, 200, []byte(`{}`)))

	claim.RequestHash = "bbb"
	_, err = g.Begin(ctx, claim)
	assert.ErrorIs(t, err, ErrPayloadMismatch)
}

func TestBeginInFlightThenReclaimAfterLease(t *testing.T) {
	g, clk := newGuard(t)
	ctx := context.Background()

	_, err := g.Begin(ctx, checkoutClaim("K2-abcdef", "U1"))
	require.NoError(t, err)

	_, err = g.Begin(ctx, checkoutClaim("K2-abcdef", "U1"))
	assert.ErrorIs(t, err, ErrInProgress)

	clk.Advance(31 * time.Second)
	res, err := g.Begin(ctx, checkoutClaim("K2-abcdef", "U1"))
	require.NoError(t, err)
	assert.Equal(t, Fresh, res.Outcome)

	_, err = g.Begin(ctx, checkoutClaim("K2-abcdef", "U1"))
	assert.ErrorIs(t, err, ErrInProgress)
}

func TestReleaseAllowsRetry(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	_, err := g.Begin(ctx, checkoutClaim("K3-abcdef", "U1"))
	require.NoError(t, err)
	g.Release(ctx, "K3-abcdef")

	res, err := g.Begin(ctx, checkoutClaim("K3-abcdef", "U1"))
	require.NoError(t, err)
	assert.Equal(t, Fresh, res.Outcome)
}

func TestBeginValidatesKey(t *testing.T) {
	g, _ := newGuard(t)
	_, err := g.Begin(context.Background(), checkoutClaim("   ", "U1"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestConcurrentBeginHasOneWinner(t *testing.T) {
	g, _ := newGuard(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := g.Begin(ctx, checkoutClaim("K4-abcdef", "U1"))
			if err == nil && res.Outcome == Fresh {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, fresh)
}

func TestCanonicalHashIgnoresKeyOrder(t *testing.T) {
	a, err := CanonicalHash([]byte(`{"eventId":"E1","type":"payment_succeeded"}`))
	require.NoError(t, err)
	b, err := CanonicalHash([]byte(`{ "type": "payment_succeeded", "eventId": "E1" }`))
	require.NoError(t, err)
	c, err := CanonicalHash([]byte(`{"eventId":"E1","type":"payment_failed"}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

// Package idempotency makes a mutating operation execute at most once per
// key. A key is claimed by inserting an uncompleted record; the claim is
// finalized with the response to replay, or released when the operation
// fails so a retry can run it again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/ahz777/nxtmarket/internal/domain/idempotency"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
)

const (
	DefaultLease = 30 * time.Second
	maxAttempts  = 3
)

var (
	ErrInvalidKey      = apperr.Validation("Invalid Idempotency-Key")
	ErrPayloadMismatch = apperr.Conflict("Webhook replay payload mismatch")
	ErrKeyConflict     = apperr.Conflict("Idempotency-Key already used")
	ErrInProgress      = apperr.Conflict("Request with this Idempotency-Key is still in progress")
)

type Outcome int

const (
	// Fresh means the caller owns the key and must Complete or Release it.
	Fresh Outcome = iota
	// Replay means the operation already finished; return Response as is.
	Replay
)

type Claim struct {
	Key         string
	ActorID     string
	Endpoint    string
	RequestHash string
}

type Result struct {
	Outcome    Outcome
	StatusCode int
	Response   []byte
}

type Guard struct {
	store domain.Store
	lease time.Duration
	now   func() time.Time
	log   observability.Logger
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithLogger(l observability.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}

func NewGuard(store domain.Store, lease time.Duration, opts ...Option) *Guard {
	if lease <= 0 {
		lease = DefaultLease
	}
	g := &Guard{
		store: store,
		lease: lease,
		now:   func() time.Time { return time.Now().UTC() },
		log:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.With(observability.F("component", "idempotency_guard"))
	return g
}

// Begin claims c.Key or reports how an earlier claim on it resolves.
func (g *Guard) Begin(ctx context.Context, c Claim) (Result, error) {
	c.Key = strings.TrimSpace(c.Key)
	if c.Key == "" || len(c.Key) > domain.MaxKeyLength {
		return Result{}, ErrInvalidKey
	}
	logger := logctx.FromOr(ctx, g.log).With(observability.F("idempotency_key", c.Key))

	for attempt := 0; attempt < maxAttempts; attempt++ {
		now := g.now()
		err := g.store.Insert(ctx, &domain.Record{
			Key:         c.Key,
			ActorID:     c.ActorID,
			Endpoint:    c.Endpoint,
			RequestHash: c.RequestHash,
			LockedAt:    now,
			CreatedAt:   now,
		})
		if err == nil {
			return Result{Outcome: Fresh}, nil
		}
		if !errors.Is(err, domain.ErrDuplicate) {
			return Result{}, apperr.Internal(fmt.Errorf("idempotency: insert: %w", err))
		}

		existing, err := g.store.Get(ctx, c.Key)
		if errors.Is(err, domain.ErrNotFound) {
			// Released between our insert and read.
			continue
		}
		if err != nil {
			return Result{}, apperr.Internal(fmt.Errorf("idempotency: get: %w", err))
		}

		if existing.RequestHash != c.RequestHash {
			logger.Warn("idempotency_payload_mismatch")
			return Result{}, ErrPayloadMismatch
		}
		if existing.ActorID != c.ActorID || existing.Endpoint != c.Endpoint {
			return Result{}, ErrKeyConflict
		}
		if existing.Completed() {
			logger.Debug("idempotency_replay", observability.F("status_code", existing.StatusCode))
			return Result{Outcome: Replay, StatusCode: existing.StatusCode, Response: existing.Response}, nil
		}

		staleBefore := now.Add(-g.lease)
		if existing.LockedAt.After(staleBefore) {
			return Result{}, ErrInProgress
		}
		won, err := g.store.Reclaim(ctx, c.Key, staleBefore, now)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return Result{}, apperr.Internal(fmt.Errorf("idempotency: reclaim: %w", err))
		}
		if won {
			logger.Warn("idempotency_lease_reclaimed", observability.F("locked_at", existing.LockedAt))
			return Result{Outcome: Fresh}, nil
		}
	}
	return Result{}, ErrInProgress
}

// Complete stores the response every later Begin on key replays.
func (g *Guard) Complete(ctx context.Context, key string, statusCode int, response []byte) error {
	if response == nil {
		response = []byte{}
	}
	if err := g.store.Complete(ctx, strings.TrimSpace(key), statusCode, response, g.now()); err != nil {
		return apperr.Internal(fmt.Errorf("idempotency: complete: %w", err))
	}
	return nil
}

// Release drops an uncompleted claim. Failures are logged only: the lease
// still expires on its own.
func (g *Guard) Release(ctx context.Context, key string) {
	if err := g.store.Release(ctx, strings.TrimSpace(key)); err != nil {
		logctx.FromOr(ctx, g.log).Warn("idempotency_release_failed",
			observability.F("idempotency_key", key),
			observability.F("error", err),
		)
	}
}

// CanonicalHash hashes a JSON document independent of key order and
// whitespace.
func CanonicalHash(body []byte) (string, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", err
	}
	canon, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

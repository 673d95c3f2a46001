package notify

import (
	"context"
	"errors"
	"time"

	"github.com/ahz777/nxtmarket/internal/domain/notification"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/sony/gobreaker/v2"
)

// ErrBreakerOpen is returned without touching the transport while the
// breaker is open.
var ErrBreakerOpen = errors.New("notify: transport circuit open")

type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenFor is how long the breaker stays open before probing.
	OpenFor time.Duration
}

func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{ConsecutiveFailures: 5, OpenFor: 30 * time.Second}
}

// Breaker stops hammering a transport that keeps failing; the relay logs
// and drops while it is open.
type Breaker struct {
	next notification.Transport
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func WithBreaker(next notification.Transport, s BreakerSettings, log observability.Logger) *Breaker {
	if log == nil {
		log = observability.NopLogger()
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = DefaultBreakerSettings().ConsecutiveFailures
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "notify." + next.Name(),
		MaxRequests: 1,
		Timeout:     s.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit_state_changed",
				observability.F("breaker", name),
				observability.F("from", from.String()),
				observability.F("to", to.String()),
			)
		},
	})
	return &Breaker{next: next, cb: cb}
}

func (b *Breaker) Name() string { return b.next.Name() }

func (b *Breaker) Deliver(ctx context.Context, m notification.Message) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.next.Deliver(ctx, m)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrBreakerOpen
	}
	return err
}

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

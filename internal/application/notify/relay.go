package notify

import (
	"context"
	"fmt"
	"time"

	domain "github.com/ahz777/nxtmarket/internal/domain/notification"
	domoutbox "github.com/ahz777/nxtmarket/internal/domain/outbox"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
	workerpresentation "github.com/ahz777/nxtmarket/internal/presentation/worker"
)

type Relay struct {
	sub          domoutbox.Subscriber
	transport    domain.Transport
	tel          observability.Observability
	log          observability.Logger
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewRelay(sub domoutbox.Subscriber, transport domain.Transport, tel observability.Observability) *Relay {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Relay{
		sub:          sub,
		transport:    transport,
		tel:          tel,
		log:          tel.Logger().With(observability.F("component", "notify_relay")),
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

// Start subscribes the relay to every notification event.
func (r *Relay) Start() {
	for _, name := range domain.Events {
		r.sub.Subscribe(name, r.handle)
	}
	r.log.Info("notify_relay_started", observability.F("transport", r.transport.Name()))
}

func (r *Relay) handle(ctx context.Context, e domoutbox.Event) error {
	msg, ok := e.(domain.Message)
	if !ok {
		return fmt.Errorf("notify relay: unexpected event type %T", e)
	}
	ctx = workerpresentation.WithEventContext(ctx, r.log, r.tel, map[string]string{
		"event":     msg.Event,
		"transport": r.transport.Name(),
	})

	start := time.Now()
	outcome := "success"
	err := r.transport.Deliver(ctx, msg)
	if err != nil {
		outcome = "error"
		logctx.FromOr(ctx, r.log).Warn("notification_delivery_failed",
			observability.F("room", msg.Room),
			observability.F("error", err),
		)
	}
	r.extCounter.Add(1,
		observability.L("peer", r.transport.Name()),
		observability.L("endpoint", msg.Event),
		observability.L("outcome", outcome),
	)
	r.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", r.transport.Name()),
		observability.L("endpoint", msg.Event),
	)
	return err
}

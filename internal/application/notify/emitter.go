// Package notify fans realtime notifications out of the request path. The
// Emitter enqueues onto the event bus; the Relay drains the bus into a
// Transport.
package notify

import (
	"context"
	"time"

	domain "github.com/ahz777/nxtmarket/internal/domain/notification"
	domoutbox "github.com/ahz777/nxtmarket/internal/domain/outbox"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
)

const (
	publishTimeout = 300 * time.Millisecond
	publishPeer    = "outbox"
)

// Emitter is fire-and-forget: a failed publish is logged and counted, never
// returned.
type Emitter struct {
	pub          domoutbox.Publisher
	log          observability.Logger
	extCounter   observability.Counter
	extHistogram observability.Histogram
}

func NewEmitter(pub domoutbox.Publisher, tel observability.Observability) *Emitter {
	if tel == nil {
		tel = observability.Nop()
	}
	return &Emitter{
		pub:          pub,
		log:          tel.Logger().With(observability.F("component", "notify_emitter")),
		extCounter:   tel.Metrics().Counter(observability.MExternalRequests),
		extHistogram: tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
}

func (e *Emitter) Emit(ctx context.Context, room, event string, payload map[string]any) {
	if e == nil || e.pub == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	start := time.Now()
	outcome := "success"
	if err := e.pub.Publish(pubCtx, domain.New(room, event, payload)); err != nil {
		outcome = "error"
		logctx.FromOr(ctx, e.log).Warn("notification_publish_failed",
			observability.F("event", event),
			observability.F("room", room),
			observability.F("error", err),
		)
	}
	e.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", event),
		observability.L("outcome", outcome),
	)
	e.extHistogram.Observe(time.Since(start).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", event),
	)
}

// EmitOrder sends event to the buyer and every vendor in vendorIDs.
func (e *Emitter) EmitOrder(ctx context.Context, event, userID string, vendorIDs []string, userPayload, vendorPayload map[string]any) {
	e.Emit(ctx, domain.UserRoom(userID), event, userPayload)
	for _, vid := range vendorIDs {
		e.Emit(ctx, domain.VendorRoom(vid), event, vendorPayload)
	}
}

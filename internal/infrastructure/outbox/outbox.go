package outbox

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	domoutbox "github.com/ahz777/nxtmarket/internal/domain/outbox"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
)

const (
	componentOutbox       = "outbox"
	defaultQueueSize      = 1024
	defaultConcurrency    = 8
	defaultHandlerTimeout = 5 * time.Second
)

// Bus is an in-process, non-durable fan-out queue. Publishing only enqueues;
// handlers run on the dispatch goroutine with a bounded per-event fan-out.
type Bus struct {
	subMu sync.RWMutex
	subs  map[string][]domoutbox.Handler

	// mu guards the queue lifecycle; publishers hold it shared while sending.
	mu      sync.RWMutex
	closed  bool
	queue   chan domoutbox.Event
	done    chan struct{}
	started bool

	concurrency    int
	handlerTimeout time.Duration

	log      observability.Logger
	handled  observability.Counter
	handling observability.Histogram
}

type Option func(*Bus)

func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan domoutbox.Event, n)
		}
	}
}

func WithConcurrency(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.handlerTimeout = d
		}
	}
}

func NewBus(tel observability.Observability, opts ...Option) *Bus {
	if tel == nil {
		tel = observability.Nop()
	}
	b := &Bus{
		subs:           make(map[string][]domoutbox.Handler),
		queue:          make(chan domoutbox.Event, defaultQueueSize),
		done:           make(chan struct{}),
		concurrency:    defaultConcurrency,
		handlerTimeout: defaultHandlerTimeout,
		log:            tel.Logger().With(observability.F("component", componentOutbox)),
		handled:        tel.Metrics().Counter(observability.MExternalRequests),
		handling:       tel.Metrics().Histogram(observability.MExternalRequestDuration),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) Subscribe(eventName string, h domoutbox.Handler) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.subs[eventName] = append(b.subs[eventName], h)
}

// Start launches the dispatch loop. Calling it twice is a no-op.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started || b.closed {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.dispatchLoop(context.WithoutCancel(ctx))
	logctx.FromOr(ctx, b.log).Info("event_bus_started")
}

// Stop refuses new events and waits for queued ones to drain or ctx to end.
func (b *Bus) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	started := b.started
	close(b.queue)
	b.mu.Unlock()

	logger := logctx.FromOr(ctx, b.log)
	if !started {
		logger.Info("event_bus_stopped", observability.F("drained", false))
		return nil
	}
	select {
	case <-b.done:
		logger.Info("event_bus_stopped", observability.F("drained", true))
		return nil
	case <-ctx.Done():
		logger.Warn("event_bus_stop_timeout", observability.F("error", ctx.Err()))
		return ctx.Err()
	}
}

func (b *Bus) Publish(ctx context.Context, e domoutbox.Event) error {
	if e == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return domoutbox.ErrClosed
	}

	logger := logctx.FromOr(ctx, b.log).With(observability.F("event", e.EventName()))
	select {
	case b.queue <- e:
		logger.Debug("event_enqueued")
		return nil
	case <-ctx.Done():
		logger.Warn("event_enqueue_aborted", observability.F("error", ctx.Err()))
		return ctx.Err()
	}
}

func (b *Bus) dispatchLoop(ctx context.Context) {
	defer close(b.done)
	for e := range b.queue {
		b.fanout(ctx, e)
	}
}

func (b *Bus) fanout(ctx context.Context, e domoutbox.Event) {
	name := e.EventName()

	b.subMu.RLock()
	handlers := append([]domoutbox.Handler(nil), b.subs[name]...)
	b.subMu.RUnlock()

	logger := b.log.With(observability.F("event", name))
	if len(handlers) == 0 {
		logger.Debug("event_dropped_no_subscriber")
		return
	}

	sem := make(chan struct{}, b.concurrency)
	var wg sync.WaitGroup
	for _, h := range handlers {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("event_handler_panic",
						observability.F("panic", r),
						observability.F("stack", string(debug.Stack())),
					)
					b.observe(name, "panic", 0)
				}
				<-sem
				wg.Done()
			}()

			hctx, cancel := context.WithTimeout(logctx.With(ctx, logger), b.handlerTimeout)
			defer cancel()
			start := time.Now()
			outcome := "success"
			if err := h(hctx, e); err != nil {
				outcome = "error"
				logger.Warn("event_handler_error", observability.F("error", err))
			}
			b.observe(name, outcome, time.Since(start))
		}()
	}
	wg.Wait()

	logger.Debug("event_fanned_out", observability.F("handlers", len(handlers)))
}

func (b *Bus) observe(event, outcome string, took time.Duration) {
	b.handled.Add(1,
		observability.L("peer", componentOutbox),
		observability.L("endpoint", event),
		observability.L("outcome", outcome),
	)
	if took > 0 {
		b.handling.Observe(took.Seconds(),
			observability.L("peer", componentOutbox),
			observability.L("endpoint", event),
		)
	}
}

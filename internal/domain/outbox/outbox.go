package outbox

import (
	"context"
	"errors"
)

// ErrClosed is returned by publishers that no longer accept events.
var ErrClosed = errors.New("outbox: closed")

// Event is anything carrying a routable name.
type Event interface {
	EventName() string
}

type Handler func(ctx context.Context, e Event) error

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

package notification

import (
	"context"
	"time"
)

const (
	EventOrderCreated       = "order_created"
	EventOrderStatusChanged = "order_status_changed"
	EventOrderItemShipped   = "order_item_shipped"
	EventLowStock           = "low_stock"
)

// Events lists every name the relay forwards.
var Events = []string{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrderItemShipped,
	EventLowStock,
}

func UserRoom(id string) string   { return "user:" + id }
func VendorRoom(id string) string { return "vendor:" + id }

// Message is one realtime publication addressed to a room.
type Message struct {
	Room       string
	Event      string
	Payload    map[string]any
	OccurredAt time.Time
}

func (m Message) EventName() string { return m.Event }

func New(room, event string, payload map[string]any) Message {
	return Message{Room: room, Event: event, Payload: payload, OccurredAt: time.Now().UTC()}
}

// Transport pushes a message to connected clients of its room.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, m Message) error
}

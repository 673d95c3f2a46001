// Package notify delivers realtime messages to whatever fans them out to
// connected clients: a log line, a Redis channel or a Kafka topic.
package notify

import (
	"encoding/json"
	"time"

	"github.com/ahz777/nxtmarket/internal/domain/notification"
)

// envelope is the wire shape shared by every transport.
type envelope struct {
	Room       string         `json:"room"`
	Event      string         `json:"event"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurredAt"`
}

func encode(m notification.Message) ([]byte, error) {
	return json.Marshal(envelope{Room: m.Room, Event: m.Event, Payload: m.Payload, OccurredAt: m.OccurredAt})
}

// Channel is the pub/sub channel a room maps to.
func Channel(room string) string { return "orders:" + room }

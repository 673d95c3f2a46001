package notify

import (
	"context"

	"github.com/ahz777/nxtmarket/internal/domain/notification"
	"github.com/ahz777/nxtmarket/internal/observability"
)

// LogTransport writes each message to the log. It is the default when no
// broker is configured.
type LogTransport struct {
	log observability.Logger
}

func NewLogTransport(log observability.Logger) *LogTransport {
	if log == nil {
		log = observability.NopLogger()
	}
	return &LogTransport{log: log}
}

func (t *LogTransport) Name() string { return "log" }

func (t *LogTransport) Deliver(_ context.Context, m notification.Message) error {
	t.log.Info("notification",
		observability.F("room", m.Room),
		observability.F("event", m.Event),
		observability.F("payload", m.Payload),
	)
	return nil
}

package memory

import (
	"context"
	"sync"

	domain "github.com/ahz777/nxtmarket/internal/domain/notification"
)

// NotificationRecorder is a Transport that keeps every delivered message.
type NotificationRecorder struct {
	mu       sync.Mutex
	messages []domain.Message
	fail     error
}

func NewNotificationRecorder() *NotificationRecorder { return &NotificationRecorder{} }

func (r *NotificationRecorder) Name() string { return "memory" }

func (r *NotificationRecorder) Deliver(ctx context.Context, m domain.Message) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.messages = append(r.messages, m)
	return nil
}

// FailWith makes every later Deliver return err; nil restores delivery.
func (r *NotificationRecorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

// Messages returns delivered messages, optionally filtered by event name.
func (r *NotificationRecorder) Messages(event string) []domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Message
	for _, m := range r.messages {
		if event == "" || m.Event == event {
			out = append(out, m)
		}
	}
	return out
}

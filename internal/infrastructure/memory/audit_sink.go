package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/ahz777/nxtmarket/internal/domain/audit"
)

type AuditSink struct {
	mu      sync.Mutex
	entries []domain.Entry
}

func NewAuditSink() *AuditSink { return &AuditSink{} }

func (s *AuditSink) Record(ctx context.Context, e domain.Entry) error {
	_ = ctx
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

// Entries returns a snapshot, optionally filtered by action.
func (s *AuditSink) Entries(action string) []domain.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Entry
	for _, e := range s.entries {
		if action == "" || e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

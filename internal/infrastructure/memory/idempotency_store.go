package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/ahz777/nxtmarket/internal/domain/idempotency"
)

type IdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*domain.Record
}

func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[string]*domain.Record)}
}

func (s *IdempotencyStore) Insert(ctx context.Context, rec *domain.Record) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.Key]; ok {
		return domain.ErrDuplicate
	}
	s.records[rec.Key] = cloneRecord(rec)
	return nil
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*domain.Record, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *IdempotencyStore) Reclaim(ctx context.Context, key string, staleBefore, now time.Time) (bool, error) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return false, domain.ErrNotFound
	}
	if rec.Completed() || !rec.LockedAt.Before(staleBefore) {
		return false, nil
	}
	rec.LockedAt = now
	return true, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, statusCode int, response []byte, at time.Time) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return domain.ErrNotFound
	}
	rec.StatusCode = statusCode
	rec.Response = append([]byte(nil), response...)
	completed := at
	rec.CompletedAt = &completed
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && !rec.Completed() {
		delete(s.records, key)
	}
	return nil
}

func cloneRecord(rec *domain.Record) *domain.Record {
	clone := *rec
	if rec.Response != nil {
		clone.Response = append([]byte(nil), rec.Response...)
	}
	return &clone
}

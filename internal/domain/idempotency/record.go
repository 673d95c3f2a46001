package idempotency

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("idempotency: record not found")
	ErrDuplicate = errors.New("idempotency: key already exists")
)

const MaxKeyLength = 128

// Record tracks one guarded operation. Response stays nil until the
// operation completes; LockedAt marks the current claim on an
// uncompleted record.
type Record struct {
	Key         string
	ActorID     string
	Endpoint    string
	RequestHash string
	Response    []byte
	StatusCode  int
	LockedAt    time.Time
	CreatedAt   time.Time
	CompletedAt *time.Time
}

func (r *Record) Completed() bool { return r.Response != nil }

// Store persists records. Insert is an atomic insert-if-absent returning
// ErrDuplicate. Reclaim moves LockedAt to now only if the record is still
// uncompleted and its lock is older than staleBefore, and reports whether it
// won. Release removes an uncompleted record.
type Store interface {
	Insert(ctx context.Context, rec *Record) error
	Get(ctx context.Context, key string) (*Record, error)
	Reclaim(ctx context.Context, key string, staleBefore, now time.Time) (bool, error)
	Complete(ctx context.Context, key string, statusCode int, response []byte, at time.Time) error
	Release(ctx context.Context, key string) error
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahz777/nxtmarket/internal/domain/idempotency"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyStore keeps records in idempotency_keys. The primary key on
// key makes Insert the single point of arbitration between racing claims.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

func (s *IdempotencyStore) Insert(ctx context.Context, rec *idempotency.Record) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (key, actor_id, endpoint, request_hash, locked_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (key) DO NOTHING`,
		rec.Key, rec.ActorID, rec.Endpoint, rec.RequestHash, rec.LockedAt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrDuplicate
	}
	return nil
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	var (
		rec    idempotency.Record
		status *int32
	)
	err := s.pool.QueryRow(ctx,
		`SELECT key, actor_id, endpoint, request_hash, response, status_code, locked_at, created_at, completed_at
		 FROM idempotency_keys WHERE key = $1`, key).
		Scan(&rec.Key, &rec.ActorID, &rec.Endpoint, &rec.RequestHash, &rec.Response, &status,
			&rec.LockedAt, &rec.CreatedAt, &rec.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, idempotency.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	if status != nil {
		rec.StatusCode = int(*status)
	}
	return &rec, nil
}

func (s *IdempotencyStore) Reclaim(ctx context.Context, key string, staleBefore, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys SET locked_at = $3
		 WHERE key = $1 AND completed_at IS NULL AND locked_at < $2`,
		key, staleBefore, now)
	if err != nil {
		return false, fmt.Errorf("reclaim idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, statusCode int, response []byte, at time.Time) error {
	if response == nil {
		response = []byte{}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys SET response = $2, status_code = $3, completed_at = $4
		 WHERE key = $1`,
		key, response, statusCode, at)
	if err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrNotFound
	}
	return nil
}

func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM idempotency_keys WHERE key = $1 AND completed_at IS NULL`, key)
	if err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ahz777/nxtmarket/internal/domain/audit"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditSink struct {
	pool *pgxpool.Pool
}

func NewAuditSink(pool *pgxpool.Pool) *AuditSink {
	return &AuditSink{pool: pool}
}

var _ audit.Sink = (*AuditSink)(nil)

func (s *AuditSink) Record(ctx context.Context, e audit.Entry) error {
	var data []byte
	if e.Data != nil {
		b, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("encode audit data: %w", err)
		}
		data = b
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor_type, actor_id, entity_type, entity_id, action, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		string(e.ActorType), e.ActorID, e.EntityType, e.EntityID, e.Action, data, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

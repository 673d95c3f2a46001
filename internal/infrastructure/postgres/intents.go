package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahz777/nxtmarket/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type IntentRepository struct {
	pool *pgxpool.Pool
}

func NewIntentRepository(pool *pgxpool.Pool) *IntentRepository {
	return &IntentRepository{pool: pool}
}

var _ payment.Repository = (*IntentRepository)(nil)

func (r *IntentRepository) Create(ctx context.Context, in *payment.Intent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payment_intents (id, order_id, user_id, provider, amount, currency, status,
		 client_secret, created_at, updated_at)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5::numeric, $6, $7, $8, $9, $10)`,
		in.ID, in.OrderID, in.UserID, in.Provider, in.Amount.StringFixed(2), in.Currency,
		string(in.Status), in.ClientSecret, in.CreatedAt, in.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (r *IntentRepository) LatestWithStatus(ctx context.Context, orderID string, status payment.Status) (*payment.Intent, error) {
	var (
		in         payment.Intent
		amount, st string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, order_id::text, user_id, provider, amount::text, currency, status,
		 client_secret, created_at, updated_at
		 FROM payment_intents
		 WHERE order_id = $1::uuid AND status = $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`, orderID, string(status)).
		Scan(&in.ID, &in.OrderID, &in.UserID, &in.Provider, &amount, &in.Currency, &st,
			&in.ClientSecret, &in.CreatedAt, &in.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find intent: %w", err)
	}
	if in.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("intent %s amount: %w", in.ID, err)
	}
	in.Status = payment.Status(st)
	return &in, nil
}

func (r *IntentRepository) UpdateStatus(ctx context.Context, id string, from, to payment.Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payment_intents SET status = $3, updated_at = now() WHERE id = $1::uuid AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("update intent: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payment_intents WHERE id = $1::uuid)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("intent exists: %w", err)
	}
	if !exists {
		return payment.ErrNotFound
	}
	return payment.ErrStaleStatus
}

package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound    = errors.New("payment: intent not found")
	ErrStaleStatus = errors.New("payment: intent status changed concurrently")
)

type Status string

const (
	StatusRequiresPayment Status = "REQUIRES_PAYMENT"
	StatusSucceeded       Status = "SUCCEEDED"
	StatusFailed          Status = "FAILED"
	StatusCancelled       Status = "CANCELLED"
)

const CurrencyUSD = "USD"

type Intent struct {
	ID           string
	OrderID      string
	UserID       string
	Provider     string
	Amount       decimal.Decimal
	Currency     string
	Status       Status
	ClientSecret string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Repository stores intents next to orders. LatestWithStatus returns the most
// recently created intent of the order in that status. UpdateStatus is a
// compare-and-set on the current status.
type Repository interface {
	Create(ctx context.Context, in *Intent) error
	LatestWithStatus(ctx context.Context, orderID string, status Status) (*Intent, error)
	UpdateStatus(ctx context.Context, id string, from, to Status) error
}

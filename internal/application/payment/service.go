// Package payment opens payment intents for pending orders and applies the
// provider's webhook events to intents and orders exactly once per event.
package payment

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ahz777/nxtmarket/internal/application"
	"github.com/ahz777/nxtmarket/internal/application/idempotency"
	"github.com/ahz777/nxtmarket/internal/domain/catalog"
	"github.com/ahz777/nxtmarket/internal/domain/identity"
	"github.com/ahz777/nxtmarket/internal/domain/notification"
	"github.com/ahz777/nxtmarket/internal/domain/order"
	domain "github.com/ahz777/nxtmarket/internal/domain/payment"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
	"go.opentelemetry.io/otel/attribute"
)

const (
	paymentService      = "payment-service"
	useCaseCreateIntent = "payment.create_intent"
	DefaultProvider     = "stub"
	clientSecretBytes   = 24
)

var (
	ErrOrderIDRequired = apperr.Validation("orderId is required")
	ErrNotPayable      = apperr.Conflict("Only PENDING orders can be paid")
)

type Service struct {
	orders   order.Repository
	intents  domain.Repository
	ledger   catalog.Ledger
	guard    *idempotency.Guard
	notifier application.Notifier
	auditor  application.Auditor
	ids      application.IDGenerator
	provider string
	secret   string
	now      func() time.Time

	ins           application.Instruments
	compensations observability.Counter
}

type Deps struct {
	Orders   order.Repository
	Intents  domain.Repository
	Ledger   catalog.Ledger
	Guard    *idempotency.Guard
	Notifier application.Notifier
	Auditor  application.Auditor
	IDs      application.IDGenerator
	// Provider is recorded on new intents.
	Provider string
	// WebhookSecret signs and verifies provider events.
	WebhookSecret string
}

func NewService(d Deps, tel observability.Observability) *Service {
	if tel == nil {
		tel = observability.Nop()
	}
	if d.Provider == "" {
		d.Provider = DefaultProvider
	}
	return &Service{
		orders:        d.Orders,
		intents:       d.Intents,
		ledger:        d.Ledger,
		guard:         d.Guard,
		notifier:      d.Notifier,
		auditor:       d.Auditor,
		ids:           d.IDs,
		provider:      d.Provider,
		secret:        d.WebhookSecret,
		now:           func() time.Time { return time.Now().UTC() },
		ins:           application.NewInstruments(tel, paymentService),
		compensations: tel.Metrics().Counter(observability.MStockCompensations),
	}
}

type IntentView struct {
	IntentID     string        `json:"intentId"`
	OrderID      string        `json:"orderId"`
	Amount       string        `json:"amount"`
	Currency     string        `json:"currency"`
	Status       domain.Status `json:"status"`
	ClientSecret string        `json:"clientSecret"`
}

func viewOf(in *domain.Intent) *IntentView {
	return &IntentView{
		IntentID:     in.ID,
		OrderID:      in.OrderID,
		Amount:       in.Amount.StringFixed(2),
		Currency:     in.Currency,
		Status:       in.Status,
		ClientSecret: in.ClientSecret,
	}
}

// CreateIntent returns the open intent of a PENDING order, creating one
// when none is awaiting payment.
func (s *Service) CreateIntent(ctx context.Context, actor identity.Actor, orderID string) (_ *IntentView, err error) {
	ctx, run := s.ins.Start(ctx, useCaseCreateIntent, "CreatePaymentIntent", attribute.String("order.id", orderID))
	defer run.End(&err)

	if orderID == "" {
		run.Fail("ORDER_ID_REQUIRED")
		return nil, ErrOrderIDRequired
	}
	o, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "Order not found")
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("payment: load order: %w", err))
	}
	if err := identity.AuthorizeOwned(actor, o.UserID, identity.PermPaymentIntentOwn, identity.PermPaymentIntentAny); err != nil {
		run.Fail("FORBIDDEN")
		return nil, apperr.Wrap(apperr.KindForbidden, err, "Forbidden")
	}
	if o.Status != order.StatusPending {
		run.Fail("NOT_PAYABLE")
		return nil, ErrNotPayable
	}

	existing, err := s.intents.LatestWithStatus(ctx, o.ID, domain.StatusRequiresPayment)
	switch {
	case err == nil:
		run.Status("INTENT_REUSED")
		return viewOf(existing), nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, apperr.Internal(fmt.Errorf("payment: find intent: %w", err))
	}

	secret, err := clientSecret()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	now := s.now()
	in := &domain.Intent{
		ID:           s.ids.NewID(),
		OrderID:      o.ID,
		UserID:       o.UserID,
		Provider:     s.provider,
		Amount:       o.Total,
		Currency:     domain.CurrencyUSD,
		Status:       domain.StatusRequiresPayment,
		ClientSecret: secret,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.intents.Create(ctx, in); err != nil {
		return nil, apperr.Internal(fmt.Errorf("payment: create intent: %w", err))
	}
	run.Note(observability.F("intent_id", in.ID))
	return viewOf(in), nil
}

func clientSecret() (string, error) {
	buf := make([]byte, clientSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("payment: client secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SignWebhook computes the signature a provider sends for eventID.
func SignWebhook(eventID, secret string) string {
	sum := sha256.Sum256([]byte(eventID + secret))
	return hex.EncodeToString(sum[:])
}

// VerifySignature compares in constant time.
func VerifySignature(signature, eventID, secret string) bool {
	if signature == "" {
		return false
	}
	expected := SignWebhook(eventID, secret)
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

func (s *Service) notifyStatus(ctx context.Context, o *order.Order) {
	payload := map[string]any{"orderId": o.ID, "status": o.Status, "userId": o.UserID}
	s.notifier.EmitOrder(ctx, notification.EventOrderStatusChanged, o.UserID, o.VendorIDs(), payload, payload)
}

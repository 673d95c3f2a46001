package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ahz777/nxtmarket/internal/application/idempotency"
	apporder "github.com/ahz777/nxtmarket/internal/application/order"
	"github.com/ahz777/nxtmarket/internal/domain/audit"
	"github.com/ahz777/nxtmarket/internal/domain/order"
	domain "github.com/ahz777/nxtmarket/internal/domain/payment"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseWebhook = "payment.webhook"

	EventSucceeded = "payment_succeeded"
	EventFailed    = "payment_failed"
	EventRefunded  = "payment_refunded"

	webhookActor    = "webhook"
	webhookEndpoint = "webhook"
	restockReason   = "payment_refunded"
)

var (
	ErrInvalidPayload  = apperr.Validation("Invalid webhook payload")
	ErrBadSignature    = apperr.Unauthenticated("Invalid webhook signature")
	ErrMissingOrderID  = apperr.Validation("Missing data.orderId")
	ErrInvalidOrderID  = apperr.Validation("Invalid orderId format")
	errWebhookNotFound = apperr.NotFound("Order not found")
)

type WebhookInput struct {
	Signature string
	Body      []byte
}

type WebhookResult struct {
	StatusCode int
	Body       []byte
	Replayed   bool
}

type WebhookResponse struct {
	OK        bool         `json:"ok"`
	EventID   string       `json:"eventId"`
	Processed bool         `json:"processed"`
	OrderID   string       `json:"orderId,omitempty"`
	NewStatus order.Status `json:"newStatus,omitempty"`
	Restocked *bool        `json:"restocked,omitempty"`
}

type webhookEvent struct {
	EventID string `json:"eventId"`
	Type    string `json:"type"`
	Data    struct {
		OrderID string `json:"orderId"`
	} `json:"data"`
}

// HandleWebhook verifies and applies one provider event. A redelivery of an
// already applied event returns the stored response and changes nothing.
func (s *Service) HandleWebhook(ctx context.Context, in WebhookInput) (_ *WebhookResult, err error) {
	ctx, run := s.ins.Start(ctx, useCaseWebhook, "PaymentWebhook")
	defer run.End(&err)

	var ev webhookEvent
	if jerr := json.Unmarshal(in.Body, &ev); jerr != nil || ev.EventID == "" || ev.Type == "" {
		run.Fail("INVALID_PAYLOAD")
		return nil, ErrInvalidPayload
	}
	run.Span().SetAttributes(
		attribute.String("webhook.event_id", ev.EventID),
		attribute.String("webhook.type", ev.Type),
	)
	ctx = logctx.Enrich(ctx, observability.F("webhook_event_id", ev.EventID), observability.F("webhook_type", ev.Type))

	if !VerifySignature(in.Signature, ev.EventID, s.secret) {
		run.Fail("BAD_SIGNATURE")
		return nil, ErrBadSignature
	}

	hash, err := idempotency.CanonicalHash(in.Body)
	if err != nil {
		run.Fail("INVALID_PAYLOAD")
		return nil, ErrInvalidPayload
	}
	key := "webhook:" + ev.EventID
	claim, err := s.guard.Begin(ctx, idempotency.Claim{
		Key:         key,
		ActorID:     webhookActor,
		Endpoint:    webhookEndpoint,
		RequestHash: hash,
	})
	if err != nil {
		run.Fail("IDEMPOTENCY_REJECTED")
		return nil, err
	}
	if claim.Outcome == idempotency.Replay {
		run.Status("IDEMPOTENT_REPLAY")
		return &WebhookResult{StatusCode: claim.StatusCode, Body: claim.Response, Replayed: true}, nil
	}

	completed := false
	defer func() {
		if !completed {
			s.guard.Release(context.WithoutCancel(ctx), key)
		}
	}()

	resp, err := s.apply(ctx, ev)
	if err != nil {
		run.Fail("APPLY_FAILED")
		return nil, err
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if err := s.guard.Complete(ctx, key, http.StatusOK, body); err != nil {
		run.Fail("IDEMPOTENCY_COMPLETE_FAILED")
		return nil, err
	}
	completed = true
	if !resp.Processed {
		run.Status("IGNORED_EVENT_TYPE")
	}
	return &WebhookResult{StatusCode: http.StatusOK, Body: body}, nil
}

func (s *Service) apply(ctx context.Context, ev webhookEvent) (*WebhookResponse, error) {
	resp := &WebhookResponse{OK: true, EventID: ev.EventID}

	switch ev.Type {
	case EventSucceeded, EventFailed, EventRefunded:
	default:
		return resp, nil
	}

	o, err := s.loadOrder(ctx, ev.Data.OrderID)
	if err != nil {
		return nil, err
	}

	switch ev.Type {
	case EventSucceeded:
		if err := s.settleIntent(ctx, o.ID, domain.StatusRequiresPayment, domain.StatusSucceeded); err != nil {
			return nil, err
		}
		if o.Status == order.StatusPending {
			if err := s.moveOrder(ctx, o, order.StatusPaid); err != nil {
				return nil, err
			}
			s.notifyStatus(ctx, o)
		}

	case EventFailed:
		if err := s.settleIntent(ctx, o.ID, domain.StatusRequiresPayment, domain.StatusFailed); err != nil {
			return nil, err
		}

	case EventRefunded:
		if err := order.AssertTransition(o.Status, order.StatusRefunded); err != nil {
			return nil, apporder.ClassifyTransition(err)
		}
		if err := s.settleIntent(ctx, o.ID, domain.StatusSucceeded, domain.StatusCancelled); err != nil {
			return nil, err
		}
		wasShipped := o.Status == order.StatusShipped
		if err := s.moveOrder(ctx, o, order.StatusRefunded); err != nil {
			return nil, err
		}
		restocked := !wasShipped
		if restocked {
			n := apporder.Restock(ctx, s.ledger, o.Items, true, logctx.FromOr(ctx, s.ins.Logger()))
			s.compensations.Add(float64(n), observability.L("reason", restockReason))
		}
		resp.Restocked = &restocked
		s.notifyStatus(ctx, o)
	}

	resp.Processed = true
	resp.OrderID = o.ID
	resp.NewStatus = o.Status

	s.auditor.Record(ctx, audit.Entry{
		ActorType:  audit.ActorWebhook,
		ActorID:    ev.EventID,
		EntityType: "order",
		EntityID:   o.ID,
		Action:     "payment." + ev.Type,
		Data:       map[string]any{"eventId": ev.EventID, "newStatus": o.Status},
	})
	return resp, nil
}

func (s *Service) loadOrder(ctx context.Context, orderID string) (*order.Order, error) {
	if orderID == "" {
		return nil, ErrMissingOrderID
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return nil, ErrInvalidOrderID
	}
	o, err := s.orders.Get(ctx, orderID)
	if errors.Is(err, order.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindNotFound, err, errWebhookNotFound.Message)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("payment: load order: %w", err))
	}
	return o, nil
}

// settleIntent moves the newest intent in status from to status to. An
// order without such an intent is left alone.
func (s *Service) settleIntent(ctx context.Context, orderID string, from, to domain.Status) error {
	in, err := s.intents.LatestWithStatus(ctx, orderID, from)
	if errors.Is(err, domain.ErrNotFound) {
		logctx.FromOr(ctx, s.ins.Logger()).Debug("payment_intent_absent",
			observability.F("order_id", orderID),
			observability.F("status", from),
		)
		return nil
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("payment: find intent: %w", err))
	}
	err = s.intents.UpdateStatus(ctx, in.ID, from, to)
	if errors.Is(err, domain.ErrStaleStatus) {
		return apperr.Wrap(apperr.KindConflict, err, "Payment intent changed concurrently")
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("payment: update intent: %w", err))
	}
	return nil
}

func (s *Service) moveOrder(ctx context.Context, o *order.Order, to order.Status) error {
	from := o.Status
	if err := o.TransitionTo(to); err != nil {
		return apporder.ClassifyTransition(err)
	}
	if err := s.orders.UpdateStatus(ctx, o.ID, from, to); err != nil {
		return apporder.ClassifyTransition(err)
	}
	return nil
}

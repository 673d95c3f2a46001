package application

import (
	"context"
	"time"

	"github.com/ahz777/nxtmarket/internal/domain/audit"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
	"github.com/ahz777/nxtmarket/internal/pkg/apperr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const spanPrefix = "UC."

type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}

type IDGenerator interface {
	NewID() string
}

// Notifier publishes realtime notifications without reporting failure.
type Notifier interface {
	Emit(ctx context.Context, room, event string, payload map[string]any)
	EmitOrder(ctx context.Context, event, userID string, vendorIDs []string, userPayload, vendorPayload map[string]any)
}

// Auditor appends audit entries best-effort.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

// Instruments carries the RED signals every use case reports. Build it once
// per service and hand out runs per invocation.
type Instruments struct {
	tracer observability.Tracer
	log    observability.Logger

	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
	extCounter   observability.Counter   // external_requests_total{peer,endpoint,outcome}
	extHistogram observability.Histogram // external_request_duration_seconds{peer,endpoint}
}

func NewInstruments(tel observability.Observability, service string) Instruments {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return Instruments{
		tracer:       tel.Tracer(),
		log:          tel.Logger().With(observability.F("service", service)),
		reqCounter:   m.Counter(observability.MUsecaseRequests),
		durHistogram: m.Histogram(observability.MUsecaseDuration),
		extCounter:   m.Counter(observability.MExternalRequests),
		extHistogram: m.Histogram(observability.MExternalRequestDuration),
	}
}

func (in Instruments) Logger() observability.Logger { return in.log }

// Start opens the span and clock for one use case execution. Callers must
// defer run.End(&err).
func (in Instruments) Start(ctx context.Context, useCase, name string, attrs ...attribute.KeyValue) (context.Context, *Run) {
	attrs = append(attrs, attribute.String("use_case", useCase))
	ctx, span := in.tracer.Start(ctx, spanPrefix+name, attrs...)
	logger := logctx.FromOr(ctx, in.log).With(observability.F("use_case", useCase))
	return logctx.With(ctx, logger), &Run{
		in:      in,
		ctx:     ctx,
		span:    span,
		log:     logger,
		useCase: useCase,
		start:   time.Now(),
		outcome: "success",
		status:  "OK",
	}
}

// External records one call to a collaborator outside the process.
func (in Instruments) External(peer, endpoint, outcome string, took time.Duration) {
	in.extCounter.Add(1,
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
		observability.L("outcome", outcome),
	)
	in.extHistogram.Observe(took.Seconds(),
		observability.L("peer", peer),
		observability.L("endpoint", endpoint),
	)
}

type Run struct {
	in      Instruments
	ctx     context.Context
	span    trace.Span
	log     observability.Logger
	useCase string
	start   time.Time
	outcome string
	status  string
	fields  []observability.Field
}

func (r *Run) Logger() observability.Logger { return r.log }
func (r *Run) Span() trace.Span             { return r.span }

// Fail marks the run as failed with a stable, low-cardinality status.
func (r *Run) Fail(status string) {
	r.outcome, r.status = "error", status
}

// Status overrides the status text without changing the outcome.
func (r *Run) Status(status string) { r.status = status }

// Note adds fields to the final use_case_done line.
func (r *Run) Note(fields ...observability.Field) {
	r.fields = append(r.fields, fields...)
}

func (r *Run) End(errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	if err != nil && r.outcome == "success" {
		r.outcome = "error"
		if r.status == "OK" {
			r.status = string(apperr.KindOf(err))
		}
	}
	lat := time.Since(r.start).Seconds()

	if r.span != nil {
		if err != nil {
			r.span.RecordError(err)
			r.span.SetStatus(codes.Error, r.status)
		} else {
			r.span.SetStatus(codes.Ok, r.status)
		}
		r.span.End()
	}

	r.in.reqCounter.Add(1,
		observability.L("use_case", r.useCase),
		observability.L("outcome", r.outcome),
	)
	r.in.durHistogram.Observe(lat, observability.L("use_case", r.useCase))

	fields := []observability.Field{
		observability.F("outcome", r.outcome),
		observability.F("status", r.status),
		observability.F("latency_seconds", lat),
	}
	if sc := trace.SpanContextFromContext(r.ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	fields = append(fields, r.fields...)
	if err != nil {
		fields = append(fields, observability.F("error", err.Error()))
	}

	if r.outcome == "error" && apperr.KindOf(err) == apperr.KindInternal {
		r.log.Error("use_case_done", fields...)
		return
	}
	r.log.Info("use_case_done", fields...)
}

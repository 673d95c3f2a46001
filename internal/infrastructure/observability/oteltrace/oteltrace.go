package oteltrace

import (
	"context"

	"github.com/ahz777/nxtmarket/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type tracer struct{ t trace.Tracer }

// New returns a tracer from the global provider. An SDK provider and exporter
// must be installed with otel.SetTracerProvider for spans to leave the process.
func New(name string) observability.Tracer {
	if name == "" {
		name = "nxtmarket"
	}
	return &tracer{t: otel.Tracer(name)}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.t.Start(ctx, name, trace.WithAttributes(attrs...))
}

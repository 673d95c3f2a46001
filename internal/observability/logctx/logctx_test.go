package logctx

import (
	"context"
	"testing"

	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/stretchr/testify/assert"
)

type recordingLogger struct {
	observability.Logger
	fields []observability.Field
}

func (r *recordingLogger) With(fields ...observability.Field) observability.Logger {
	return &recordingLogger{Logger: observability.NopLogger(), fields: append(append([]observability.Field(nil), r.fields...), fields...)}
}

func TestFromOrFallsBack(t *testing.T) {
	fallback := observability.NopLogger()
	assert.Equal(t, fallback, FromOr(context.Background(), fallback))
}

func TestEnrichBindsFields(t *testing.T) {
	base := &recordingLogger{Logger: observability.NopLogger()}
	ctx := With(context.Background(), base)

	ctx = Enrich(ctx, observability.F("actor_id", "u1"))

	got, ok := From(ctx).(*recordingLogger)
	assert.True(t, ok)
	assert.Equal(t, []observability.Field{observability.F("actor_id", "u1")}, got.fields)
}

func TestEnrichWithoutLogger(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, Enrich(ctx, observability.F("k", "v")))
}

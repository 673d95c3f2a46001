// Package audit appends audit entries without letting a sink failure
// affect the operation being audited.
package audit

import (
	"context"
	"time"

	domain "github.com/ahz777/nxtmarket/internal/domain/audit"
	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
)

type Recorder struct {
	sink domain.Sink
	log  observability.Logger
	now  func() time.Time
}

func NewRecorder(sink domain.Sink, logger observability.Logger) *Recorder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Recorder{
		sink: sink,
		log:  logger.With(observability.F("component", "audit")),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (r *Recorder) Record(ctx context.Context, e domain.Entry) {
	if r == nil || r.sink == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}
	if err := r.sink.Record(context.WithoutCancel(ctx), e); err != nil {
		logctx.FromOr(ctx, r.log).Warn("audit_record_failed",
			observability.F("action", e.Action),
			observability.F("entity_id", e.EntityID),
			observability.F("error", err),
		)
	}
}

package zaplogger

import (
	"errors"
	"testing"

	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerWritesFixedAndCallFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := New(zap.New(core), observability.F("service", "nxtmarket"))

	l.With(observability.F("use_case", "checkout")).Info("use_case_done",
		observability.F("outcome", "success"),
		observability.F("error", errors.New("boom")),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "use_case_done", entry.Message)
	ctx := entry.ContextMap()
	assert.Equal(t, "nxtmarket", ctx["service"])
	assert.Equal(t, "checkout", ctx["use_case"])
	assert.Equal(t, "success", ctx["outcome"])
	assert.Equal(t, "boom", ctx["error"])
}

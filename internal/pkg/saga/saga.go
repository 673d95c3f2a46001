// Package saga runs forward steps in order and undoes completed steps in
// reverse when one fails. It stands in for a transaction spanning stores
// that cannot commit together.
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahz777/nxtmarket/internal/observability"
	"github.com/ahz777/nxtmarket/internal/observability/logctx"
)

// Step is a single local action with its inverse.
type Step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context) error
}

// Orchestrator runs a fixed list of steps.
type Orchestrator struct {
	steps []Step
	log   observability.Logger
}

func NewOrchestrator(log observability.Logger, steps ...Step) *Orchestrator {
	if log == nil {
		log = observability.NopLogger()
	}
	return &Orchestrator{steps: steps, log: log}
}

// CompensationError reports inverse actions that did not apply. The
// forward error stays reachable through Unwrap.
type CompensationError struct {
	Cause  error
	Failed map[string]error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga: %v (compensation failed for %d step(s))", e.Cause, len(e.Failed))
}

func (e *CompensationError) Unwrap() error { return e.Cause }

// Run executes the steps sequentially. On the first failure every step that
// already succeeded is compensated, newest first, on a context that ignores
// caller cancellation. The step error is returned unchanged unless a
// compensation also failed.
func (o *Orchestrator) Run(ctx context.Context) error {
	done := make([]Step, 0, len(o.steps))
	logger := logctx.FromOr(ctx, o.log)

	for _, step := range o.steps {
		if err := step.Execute(ctx); err != nil {
			logger.Warn("saga_step_failed",
				observability.F("step", step.Name()),
				observability.F("completed_steps", len(done)),
				observability.F("error", err),
			)
			if failed := o.rollback(context.WithoutCancel(ctx), logger, done); len(failed) > 0 {
				return &CompensationError{Cause: err, Failed: failed}
			}
			return err
		}
		done = append(done, step)
	}
	return nil
}

func (o *Orchestrator) rollback(ctx context.Context, logger observability.Logger, steps []Step) map[string]error {
	var failed map[string]error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if err := step.Compensate(ctx); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[step.Name()] = err
			logger.Error("saga_compensation_failed",
				observability.F("step", step.Name()),
				observability.F("error", err),
			)
			continue
		}
		logger.Debug("saga_step_compensated", observability.F("step", step.Name()))
	}
	return failed
}

// IsCompensationFailure reports whether err carries failed compensations.
func IsCompensationFailure(err error) bool {
	var ce *CompensationError
	return errors.As(err, &ce)
}

// Func adapts a pair of closures into a Step. A nil undo compensates as a
// no-op.
func Func(name string, do, undo func(ctx context.Context) error) Step {
	return funcStep{name: name, do: do, undo: undo}
}

type funcStep struct {
	name     string
	do, undo func(ctx context.Context) error
}

func (s funcStep) Name() string                      { return s.name }
func (s funcStep) Execute(ctx context.Context) error { return s.do(ctx) }

func (s funcStep) Compensate(ctx context.Context) error {
	if s.undo == nil {
		return nil
	}
	return s.undo(ctx)
}

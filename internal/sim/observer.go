package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/migration-simulator/core"
	"github.com/signalsfoundry/migration-simulator/internal/logging"
)

// RunInfo describes a run at start.
type RunInfo struct {
	RunID     string    `json:"runId"`
	StartStep int       `json:"startStep"`
	Config    Config    `json:"config"`
	Cities    int       `json:"cities"`
	Started   time.Time `json:"started"`
}

// Observer receives lifecycle notifications from the loop. Errors and panics
// raised by observers are logged and discarded; they never stop a run.
type Observer interface {
	OnRunStart(ctx context.Context, info RunInfo) error
	OnStepStart(ctx context.Context, step int) error
	OnStepComplete(ctx context.Context, report StepReport) error
	OnRunEnd(ctx context.Context, result Result) error
}

// BaseObserver implements Observer with no-ops, for embedding.
type BaseObserver struct{}

func (BaseObserver) OnRunStart(context.Context, RunInfo) error        { return nil }
func (BaseObserver) OnStepStart(context.Context, int) error           { return nil }
func (BaseObserver) OnStepComplete(context.Context, StepReport) error { return nil }
func (BaseObserver) OnRunEnd(context.Context, Result) error           { return nil }

// Flusher is implemented by observers and stages holding buffered output.
// Close flushes them before the loop becomes unusable.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Hooks are optional lifecycle callbacks. Like observers, their failures are
// logged and discarded.
type Hooks struct {
	OnRunStart  func(ctx context.Context, info RunInfo) error
	OnStepStart func(ctx context.Context, step int) error
	// OnStageComplete runs mid-step, between two stages. It must not call
	// back into the loop.
	OnStageComplete func(ctx context.Context, step int, stage string, elapsed time.Duration) error
	OnStepComplete  func(ctx context.Context, report StepReport) error
	// OnError receives the failure that is about to abort the run.
	OnError  func(ctx context.Context, err *StageExecutionError) error
	OnRunEnd func(ctx context.Context, result Result) error
}

// MetricsRecorder receives per-step measurements.
type MetricsRecorder interface {
	ObserveStep(report StepReport)
	SetStabilityState(state core.StabilityState)
}

// notifier fans lifecycle events out to hooks and observers, isolating the
// loop from their failures.
type notifier struct {
	log       logging.Logger
	hooks     Hooks
	observers []Observer
}

func (n *notifier) runStart(ctx context.Context, info RunInfo) {
	if n.hooks.OnRunStart != nil {
		n.call(ctx, "hook.run_start", func() error { return n.hooks.OnRunStart(ctx, info) })
	}
	for _, o := range n.observers {
		n.call(ctx, observerName(o, "run_start"), func() error { return o.OnRunStart(ctx, info) })
	}
}

func (n *notifier) stepStart(ctx context.Context, step int) {
	if n.hooks.OnStepStart != nil {
		n.call(ctx, "hook.step_start", func() error { return n.hooks.OnStepStart(ctx, step) })
	}
	for _, o := range n.observers {
		n.call(ctx, observerName(o, "step_start"), func() error { return o.OnStepStart(ctx, step) })
	}
}

func (n *notifier) stageComplete(ctx context.Context, step int, stage string, elapsed time.Duration) {
	if n.hooks.OnStageComplete != nil {
		n.call(ctx, "hook.stage_complete", func() error { return n.hooks.OnStageComplete(ctx, step, stage, elapsed) })
	}
}

func (n *notifier) stageFailed(ctx context.Context, err *StageExecutionError) {
	if n.hooks.OnError != nil {
		n.call(ctx, "hook.error", func() error { return n.hooks.OnError(ctx, err) })
	}
}

// stepComplete hands every receiver its own copy of the report.
func (n *notifier) stepComplete(ctx context.Context, report StepReport) {
	if n.hooks.OnStepComplete != nil {
		n.call(ctx, "hook.step_complete", func() error { return n.hooks.OnStepComplete(ctx, report.Clone()) })
	}
	for _, o := range n.observers {
		n.call(ctx, observerName(o, "step_complete"), func() error { return o.OnStepComplete(ctx, report.Clone()) })
	}
}

func (n *notifier) runEnd(ctx context.Context, result Result) {
	if n.hooks.OnRunEnd != nil {
		n.call(ctx, "hook.run_end", func() error { return n.hooks.OnRunEnd(ctx, result) })
	}
	for _, o := range n.observers {
		n.call(ctx, observerName(o, "run_end"), func() error { return o.OnRunEnd(ctx, result) })
	}
}

func (n *notifier) call(ctx context.Context, what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Warn(ctx, "observer panicked",
				logging.String("callback", what),
				logging.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if err := fn(); err != nil {
		n.log.Warn(ctx, "observer failed", logging.String("callback", what), logging.Err(err))
	}
}

func observerName(o Observer, event string) string {
	return fmt.Sprintf("%T.%s", o, event)
}

package sim

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/migration-simulator/internal/sim"

// Stage is one named unit of work executed once per step. Stage identity is
// the stage value itself, so implementations must be comparable (pointer
// receivers are the norm); two stages may share a display name.
type Stage interface {
	Name() string
	Execute(ctx context.Context, sc *Context) error
}

type funcStage struct {
	name string
	fn   func(context.Context, *Context) error
}

// NewStage adapts a function into a Stage. Every call returns a distinct
// stage.
func NewStage(name string, fn func(context.Context, *Context) error) Stage {
	return &funcStage{name: name, fn: fn}
}

func (s *funcStage) Name() string { return s.name }

func (s *funcStage) Execute(ctx context.Context, sc *Context) error {
	return s.fn(ctx, sc)
}

// Pipeline is an ordered sequence of unique stages.
type Pipeline struct {
	mu     sync.RWMutex
	stages []Stage
}

// NewPipeline builds a pipeline from stages in order.
func NewPipeline(stages ...Stage) (*Pipeline, error) {
	p := &Pipeline{}
	for _, s := range stages {
		if err := p.Add(s); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Add appends a stage.
func (p *Pipeline) Add(s Stage) error {
	if err := checkStage(s); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexLocked(s) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateStage, s.Name())
	}
	p.stages = append(p.stages, s)
	return nil
}

// Remove deletes a stage.
func (p *Pipeline) Remove(s Stage) error {
	if err := checkStage(s); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(s)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrStageNotFound, s.Name())
	}
	p.stages = append(p.stages[:i], p.stages[i+1:]...)
	return nil
}

// InsertBefore inserts s before the first stage matching pred. When no stage
// matches, s is appended.
func (p *Pipeline) InsertBefore(s Stage, pred func(Stage) bool) error {
	if err := checkStage(s); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexLocked(s) >= 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateStage, s.Name())
	}
	at := len(p.stages)
	for i, existing := range p.stages {
		if pred != nil && pred(existing) {
			at = i
			break
		}
	}
	p.stages = append(p.stages, nil)
	copy(p.stages[at+1:], p.stages[at:])
	p.stages[at] = s
	return nil
}

// Stages returns the current stage order.
func (p *Pipeline) Stages() []Stage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stages)
}

// ByName returns a predicate matching stages with the given display name.
func ByName(name string) func(Stage) bool {
	return func(s Stage) bool { return s.Name() == name }
}

// ExecuteAll runs the stages strictly in order. The first failing stage
// stops the step; its error (or recovered panic) is returned as a
// *StageExecutionError carrying the step and stage name. Stage durations are
// recorded in sc.Counters.StageDurations.
func (p *Pipeline) ExecuteAll(ctx context.Context, sc *Context) error {
	tracer := otel.Tracer(tracerName)
	if sc.Counters.StageDurations == nil {
		sc.Counters.StageDurations = make(map[string]time.Duration)
	}

	for _, s := range p.Stages() {
		name := s.Name()
		stageCtx, span := tracer.Start(ctx, "sim.stage."+name, trace.WithAttributes(
			attribute.String("stage", name),
			attribute.Int("step", sc.Step),
		))
		start := time.Now()
		err := runStage(stageCtx, s, sc)
		elapsed := time.Since(start)
		sc.Counters.StageDurations[name] += elapsed
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return &StageExecutionError{Step: sc.Step, Stage: name, Err: err}
		}
		span.End()
		if sc.stageDone != nil {
			sc.stageDone(ctx, name, elapsed)
		}
	}
	return nil
}

func runStage(ctx context.Context, s Stage, sc *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return s.Execute(ctx, sc)
}

func (p *Pipeline) indexLocked(s Stage) int {
	for i, existing := range p.stages {
		if existing == s {
			return i
		}
	}
	return -1
}

func checkStage(s Stage) error {
	if s == nil {
		return fmt.Errorf("%w: nil stage", ErrConfiguration)
	}
	if !reflect.TypeOf(s).Comparable() {
		return fmt.Errorf("%w: stage %q has non-comparable type %T", ErrConfiguration, s.Name(), s)
	}
	return nil
}

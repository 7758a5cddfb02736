package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/migration-simulator/core"
	"github.com/signalsfoundry/migration-simulator/internal/logging"
	"github.com/signalsfoundry/migration-simulator/timectrl"
	"github.com/signalsfoundry/migration-simulator/world"
)

// Simulated time covered by one step unless a clock is supplied.
var (
	DefaultEpoch        = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	DefaultStepDuration = 365 * 24 * time.Hour
)

// Reason explains why a run ended.
type Reason int

const (
	ReasonMaxStepsReached Reason = iota
	ReasonStabilized
	ReasonCancelled
	ReasonErrored
)

var reasonNames = map[Reason]string{
	ReasonMaxStepsReached: "MaxStepsReached",
	ReasonStabilized:      "Stabilized",
	ReasonCancelled:       "Cancelled",
	ReasonErrored:         "Errored",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// MarshalText renders the reason by name in JSON.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a reason name.
func (r *Reason) UnmarshalText(b []byte) error {
	for k, v := range reasonNames {
		if v == string(b) {
			*r = k
			return nil
		}
	}
	return fmt.Errorf("unknown reason %q", b)
}

// Result is the terminal outcome of Run.
type Result struct {
	RunID  string `json:"runId"`
	Reason Reason `json:"reason"`
	// Steps is the number of completed steps, including those restored from
	// a checkpoint.
	Steps           int           `json:"steps"`
	StartStep       int           `json:"startStep"`
	TotalMigrants   int           `json:"totalMigrants"`
	FinalPopulation int           `json:"finalPopulation"`
	Duration        time.Duration `json:"duration"`
	Totals          Counters      `json:"totals"`
	Error           string        `json:"error,omitempty"`
}

// StepStatus tells the driver whether to keep stepping.
type StepStatus int

const (
	StepContinue StepStatus = iota
	StepStabilized
	StepFailed
)

// StepResult is returned by Step.
type StepResult struct {
	Step   int
	Status StepStatus
	Report StepReport
}

// Checkpoint captures the loop state and the full world after a completed
// step.
type Checkpoint struct {
	RunID            string         `json:"runId"`
	Step             int            `json:"step"`
	SimTime          time.Time      `json:"simTime"`
	CreatedAt        time.Time      `json:"createdAt"`
	Config           Config         `json:"config"`
	Stability        string         `json:"stability"`
	Stabilized       bool           `json:"stabilized"`
	LastChange       int            `json:"lastChange"`
	CumulativeChange int            `json:"cumulativeChange"`
	Totals           Counters       `json:"totals"`
	World            *core.Scenario `json:"world"`
}

// Restore rebuilds the world stored in the checkpoint.
func (cp *Checkpoint) Restore() (*world.World, error) {
	if cp == nil || cp.World == nil {
		return nil, fmt.Errorf("%w: checkpoint has no world", ErrNoCheckpoint)
	}
	return cp.World.Build()
}

// Loop drives the step pipeline over a world. One goroutine drives Step or
// Run; Checkpoint, LastReport and Close may be called from others.
type Loop struct {
	world    *world.World
	cfg      Config
	pipeline *Pipeline
	detector *core.StabilityDetector
	clock    *timectrl.TimeController
	notify   *notifier
	metrics  MetricsRecorder
	log      logging.Logger
	resume   *Checkpoint

	// stepMu is held for the mutation part of a step so checkpoints never
	// observe a half-applied step.
	stepMu sync.Mutex

	mu         sync.Mutex
	runID      string
	startStep  int
	completed  int
	last       *StepReport
	stability  core.StabilityState
	lastChange int
	cumulative int
	totals     Counters
	closed     bool
}

// Option customises Loop construction.
type Option func(*Loop)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.log = log
		}
	}
}

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		if o != nil {
			l.notify.observers = append(l.notify.observers, o)
		}
	}
}

// WithHooks installs lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(l *Loop) { l.notify.hooks = h }
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithPipeline replaces the default stages.
func WithPipeline(p *Pipeline) Option {
	return func(l *Loop) {
		if p != nil {
			l.pipeline = p
		}
	}
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option {
	return func(l *Loop) {
		if id != "" {
			l.runID = id
		}
	}
}

// WithClock supplies the time controller used for pacing and simulated time.
func WithClock(tc *timectrl.TimeController) Option {
	return func(l *Loop) {
		if tc != nil {
			l.clock = tc
		}
	}
}

// ResumeFrom continues the run recorded in cp. The world passed to NewLoop
// should come from cp.Restore. Stability history starts empty. The
// checkpoint is applied after every other option, so it wins over WithRunID
// and carries over to a clock supplied by WithClock.
func ResumeFrom(cp *Checkpoint) Option {
	return func(l *Loop) {
		l.resume = cp
	}
}

func (l *Loop) applyCheckpoint(cp *Checkpoint) {
	l.runID = cp.RunID
	l.startStep = cp.Step
	l.completed = cp.Step
	l.lastChange = cp.LastChange
	l.cumulative = cp.CumulativeChange
	l.totals = cp.Totals
	l.clock.SetTime(cp.Step, cp.SimTime)
}

// NewLoop validates cfg and prepares a loop over w.
func NewLoop(w *world.World, cfg Config, opts ...Option) (*Loop, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: nil world", ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mode := timectrl.Accelerated
	if cfg.RealTime {
		mode = timectrl.RealTime
	}
	l := &Loop{
		world:    w,
		cfg:      cfg,
		detector: core.NewStabilityDetector(cfg.StabilityConfig()),
		clock:    timectrl.NewTimeController(DefaultEpoch, DefaultStepDuration, cfg.StepInterval, mode),
		notify:   &notifier{},
		log:      logging.Noop(),
		runID:    logging.NewRunID(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.resume != nil {
		l.applyCheckpoint(l.resume)
		l.resume = nil
	}
	if l.pipeline == nil {
		p, err := NewPipeline(DefaultStages(cfg, w.Factors())...)
		if err != nil {
			return nil, err
		}
		l.pipeline = p
	}
	l.log = l.log.With(logging.String("run_id", l.runID))
	l.notify.log = l.log
	return l, nil
}

// Pipeline exposes the stage sequence for customisation before Run.
func (l *Loop) Pipeline() *Pipeline { return l.pipeline }

// World returns the world the loop mutates.
func (l *Loop) World() *world.World { return l.world }

// Config returns the validated configuration.
func (l *Loop) Config() Config { return l.cfg }

// Clock returns the loop's time controller.
func (l *Loop) Clock() timectrl.StepClock { return l.clock }

// AddObserver registers an observer. It must not be called while Run is
// executing.
func (l *Loop) AddObserver(o Observer) {
	if o != nil {
		l.notify.observers = append(l.notify.observers, o)
	}
}

// RunID returns the run identifier.
func (l *Loop) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runID
}

// Completed returns the number of completed steps.
func (l *Loop) Completed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.completed
}

// LastReport returns the report of the most recent step run by this loop.
func (l *Loop) LastReport() (StepReport, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return StepReport{}, false
	}
	return l.last.Clone(), true
}

// Step executes exactly one step. Stage failures are returned as
// *StageExecutionError with the world population filled in.
func (l *Loop) Step(ctx context.Context) (StepResult, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return StepResult{Status: StepFailed}, ErrLoopClosed
	}
	index, runID, cumulative := l.completed, l.runID, l.cumulative
	l.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "sim.step", trace.WithAttributes(
		attribute.Int("step", index),
		attribute.String("run_id", runID),
	))
	defer span.End()

	l.notify.stepStart(ctx, index)

	l.stepMu.Lock()
	sc := &Context{
		RunID:            runID,
		Step:             index,
		World:            l.world,
		Config:           l.cfg,
		CumulativeChange: cumulative,
		stageDone: func(ctx context.Context, stage string, elapsed time.Duration) {
			l.notify.stageComplete(ctx, index, stage, elapsed)
		},
	}
	start := time.Now()
	if err := l.pipeline.ExecuteAll(ctx, sc); err != nil {
		l.stepMu.Unlock()
		var se *StageExecutionError
		if !errors.As(err, &se) {
			se = &StageExecutionError{Step: index, Err: err}
			err = se
		}
		se.Population = l.world.TotalPopulation()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.log.Error(ctx, "stage failed",
			logging.Int("step", se.Step),
			logging.String("stage", se.Stage),
			logging.Int("population", se.Population),
			logging.Err(se.Err),
		)
		l.notify.stageFailed(ctx, se)
		return StepResult{Step: index, Status: StepFailed}, err
	}
	sc.Counters.StepDuration = time.Since(start)
	sc.CumulativeChange += sc.PopulationChange

	state := l.detector.State()
	if l.cfg.CheckStability {
		state = l.detector.Observe(index+1, float64(sc.PopulationChange))
	}
	sc.Stabilized = state == core.Converged
	tick := l.clock.Advance()
	report := newStepReport(sc, tick.Time, state)

	l.mu.Lock()
	l.completed = index + 1
	l.last = &report
	l.stability = state
	l.lastChange = sc.PopulationChange
	l.cumulative = sc.CumulativeChange
	l.totals.add(sc.Counters)
	l.mu.Unlock()
	l.stepMu.Unlock()

	span.SetAttributes(
		attribute.Int("migrants", sc.PopulationChange),
		attribute.Int("flows", sc.Counters.FlowsExecuted),
		attribute.String("stability", state.String()),
	)
	if l.metrics != nil {
		l.metrics.ObserveStep(report.Clone())
		l.metrics.SetStabilityState(state)
	}
	l.log.Debug(ctx, "step complete",
		logging.Int("step", index),
		logging.Int("migrants", sc.PopulationChange),
		logging.Int("flows", sc.Counters.FlowsExecuted),
		logging.Int("factor_updates", sc.Counters.FactorUpdates),
		logging.String("stability", state.String()),
		logging.Duration("duration", sc.Counters.StepDuration),
	)
	l.notify.stepComplete(ctx, report)

	status := StepContinue
	if sc.Stabilized {
		status = StepStabilized
	}
	return StepResult{Step: index, Status: status, Report: report}, nil
}

// Run steps until the world stabilizes, MaxSteps completed steps are
// reached, ctx is cancelled or a stage fails. End-of-run notifications are
// delivered in every case. A cancelled run returns ctx's error alongside a
// Result with ReasonCancelled; a failed run returns the
// *StageExecutionError.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return Result{Reason: ReasonErrored, Error: ErrLoopClosed.Error()}, ErrLoopClosed
	}
	runID, startStep := l.runID, l.completed
	l.mu.Unlock()

	ctx = logging.ContextWithRunID(ctx, runID)
	ctx = logging.ContextWithLogger(ctx, l.log)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "sim.run", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	started := time.Now()
	info := RunInfo{
		RunID:     runID,
		StartStep: startStep,
		Config:    l.cfg,
		Cities:    len(l.world.CityIDs()),
		Started:   started.UTC(),
	}
	l.log.Info(ctx, "simulation started",
		logging.Int("start_step", startStep),
		logging.Int("max_steps", l.cfg.MaxSteps),
		logging.Int("cities", info.Cities),
		logging.Int("population", l.world.TotalPopulation()),
	)
	l.notify.runStart(ctx, info)

	var (
		reason Reason
		runErr error
	)
	for {
		if l.Completed() >= l.cfg.MaxSteps {
			reason = ReasonMaxStepsReached
			break
		}
		if err := ctx.Err(); err != nil {
			reason, runErr = ReasonCancelled, err
			break
		}
		if err := l.clock.Pace(ctx); err != nil {
			reason, runErr = ReasonCancelled, err
			break
		}
		res, err := l.Step(ctx)
		if err != nil {
			reason, runErr = ReasonErrored, err
			break
		}
		if res.Status == StepStabilized {
			reason = ReasonStabilized
			break
		}
	}

	l.mu.Lock()
	result := Result{
		RunID:           runID,
		Reason:          reason,
		Steps:           l.completed,
		StartStep:       startStep,
		TotalMigrants:   l.totals.MigrantsExecuted,
		FinalPopulation: l.world.TotalPopulation(),
		Duration:        time.Since(started),
		Totals:          l.totals,
	}
	l.mu.Unlock()
	if runErr != nil {
		result.Error = runErr.Error()
		if reason == ReasonErrored {
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
		}
	}
	span.SetAttributes(attribute.String("reason", reason.String()), attribute.Int("steps", result.Steps))

	endCtx := context.WithoutCancel(ctx)
	l.log.Info(endCtx, "simulation finished",
		logging.String("reason", reason.String()),
		logging.Int("steps", result.Steps),
		logging.Int("migrants", result.TotalMigrants),
		logging.Duration("duration", result.Duration),
	)
	l.notify.runEnd(endCtx, result)
	return result, runErr
}

// Checkpoint captures the state after the last completed step. It fails
// with ErrNoCheckpoint until at least one step has completed.
func (l *Loop) Checkpoint() (*Checkpoint, error) {
	l.stepMu.Lock()
	defer l.stepMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.completed == 0 {
		return nil, ErrNoCheckpoint
	}
	return &Checkpoint{
		RunID:            l.runID,
		Step:             l.completed,
		SimTime:          l.clock.Now(),
		CreatedAt:        time.Now().UTC(),
		Config:           l.cfg,
		Stability:        l.stability.String(),
		Stabilized:       l.stability == core.Converged,
		LastChange:       l.lastChange,
		CumulativeChange: l.cumulative,
		Totals:           l.totals,
		World:            core.EncodeScenario(l.world),
	}, nil
}

// Close waits for an in-flight step, flushes observers and stages that
// implement Flusher, and closes the world. Further Step or Run calls return
// ErrLoopClosed. Close is idempotent.
func (l *Loop) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.stepMu.Lock()
	defer l.stepMu.Unlock()

	var flushers []Flusher
	for _, o := range l.notify.observers {
		if f, ok := o.(Flusher); ok {
			flushers = append(flushers, f)
		}
	}
	for _, s := range l.pipeline.Stages() {
		if f, ok := s.(Flusher); ok {
			flushers = append(flushers, f)
		}
	}

	errs := make([]error, len(flushers))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range flushers {
		g.Go(func() error {
			errs[i] = f.Flush(gctx)
			return nil
		})
	}
	_ = g.Wait()

	l.world.Close()
	if err := errors.Join(errs...); err != nil {
		l.log.Warn(ctx, "flush on close failed", logging.Err(err))
		return err
	}
	return nil
}

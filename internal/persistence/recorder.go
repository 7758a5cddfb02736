package persistence

import (
	"context"
	"errors"
	"sync"

	"github.com/signalsfoundry/migration-simulator/internal/logging"
	"github.com/signalsfoundry/migration-simulator/internal/sim"
)

// CheckpointSource is implemented by *sim.Loop.
type CheckpointSource interface {
	Checkpoint() (*sim.Checkpoint, error)
}

// Recorder is a sim.Observer that writes run history to a Store. Step
// reports are buffered and written in batches; Flush writes whatever is
// pending. When Source is set, a checkpoint is saved every CheckpointEvery
// completed steps and once more when the run ends.
type Recorder struct {
	sim.BaseObserver

	Store           *Store
	Source          CheckpointSource
	CheckpointEvery int
	BatchSize       int
	Log             logging.Logger

	mu      sync.Mutex
	pending []sim.StepReport
	lastCP  int
}

var (
	_ sim.Observer = (*Recorder)(nil)
	_ sim.Flusher  = (*Recorder)(nil)
)

// NewRecorder returns a recorder writing to store.
func NewRecorder(store *Store, source CheckpointSource, checkpointEvery int) *Recorder {
	return &Recorder{
		Store:           store,
		Source:          source,
		CheckpointEvery: checkpointEvery,
		BatchSize:       16,
		Log:             logging.Noop(),
	}
}

func (r *Recorder) OnRunStart(ctx context.Context, info sim.RunInfo) error {
	r.mu.Lock()
	r.lastCP = info.StartStep
	r.mu.Unlock()
	return r.Store.BeginRun(ctx, info)
}

func (r *Recorder) OnStepComplete(ctx context.Context, report sim.StepReport) error {
	r.mu.Lock()
	r.pending = append(r.pending, report)
	full := len(r.pending) >= max(r.BatchSize, 1)
	due := r.CheckpointEvery > 0 && report.Completed%r.CheckpointEvery == 0
	r.mu.Unlock()

	var errs []error
	if full {
		errs = append(errs, r.Flush(ctx))
	}
	if due && r.Source != nil {
		errs = append(errs, r.checkpoint(ctx))
	}
	return errors.Join(errs...)
}

func (r *Recorder) OnRunEnd(ctx context.Context, result sim.Result) error {
	errs := []error{r.Flush(ctx)}
	if r.Source != nil {
		r.mu.Lock()
		saved := r.lastCP == result.Steps
		r.mu.Unlock()
		if !saved && result.Steps > 0 {
			errs = append(errs, r.checkpoint(ctx))
		}
	}
	errs = append(errs, r.Store.FinishRun(ctx, result))
	return errors.Join(errs...)
}

// Flush writes buffered step reports. Reports stay buffered when the write
// fails so a later flush can retry them.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return nil
	}
	if err := r.Store.RecordSteps(ctx, r.pending); err != nil {
		return err
	}
	r.pending = r.pending[:0]
	return nil
}

func (r *Recorder) checkpoint(ctx context.Context) error {
	cp, err := r.Source.Checkpoint()
	if err != nil {
		return err
	}
	id, err := r.Store.SaveCheckpoint(ctx, cp)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.lastCP = cp.Step
	r.mu.Unlock()
	r.logger().Info(ctx, "checkpoint saved",
		logging.String("run_id", cp.RunID),
		logging.Int("step", cp.Step),
		logging.Any("checkpoint_id", id),
	)
	return nil
}

func (r *Recorder) logger() logging.Logger {
	if r.Log == nil {
		return logging.Noop()
	}
	return r.Log
}

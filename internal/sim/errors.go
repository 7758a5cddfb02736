package sim

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/migration-simulator/world"
)

var (
	// ErrDuplicateStage is returned when a stage instance is added twice.
	ErrDuplicateStage = errors.New("stage already in pipeline")
	// ErrStageNotFound is returned when removing a stage that is not present.
	ErrStageNotFound = errors.New("stage not found")
	// ErrNoCheckpoint is returned by Checkpoint before the first completed step.
	ErrNoCheckpoint = errors.New("no completed step to checkpoint")
	// ErrLoopClosed is returned by a loop after Close.
	ErrLoopClosed = errors.New("simulation loop is closed")

	// Re-exported so callers can depend on sim.* alone.
	ErrStructuralValidation = world.ErrStructuralValidation
	ErrWorldClosed          = world.ErrWorldClosed
	ErrUnitNotFound         = world.ErrUnitNotFound
	ErrCityNotFound         = world.ErrCityNotFound
)

// StageExecutionError wraps a failure raised by a stage with the step, stage
// and world population at the time of failure.
type StageExecutionError struct {
	Step       int
	Stage      string
	Population int
	Err        error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("step %d: stage %q failed (population %d): %v", e.Step, e.Stage, e.Population, e.Err)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// PanicError carries a value recovered from a panicking stage.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

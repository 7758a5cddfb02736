package core

import (
	"fmt"
	"math"
)

// StabilityState is the convergence state of a run.
type StabilityState int

const (
	NotYetEligible StabilityState = iota
	Running
	// Converged is terminal until Reset.
	Converged
)

func (s StabilityState) String() string {
	switch s {
	case NotYetEligible:
		return "not_yet_eligible"
	case Running:
		return "running"
	case Converged:
		return "converged"
	default:
		return fmt.Sprintf("stability(%d)", int(s))
	}
}

// StabilityConfig parameterizes the detector.
type StabilityConfig struct {
	// MinSteps is the number of completed steps before any check.
	MinSteps int
	// CheckInterval polls every N completed steps once eligible.
	CheckInterval int
	// Window is the number of trailing steps that must all stay within
	// Tolerance.
	Window int
	// Tolerance is the largest absolute change still counted as stable.
	Tolerance float64
}

// StabilityDetector tracks a rolling history of per-step population change.
//
// Steps are counted as completed steps: after the first step Observe is
// called with completed == 1. The detector becomes eligible once
// completed >= MinSteps and is then polled on completed == MinSteps,
// MinSteps+CheckInterval, ... A poll converges when the last Window entries
// all satisfy |change| <= Tolerance.
type StabilityDetector struct {
	cfg     StabilityConfig
	state   StabilityState
	history []float64
}

// NewStabilityDetector returns a detector in NotYetEligible. Non-positive
// interval and window are raised to 1.
func NewStabilityDetector(cfg StabilityConfig) *StabilityDetector {
	if cfg.CheckInterval < 1 {
		cfg.CheckInterval = 1
	}
	if cfg.Window < 1 {
		cfg.Window = 1
	}
	if cfg.MinSteps < 0 {
		cfg.MinSteps = 0
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = 0
	}
	return &StabilityDetector{
		cfg:     cfg,
		history: make([]float64, 0, cfg.Window),
	}
}

// Config returns the normalized configuration.
func (d *StabilityDetector) Config() StabilityConfig { return d.cfg }

// State returns the current state.
func (d *StabilityDetector) State() StabilityState { return d.state }

// Observe records the change of one completed step and returns the new
// state.
func (d *StabilityDetector) Observe(completed int, change float64) StabilityState {
	if d.state == Converged {
		return d.state
	}

	if len(d.history) == d.cfg.Window {
		copy(d.history, d.history[1:])
		d.history = d.history[:len(d.history)-1]
	}
	d.history = append(d.history, math.Abs(change))

	if completed < d.cfg.MinSteps {
		d.state = NotYetEligible
		return d.state
	}
	d.state = Running
	if (completed-d.cfg.MinSteps)%d.cfg.CheckInterval != 0 {
		return d.state
	}
	if len(d.history) < d.cfg.Window {
		return d.state
	}
	for _, c := range d.history {
		if c > d.cfg.Tolerance {
			return d.state
		}
	}
	d.state = Converged
	return d.state
}

// Reset clears history and returns to NotYetEligible.
func (d *StabilityDetector) Reset() {
	d.state = NotYetEligible
	d.history = d.history[:0]
}

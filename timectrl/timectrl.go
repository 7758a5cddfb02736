package timectrl

import (
	"context"
	"slices"
	"sync"
	"time"
)

// StepClock gives stages and observers access to simulated time without
// depending on the concrete controller.
type StepClock interface {
	// Now returns the simulated time of the current step.
	Now() time.Time
	// Step returns the number of completed steps.
	Step() int
}

// Mode describes how the TimeController paces steps.
type Mode int

const (
	// RealTime waits Interval of wall-clock time between steps.
	RealTime Mode = iota
	// Accelerated runs steps back to back.
	Accelerated
)

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// Tick is delivered to listeners after every completed step.
type Tick struct {
	Step int
	Time time.Time
}

// TimeController maps simulation steps onto simulated time and paces the
// step loop.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	// StepDuration is the simulated time covered by one step.
	StepDuration time.Duration
	// Interval is the wall-clock gap between steps in RealTime mode.
	Interval time.Duration
	Mode     Mode

	currentTime time.Time
	step        int
	lastAdvance time.Time

	listeners []func(Tick)

	// now is the wall clock; tests replace it.
	now func() time.Time
}

// NewTimeController constructs a controller positioned at step zero.
func NewTimeController(start time.Time, stepDuration, interval time.Duration, mode Mode) *TimeController {
	return &TimeController{
		StartTime:    start,
		StepDuration: stepDuration,
		Interval:     interval,
		Mode:         mode,
		currentTime:  start,
		now:          time.Now,
	}
}

// Now returns the current simulated time. Implements StepClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Step returns the number of completed steps. Implements StepClock.
func (tc *TimeController) Step() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.step
}

// SetTime repositions the controller, for example when resuming from a
// checkpoint.
func (tc *TimeController) SetTime(step int, t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.step = step
	tc.currentTime = t
}

// AddListener registers a callback invoked after every Advance.
func (tc *TimeController) AddListener(fn func(Tick)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance marks one step as completed, moves simulated time forward by
// StepDuration and notifies listeners.
func (tc *TimeController) Advance() Tick {
	tc.mu.Lock()
	tc.step++
	tc.currentTime = tc.currentTime.Add(tc.StepDuration)
	tc.lastAdvance = tc.now()
	tick := Tick{Step: tc.step, Time: tc.currentTime}
	listeners := slices.Clone(tc.listeners)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(tick)
	}
	return tick
}

// Pace blocks until the next step may start. Accelerated mode and a zero
// Interval return immediately. It returns ctx.Err() if the context ends
// first.
func (tc *TimeController) Pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tc.mu.RLock()
	mode, interval, last := tc.Mode, tc.Interval, tc.lastAdvance
	tc.mu.RUnlock()

	if mode != RealTime || interval <= 0 || last.IsZero() {
		return nil
	}
	wait := interval - tc.now().Sub(last)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

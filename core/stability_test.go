package core

import "testing"

func TestStabilityDetector_NotEligibleBeforeMinSteps(t *testing.T) {
	d := NewStabilityDetector(StabilityConfig{MinSteps: 5, CheckInterval: 1, Window: 2})
	for step := 1; step < 5; step++ {
		if got := d.Observe(step, 0); got != NotYetEligible {
			t.Fatalf("step %d: state = %v, want %v", step, got, NotYetEligible)
		}
	}
	if got := d.Observe(5, 0); got != Converged {
		t.Fatalf("step 5: state = %v, want %v", got, Converged)
	}
}

func TestStabilityDetector_WindowMustBeQuiet(t *testing.T) {
	d := NewStabilityDetector(StabilityConfig{MinSteps: 1, CheckInterval: 1, Window: 3})
	changes := []float64{10, 0, 0, 4, 0, 0, 0}
	want := []StabilityState{Running, Running, Running, Running, Running, Running, Converged}
	for i, c := range changes {
		if got := d.Observe(i+1, c); got != want[i] {
			t.Fatalf("step %d (change %v): state = %v, want %v", i+1, c, got, want[i])
		}
	}
}

func TestStabilityDetector_PollsOnInterval(t *testing.T) {
	d := NewStabilityDetector(StabilityConfig{MinSteps: 2, CheckInterval: 3, Window: 1})
	// Polled on completed steps 2, 5, 8.
	steps := []struct {
		change float64
		want   StabilityState
	}{
		{0, NotYetEligible}, // 1
		{5, Running},        // 2 polled, noisy
		{0, Running},        // 3 quiet but not polled
		{0, Running},        // 4
		{1, Running},        // 5 polled, noisy
		{0, Running},        // 6
		{0, Running},        // 7
		{0, Converged},      // 8 polled, quiet
	}
	for i, s := range steps {
		if got := d.Observe(i+1, s.change); got != s.want {
			t.Fatalf("step %d: state = %v, want %v", i+1, got, s.want)
		}
	}
}

func TestStabilityDetector_ToleranceAndAbsoluteChange(t *testing.T) {
	d := NewStabilityDetector(StabilityConfig{CheckInterval: 1, Window: 2, Tolerance: 3})
	d.Observe(1, -3)
	if got := d.Observe(2, 2.5); got != Converged {
		t.Fatalf("state = %v, want %v", got, Converged)
	}
}

func TestStabilityDetector_ConvergedIsTerminalUntilReset(t *testing.T) {
	d := NewStabilityDetector(StabilityConfig{CheckInterval: 1, Window: 1})
	d.Observe(1, 0)
	if got := d.Observe(2, 1000); got != Converged {
		t.Fatalf("state after noisy step = %v, want %v", got, Converged)
	}
	d.Reset()
	if got := d.State(); got != NotYetEligible {
		t.Fatalf("state after Reset = %v, want %v", got, NotYetEligible)
	}
	if got := d.Observe(1, 1000); got != Running {
		t.Fatalf("state after Reset+noisy = %v, want %v", got, Running)
	}
}

func TestStabilityDetector_NormalizesConfig(t *testing.T) {
	cfg := NewStabilityDetector(StabilityConfig{MinSteps: -1, CheckInterval: 0, Window: 0, Tolerance: -1}).Config()
	if cfg.MinSteps != 0 || cfg.CheckInterval != 1 || cfg.Window != 1 || cfg.Tolerance != 0 {
		t.Fatalf("Config() = %+v, want {0 1 1 0}", cfg)
	}
}

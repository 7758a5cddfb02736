package sim

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	zero := 0
	cases := map[string]func(*Config){
		"negative steps":      func(c *Config) { c.MaxSteps = -1 },
		"zero window":         func(c *Config) { c.StabilityThreshold = 0 },
		"zero interval":       func(c *Config) { c.StabilityCheckInterval = 0 },
		"negative min steps":  func(c *Config) { c.MinStepsBeforeStabilityCheck = -3 },
		"smoothing above one": func(c *Config) { c.Smoothing = 1.5 },
		"negative cost":       func(c *Config) { c.CostSensitivity = -0.1 },
		"nan steepness":       func(c *Config) { c.Steepness = math.NaN() },
		"zero parallelism":    func(c *Config) { c.MaxDegreeOfParallelism = &zero },
		"negative sampling":   func(c *Config) { c.SamplingThreshold = -1 },
		"negative interval":   func(c *Config) { c.StepInterval = -1 },
		"negative tolerance":  func(c *Config) { c.StabilityTolerance = -1 },
		"infinite saturation": func(c *Config) { c.SaturationPoint = math.Inf(1) },
		"negative crowding":   func(c *Config) { c.CapacitySteepness = -2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Validate() = %v, want ErrConfiguration", err)
			}
		})
	}
}

func TestConfigStabilityFieldsIgnoredWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckStability = false
	cfg.StabilityThreshold = 0
	cfg.StabilityCheckInterval = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestConfigParallelism(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.Parallelism(8); got != 8 {
		t.Fatalf("Parallelism(8) = %d, want 8", got)
	}
	three := 3
	cfg.MaxDegreeOfParallelism = &three
	if got := cfg.Parallelism(8); got != 3 {
		t.Fatalf("Parallelism with bound = %d, want 3", got)
	}
	cfg.UseParallelProcessing = false
	if got := cfg.Parallelism(8); got != 1 {
		t.Fatalf("Parallelism when disabled = %d, want 1", got)
	}
}

// internal/sim/config.go
package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/migration-simulator/core"
)

// ErrConfiguration marks invalid configuration values. It is returned before
// the loop starts.
var ErrConfiguration = errors.New("invalid simulation configuration")

// Config is the full run configuration.
type Config struct {
	MaxSteps int `yaml:"max_steps" json:"maxSteps"`

	CheckStability bool `yaml:"check_stability" json:"checkStability"`
	// StabilityThreshold is the trailing window, in steps, that must stay
	// within StabilityTolerance.
	StabilityThreshold           int     `yaml:"stability_threshold" json:"stabilityThreshold"`
	StabilityCheckInterval       int     `yaml:"stability_check_interval" json:"stabilityCheckInterval"`
	MinStepsBeforeStabilityCheck int     `yaml:"min_steps_before_stability_check" json:"minStepsBeforeStabilityCheck"`
	StabilityTolerance           float64 `yaml:"stability_tolerance" json:"stabilityTolerance"`

	// Steepness is the sigmoid k.
	Steepness float64 `yaml:"steepness" json:"steepness"`
	// CostSensitivity is λ.
	CostSensitivity   float64 `yaml:"cost_sensitivity" json:"costSensitivity"`
	BaseCost          float64 `yaml:"base_cost" json:"baseCost"`
	CapacitySteepness float64 `yaml:"capacity_steepness" json:"capacitySteepness"`
	SamplingThreshold int     `yaml:"sampling_threshold" json:"samplingThreshold"`

	// Smoothing is the feedback α.
	Smoothing       float64 `yaml:"smoothing" json:"smoothing"`
	Elasticity      float64 `yaml:"elasticity" json:"elasticity"`
	ExternalityBeta float64 `yaml:"externality_beta" json:"externalityBeta"`
	SaturationPoint float64 `yaml:"saturation_point" json:"saturationPoint"`

	UseParallelProcessing bool `yaml:"use_parallel_processing" json:"useParallelProcessing"`
	// MaxDegreeOfParallelism bounds decision and execution workers. Nil
	// means one worker per CPU.
	MaxDegreeOfParallelism *int `yaml:"max_degree_of_parallelism,omitempty" json:"maxDegreeOfParallelism,omitempty"`

	Seed uint64 `yaml:"seed" json:"seed"`

	// StepInterval is the wall-clock gap between steps when RealTime is set.
	StepInterval time.Duration `yaml:"step_interval" json:"stepInterval"`
	RealTime     bool          `yaml:"real_time" json:"realTime"`
}

// DefaultConfig returns the configuration used when a run file omits values.
func DefaultConfig() Config {
	return Config{
		MaxSteps:                     100,
		CheckStability:               true,
		StabilityThreshold:           5,
		StabilityCheckInterval:       1,
		MinStepsBeforeStabilityCheck: 10,
		Steepness:                    1.0,
		CostSensitivity:              0.001,
		BaseCost:                     1.0,
		SamplingThreshold:            core.DefaultSamplingThreshold,
		Smoothing:                    core.DefaultSmoothing,
		Elasticity:                   core.DefaultElasticity,
		ExternalityBeta:              core.DefaultExternalityBeta,
		SaturationPoint:              core.DefaultSaturationPoint,
		UseParallelProcessing:        true,
		Seed:                         42,
	}
}

// Validate reports the first invalid field, wrapped in ErrConfiguration.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
	}

	if c.MaxSteps < 0 {
		return bad("max_steps must be >= 0, got %d", c.MaxSteps)
	}
	if c.CheckStability {
		if c.StabilityThreshold < 1 {
			return bad("stability_threshold must be >= 1, got %d", c.StabilityThreshold)
		}
		if c.StabilityCheckInterval < 1 {
			return bad("stability_check_interval must be >= 1, got %d", c.StabilityCheckInterval)
		}
	}
	if c.MinStepsBeforeStabilityCheck < 0 {
		return bad("min_steps_before_stability_check must be >= 0, got %d", c.MinStepsBeforeStabilityCheck)
	}
	if c.SamplingThreshold < 0 {
		return bad("sampling_threshold must be >= 0, got %d", c.SamplingThreshold)
	}
	if c.MaxDegreeOfParallelism != nil && *c.MaxDegreeOfParallelism < 1 {
		return bad("max_degree_of_parallelism must be >= 1, got %d", *c.MaxDegreeOfParallelism)
	}
	if c.StepInterval < 0 {
		return bad("step_interval must be >= 0, got %s", c.StepInterval)
	}

	nonNegative := []struct {
		name  string
		value float64
	}{
		{"stability_tolerance", c.StabilityTolerance},
		{"steepness", c.Steepness},
		{"cost_sensitivity", c.CostSensitivity},
		{"base_cost", c.BaseCost},
		{"capacity_steepness", c.CapacitySteepness},
		{"elasticity", c.Elasticity},
		{"externality_beta", c.ExternalityBeta},
		{"saturation_point", c.SaturationPoint},
	}
	for _, f := range nonNegative {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return bad("%s must be a finite value >= 0, got %v", f.name, f.value)
		}
	}
	if math.IsNaN(c.Smoothing) || c.Smoothing < 0 || c.Smoothing > 1 {
		return bad("smoothing must be within [0,1], got %v", c.Smoothing)
	}
	return nil
}

// Parallelism resolves the worker bound for parallel stages; 1 when
// parallel processing is off.
func (c Config) Parallelism(numCPU int) int {
	if !c.UseParallelProcessing {
		return 1
	}
	if c.MaxDegreeOfParallelism != nil {
		return *c.MaxDegreeOfParallelism
	}
	if numCPU < 1 {
		return 1
	}
	return numCPU
}

// DecisionParams projects the decision-related fields.
func (c Config) DecisionParams() core.DecisionParams {
	return core.DecisionParams{
		Steepness:         c.Steepness,
		CostSensitivity:   c.CostSensitivity,
		BaseCost:          c.BaseCost,
		CapacitySteepness: c.CapacitySteepness,
		SamplingThreshold: c.SamplingThreshold,
	}
}

// FeedbackParams projects the feedback-related fields.
func (c Config) FeedbackParams() core.FeedbackParams {
	return core.FeedbackParams{
		Smoothing:       c.Smoothing,
		Elasticity:      c.Elasticity,
		Beta:            c.ExternalityBeta,
		SaturationPoint: c.SaturationPoint,
	}
}

// StabilityConfig projects the stability-related fields.
func (c Config) StabilityConfig() core.StabilityConfig {
	return core.StabilityConfig{
		MinSteps:      c.MinStepsBeforeStabilityCheck,
		CheckInterval: c.StabilityCheckInterval,
		Window:        c.StabilityThreshold,
		Tolerance:     c.StabilityTolerance,
	}
}

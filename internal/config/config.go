// Package config loads migsim configuration from YAML files validated
// against an embedded CUE schema, with environment overrides on top.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/migration-simulator/internal/generator"
	"github.com/signalsfoundry/migration-simulator/internal/logging"
	"github.com/signalsfoundry/migration-simulator/internal/observability"
	"github.com/signalsfoundry/migration-simulator/internal/sim"
)

//go:embed schema.cue
var schemaSource []byte

// ErrInvalidConfig wraps every schema, parse and override failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full migsim configuration.
type Config struct {
	// Scenario is the path of the scenario JSON to simulate.
	Scenario string `yaml:"scenario"`
	// Database is the SQLite DSN for checkpoints and step history. Empty
	// disables persistence.
	Database string `yaml:"database"`
	// HTTPAddr serves the status API when non-empty.
	HTTPAddr string `yaml:"http_addr"`
	// CheckpointEvery saves a checkpoint every N completed steps; zero saves
	// only the final one.
	CheckpointEvery int `yaml:"checkpoint_every"`

	Simulation sim.Config                  `yaml:"simulation"`
	Logging    logging.Config              `yaml:"logging"`
	Tracing    observability.TracingConfig `yaml:"tracing"`
	Generator  generator.Config            `yaml:"generator"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Simulation: sim.DefaultConfig(),
		Logging:    logging.Config{Level: "info", Format: "text"},
		Tracing:    observability.TracingConfig{ServiceName: "migsim", Exporter: "stdout", SampleRatio: 1},
		Generator:  generator.DefaultConfig(),
	}
}

// Load reads path, applies environment overrides and validates the result.
// An empty path starts from the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	cfg, err := cfg.ApplyEnv(os.Getenv)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse checks data against the schema and decodes it over the defaults.
func Parse(data []byte) (Config, error) {
	if err := CheckSchema(data); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

// CheckSchema validates a YAML document against the embedded CUE schema.
func CheckSchema(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	val := ctx.Encode(doc)
	if err := val.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := def.Unify(val).Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// ApplyEnv overlays the recognised environment variables read through
// getenv:
//
//	MIGSIM_SCENARIO, MIGSIM_DATABASE, MIGSIM_HTTP_ADDR,
//	MIGSIM_MAX_STEPS, MIGSIM_SEED, MIGSIM_PARALLELISM,
//	LOG_LEVEL, LOG_FORMAT,
//	MIGSIM_TRACING_ENABLED, MIGSIM_TRACING_EXPORTER, MIGSIM_OTLP_ENDPOINT
func (c Config) ApplyEnv(getenv func(string) string) (Config, error) {
	if v := getenv("MIGSIM_SCENARIO"); v != "" {
		c.Scenario = v
	}
	if v := getenv("MIGSIM_DATABASE"); v != "" {
		c.Database = v
	}
	if v := getenv("MIGSIM_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := getenv("MIGSIM_MAX_STEPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%w: MIGSIM_MAX_STEPS: %v", ErrInvalidConfig, err)
		}
		c.Simulation.MaxSteps = n
	}
	if v := getenv("MIGSIM_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("%w: MIGSIM_SEED: %v", ErrInvalidConfig, err)
		}
		c.Simulation.Seed = n
	}
	if v := getenv("MIGSIM_PARALLELISM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("%w: MIGSIM_PARALLELISM: %v", ErrInvalidConfig, err)
		}
		c.Simulation.MaxDegreeOfParallelism = &n
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := getenv("MIGSIM_TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = strings.EqualFold(v, "true")
	}
	if v := getenv("MIGSIM_TRACING_EXPORTER"); v != "" {
		c.Tracing.Exporter = strings.ToLower(v)
	}
	if v := getenv("MIGSIM_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
	}
	return c, nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c Config) Validate() error {
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("%w: checkpoint_every must be non-negative", ErrInvalidConfig)
	}
	if err := c.Simulation.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

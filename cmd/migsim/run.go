package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"

	"github.com/signalsfoundry/migration-simulator/core"
	"github.com/signalsfoundry/migration-simulator/internal/api"
	"github.com/signalsfoundry/migration-simulator/internal/config"
	"github.com/signalsfoundry/migration-simulator/internal/generator"
	"github.com/signalsfoundry/migration-simulator/internal/logging"
	"github.com/signalsfoundry/migration-simulator/internal/observability"
	"github.com/signalsfoundry/migration-simulator/internal/persistence"
	"github.com/signalsfoundry/migration-simulator/internal/sim"
	"github.com/signalsfoundry/migration-simulator/world"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a simulation until it stabilizes or reaches max steps",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "scenario", Aliases: []string{"s"}, Usage: "scenario JSON file"},
			&cli.BoolFlag{Name: "generate", Usage: "simulate a world built from the generator section instead of a scenario file"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database for run history and checkpoints"},
			&cli.StringFlag{Name: "http", Usage: "serve the status API on this address"},
			&cli.StringFlag{Name: "resume", Usage: "resume from the latest checkpoint of this run id (\"latest\" for any run)"},
			&cli.StringFlag{Name: "out", Usage: "write the final world as scenario JSON to this file"},
			&cli.IntFlag{Name: "max-steps", Usage: "override simulation.max_steps"},
			&cli.Uint64Flag{Name: "seed", Usage: "override simulation.seed"},
			&cli.IntFlag{Name: "checkpoint-every", Usage: "save a checkpoint every N steps"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if v := c.String("scenario"); v != "" {
				cfg.Scenario = v
			}
			if v := c.String("db"); v != "" {
				cfg.Database = v
			}
			if v := c.String("http"); v != "" {
				cfg.HTTPAddr = v
			}
			var maxSteps int
			if c.IsSet("max-steps") {
				maxSteps = c.Int("max-steps")
				cfg.Simulation.MaxSteps = maxSteps
			}
			if c.IsSet("seed") {
				cfg.Simulation.Seed = c.Uint64("seed")
			}
			if c.IsSet("checkpoint-every") {
				cfg.CheckpointEvery = c.Int("checkpoint-every")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log := logging.New(cfg.Logging)
			_, err = runSimulation(ctx, cfg, runOptions{
				Resume:   c.String("resume"),
				Generate: c.Bool("generate"),
				Out:      c.String("out"),
				MaxSteps: maxSteps,
			}, log, os.Stdout)
			if errors.Is(err, context.Canceled) {
				// Interrupted runs keep their last checkpoint and can be resumed.
				return nil
			}
			return err
		},
	}
}

type runOptions struct {
	Resume   string
	Generate bool
	Out      string
	// MaxSteps, when positive, replaces the step limit of a resumed
	// checkpoint's configuration.
	MaxSteps int
}

// runSimulation wires config, persistence, metrics, tracing and the API
// around one loop and runs it to completion.
func runSimulation(ctx context.Context, cfg config.Config, opts runOptions, log logging.Logger, stdout io.Writer) (sim.Result, error) {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return sim.Result{}, err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	var store *persistence.Store
	if cfg.Database != "" {
		if store, err = persistence.Open(ctx, cfg.Database); err != nil {
			return sim.Result{}, err
		}
		defer store.Close()
	}

	w, cp, err := prepareWorld(ctx, cfg, opts, store)
	if err != nil {
		return sim.Result{}, err
	}

	// Until the run starts, every early return releases the world and the
	// listener; afterwards loop.Close and srv.Shutdown own them.
	started := false
	var lis net.Listener
	defer func() {
		if started {
			return
		}
		if lis != nil {
			lis.Close()
		}
		w.Close()
	}()
	if cfg.HTTPAddr != "" {
		if lis, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
			return sim.Result{}, fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
		}
	}
	simCfg := cfg.Simulation
	var loopOpts []sim.Option
	if cp != nil {
		// Resumed runs keep the configuration the checkpoint was taken with.
		simCfg = cp.Config
		if opts.MaxSteps > 0 {
			simCfg.MaxSteps = opts.MaxSteps
		}
		loopOpts = append(loopOpts, sim.ResumeFrom(cp))
		log.Info(ctx, "resuming run",
			logging.String("run_id", cp.RunID),
			logging.Int("step", cp.Step))
	}

	reg := prometheus.NewRegistry()
	simMetrics, err := observability.NewSimulationCollector(reg)
	if err != nil {
		return sim.Result{}, err
	}
	httpMetrics, err := observability.NewHTTPCollector(reg)
	if err != nil {
		return sim.Result{}, err
	}

	stream := api.NewBroadcaster(log)
	loopOpts = append(loopOpts,
		sim.WithLogger(log),
		sim.WithMetricsRecorder(simMetrics),
		sim.WithObserver(stream),
	)
	loop, err := sim.NewLoop(w, simCfg, loopOpts...)
	if err != nil {
		return sim.Result{}, err
	}
	if store != nil {
		rec := persistence.NewRecorder(store, loop, cfg.CheckpointEvery)
		rec.Log = log
		loop.AddObserver(rec)
	}

	var srv *http.Server
	if lis != nil {
		var history api.History
		if store != nil {
			history = store
		}
		srv = &http.Server{
			Handler: api.NewRouter(api.Options{
				Status:  loop,
				History: history,
				Stream:  stream,
				Metrics: httpMetrics.Handler(),
				HTTP:    httpMetrics,
				Log:     log,
			}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn(context.Background(), "http server exited", logging.Err(err))
			}
		}()
		log.Info(ctx, "serving status API", logging.String("addr", lis.Addr().String()))
	}

	started = true
	res, runErr := loop.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream.Close()
	if srv != nil {
		_ = srv.Shutdown(closeCtx)
	}
	if err := loop.Close(closeCtx); err != nil {
		log.Warn(closeCtx, "closing simulation failed", logging.Err(err))
	}

	if opts.Out != "" {
		if err := writeScenario(opts.Out, w); err != nil {
			return res, err
		}
	}
	fmt.Fprintf(stdout, "run %s: %s after %d steps, %d migrants, population %d\n",
		res.RunID, res.Reason, res.Steps, res.TotalMigrants, res.FinalPopulation)
	return res, runErr
}

// prepareWorld loads the scenario, generates one, or restores the world of a
// stored checkpoint when resuming.
func prepareWorld(ctx context.Context, cfg config.Config, opts runOptions, store *persistence.Store) (*world.World, *sim.Checkpoint, error) {
	resume := opts.Resume
	if resume == "" {
		if opts.Generate {
			sc, err := generator.Generate(cfg.Generator)
			if err != nil {
				return nil, nil, err
			}
			w, err := sc.Build()
			return w, nil, err
		}
		if cfg.Scenario == "" {
			return nil, nil, fmt.Errorf("%w: no scenario given", config.ErrInvalidConfig)
		}
		w, err := core.LoadScenario(cfg.Scenario)
		return w, nil, err
	}

	if store == nil {
		return nil, nil, fmt.Errorf("%w: --resume requires a database", config.ErrInvalidConfig)
	}
	runID := resume
	if runID == "latest" {
		runID = ""
	}
	cp, err := store.LatestCheckpoint(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("resume %s: %w", resume, err)
	}
	w, err := cp.Restore()
	if err != nil {
		return nil, nil, err
	}
	return w, cp, nil
}

func writeScenario(path string, w *world.World) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := core.EncodeScenario(w).Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

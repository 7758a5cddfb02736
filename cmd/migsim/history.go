package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/signalsfoundry/migration-simulator/internal/config"
	"github.com/signalsfoundry/migration-simulator/internal/persistence"
)

func dbFlag() cli.Flag {
	return &cli.StringFlag{Name: "db", Usage: "SQLite database written by run --db"}
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List recorded runs",
		Flags: []cli.Flag{
			dbFlag(),
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openHistory(ctx, c)
			if err != nil {
				return err
			}
			defer store.Close()
			return listRuns(ctx, store, c.Bool("json"), os.Stdout)
		},
	}
}

func checkpointsCommand() *cli.Command {
	return &cli.Command{
		Name:      "checkpoints",
		Usage:     "List stored checkpoints, optionally for one run",
		ArgsUsage: "[run-id]",
		Flags: []cli.Flag{
			dbFlag(),
			&cli.StringFlag{Name: "run", Usage: "only list checkpoints of this run"},
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of a table"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			store, err := openHistory(ctx, c)
			if err != nil {
				return err
			}
			defer store.Close()
			runID := c.String("run")
			if runID == "" {
				runID = c.Args().First()
			}
			return listCheckpoints(ctx, store, runID, c.Bool("json"), os.Stdout)
		},
	}
}

func openHistory(ctx context.Context, c *cli.Command) (*persistence.Store, error) {
	path := c.String("db")
	if path == "" {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return nil, err
		}
		path = cfg.Database
	}
	if path == "" {
		return nil, fmt.Errorf("%w: no database given", config.ErrInvalidConfig)
	}
	return persistence.Open(ctx, path)
}

func listRuns(ctx context.Context, store *persistence.Store, asJSON bool, out io.Writer) error {
	runs, err := store.Runs(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return writeIndented(out, runs)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tSTEPS\tREASON\tMIGRANTS\tPOPULATION")
	for _, r := range runs {
		reason := "running"
		if r.Reason != nil {
			reason = r.Reason.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%d\t%d\n",
			r.RunID, r.StartedAt.Format(time.DateTime), r.Steps, reason, r.TotalMigrants, r.FinalPopulation)
	}
	return tw.Flush()
}

func listCheckpoints(ctx context.Context, store *persistence.Store, runID string, asJSON bool, out io.Writer) error {
	cps, err := store.ListCheckpoints(ctx, runID)
	if err != nil {
		return err
	}
	if asJSON {
		return writeIndented(out, cps)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRUN\tSTEP\tSIM TIME\tSTABILITY")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", cp.ID, cp.RunID, cp.Step, cp.SimTime, cp.Stability)
	}
	return tw.Flush()
}

func writeIndented(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

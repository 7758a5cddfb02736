// Package persistence stores run history and checkpoints in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/migration-simulator/internal/sim"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a run or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps a SQLite connection holding runs, per-step history and
// checkpoints.
type Store struct {
	db *sqlx.DB
}

// Open opens or creates the database at path and applies pending
// migrations. Pragmas are added unless path already carries a query string.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sqlx.DB) error {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	return goose.UpContext(ctx, db.DB, "migrations")
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID           string      `json:"runId"`
	StartedAt       time.Time   `json:"startedAt"`
	StartStep       int         `json:"startStep"`
	Cities          int         `json:"cities"`
	Config          sim.Config  `json:"config"`
	Reason          *sim.Reason `json:"reason,omitempty"`
	Steps           int         `json:"steps"`
	TotalMigrants   int         `json:"totalMigrants"`
	FinalPopulation int         `json:"finalPopulation"`
	Error           string      `json:"error,omitempty"`
	FinishedAt      *time.Time  `json:"finishedAt,omitempty"`
}

type runRow struct {
	RunID           string         `db:"run_id"`
	StartedAt       string         `db:"started_at"`
	StartStep       int            `db:"start_step"`
	Cities          int            `db:"cities"`
	ConfigJSON      string         `db:"config_json"`
	Reason          sql.NullString `db:"reason"`
	Steps           sql.NullInt64  `db:"steps"`
	TotalMigrants   sql.NullInt64  `db:"total_migrants"`
	FinalPopulation sql.NullInt64  `db:"final_population"`
	Error           sql.NullString `db:"error"`
	FinishedAt      sql.NullString `db:"finished_at"`
}

func (r runRow) record() (RunRecord, error) {
	rec := RunRecord{
		RunID:           r.RunID,
		StartStep:       r.StartStep,
		Cities:          r.Cities,
		Steps:           int(r.Steps.Int64),
		TotalMigrants:   int(r.TotalMigrants.Int64),
		FinalPopulation: int(r.FinalPopulation.Int64),
		Error:           r.Error.String,
	}
	var err error
	if rec.StartedAt, err = parseTime(r.StartedAt); err != nil {
		return RunRecord{}, err
	}
	if err := json.Unmarshal([]byte(r.ConfigJSON), &rec.Config); err != nil {
		return RunRecord{}, fmt.Errorf("run %s config: %w", r.RunID, err)
	}
	if r.Reason.Valid {
		var reason sim.Reason
		if err := reason.UnmarshalText([]byte(r.Reason.String)); err != nil {
			return RunRecord{}, err
		}
		rec.Reason = &reason
	}
	if r.FinishedAt.Valid {
		t, err := parseTime(r.FinishedAt.String)
		if err != nil {
			return RunRecord{}, err
		}
		rec.FinishedAt = &t
	}
	return rec, nil
}

// BeginRun records the start of a run. Resumed runs keep their original row.
func (s *Store) BeginRun(ctx context.Context, info sim.RunInfo) error {
	return s.ensureRun(ctx, info.RunID, info.Started, info.StartStep, info.Cities, info.Config)
}

func (s *Store) ensureRun(ctx context.Context, runID string, started time.Time, startStep, cities int, cfg sim.Config) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR IGNORE INTO runs
		(run_id, started_at, start_step, cities, config_json)
		VALUES (?, ?, ?, ?, ?)`,
		runID, formatTime(started), startStep, cities, string(cfgJSON))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, res sim.Result) error {
	reason, err := res.Reason.MarshalText()
	if err != nil {
		return err
	}
	out, err := s.db.ExecContext(ctx, `UPDATE runs SET
		reason = ?, steps = ?, total_migrants = ?, final_population = ?, error = ?, finished_at = ?
		WHERE run_id = ?`,
		string(reason), res.Steps, res.TotalMigrants, res.FinalPopulation, res.Error,
		formatTime(time.Now()), res.RunID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", res.RunID, err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: %w", res.RunID, ErrNotFound)
	}
	return nil
}

// Run returns one run.
func (s *Store) Run(ctx context.Context, runID string) (RunRecord, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return RunRecord{}, err
	}
	return row.record()
}

// Runs lists runs, most recently started first.
func (s *Store) Runs(ctx context.Context) ([]RunRecord, error) {
	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM runs ORDER BY started_at DESC, run_id`); err != nil {
		return nil, err
	}
	out := make([]RunRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// StepRecord is one row of per-step history.
type StepRecord struct {
	RunID            string         `db:"run_id" json:"runId"`
	Step             int            `db:"step" json:"step"`
	SimTime          string         `db:"sim_time" json:"simTime"`
	PopulationChange int            `db:"population_change" json:"populationChange"`
	CumulativeChange int            `db:"cumulative_change" json:"cumulativeChange"`
	TotalPopulation  int            `db:"total_population" json:"totalPopulation"`
	Flows            int            `db:"flows" json:"flows"`
	FactorUpdates    int            `db:"factor_updates" json:"factorUpdates"`
	Stability        string         `db:"stability" json:"stability"`
	DurationNS       int64          `db:"duration_ns" json:"durationNs"`
	Cities           map[string]int `db:"-" json:"cities,omitempty"`
}

// RecordSteps writes step reports and their city populations in one
// transaction. Re-recording a step replaces it, so a resumed run may
// overwrite history past its checkpoint.
func (s *Store) RecordSteps(ctx context.Context, reports []sim.StepReport) error {
	if len(reports) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range reports {
		if _, err := tx.ExecContext(ctx, `DELETE FROM city_populations WHERE run_id = ? AND step = ?`, r.RunID, r.Step); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO steps
			(run_id, step, sim_time, population_change, cumulative_change, total_population,
			 flows, factor_updates, stability, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.Step, formatTime(r.SimTime), r.PopulationChange, r.CumulativeChange,
			r.TotalPopulation, r.Counters.FlowsExecuted, r.Counters.FactorUpdates, r.Stability,
			r.Counters.StepDuration.Nanoseconds())
		if err != nil {
			return fmt.Errorf("insert step %d: %w", r.Step, err)
		}
		for _, c := range r.Cities {
			if _, err := tx.ExecContext(ctx, `INSERT INTO city_populations (run_id, step, city_id, population)
				VALUES (?, ?, ?, ?)`, r.RunID, r.Step, c.ID, c.Population); err != nil {
				return fmt.Errorf("insert population of %s at step %d: %w", c.ID, r.Step, err)
			}
		}
	}
	return tx.Commit()
}

// RecordStep writes a single step report.
func (s *Store) RecordStep(ctx context.Context, r sim.StepReport) error {
	return s.RecordSteps(ctx, []sim.StepReport{r})
}

// Steps returns the recorded history of a run in step order, with per-city
// populations.
func (s *Store) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	var steps []StepRecord
	if err := s.db.SelectContext(ctx, &steps, `SELECT run_id, step, sim_time, population_change,
		cumulative_change, total_population, flows, factor_updates, stability, duration_ns
		FROM steps WHERE run_id = ? ORDER BY step`, runID); err != nil {
		return nil, err
	}

	var pops []struct {
		Step       int    `db:"step"`
		CityID     string `db:"city_id"`
		Population int    `db:"population"`
	}
	if err := s.db.SelectContext(ctx, &pops, `SELECT step, city_id, population
		FROM city_populations WHERE run_id = ? ORDER BY step, city_id`, runID); err != nil {
		return nil, err
	}
	byStep := make(map[int]int, len(steps))
	for i := range steps {
		byStep[steps[i].Step] = i
	}
	for _, p := range pops {
		i, ok := byStep[p.Step]
		if !ok {
			continue
		}
		if steps[i].Cities == nil {
			steps[i].Cities = make(map[string]int)
		}
		steps[i].Cities[p.CityID] = p.Population
	}
	return steps, nil
}

// CheckpointInfo describes a stored checkpoint without its payload.
type CheckpointInfo struct {
	ID        int64  `db:"id" json:"id"`
	RunID     string `db:"run_id" json:"runId"`
	Step      int    `db:"step" json:"step"`
	SimTime   string `db:"sim_time" json:"simTime"`
	CreatedAt string `db:"created_at" json:"createdAt"`
	Stability string `db:"stability" json:"stability"`
}

// SaveCheckpoint stores cp and returns its id.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *sim.Checkpoint) (int64, error) {
	if cp == nil {
		return 0, sim.ErrNoCheckpoint
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return 0, fmt.Errorf("encode checkpoint: %w", err)
	}
	cities := 0
	if cp.World != nil {
		cities = len(cp.World.Cities)
	}
	if err := s.ensureRun(ctx, cp.RunID, cp.CreatedAt, 0, cities, cp.Config); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO checkpoints
		(run_id, step, sim_time, created_at, stability, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cp.RunID, cp.Step, formatTime(cp.SimTime), formatTime(cp.CreatedAt), cp.Stability, string(payload))
	if err != nil {
		return 0, fmt.Errorf("insert checkpoint: %w", err)
	}
	return res.LastInsertId()
}

// ListCheckpoints returns the checkpoints of runID, or of every run when
// runID is empty, newest first.
func (s *Store) ListCheckpoints(ctx context.Context, runID string) ([]CheckpointInfo, error) {
	query := `SELECT id, run_id, step, sim_time, created_at, stability FROM checkpoints`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY id DESC`

	out := []CheckpointInfo{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Checkpoint loads one checkpoint by id.
func (s *Store) Checkpoint(ctx context.Context, id int64) (*sim.Checkpoint, error) {
	return s.loadCheckpoint(ctx, `SELECT payload FROM checkpoints WHERE id = ?`, id)
}

// LatestCheckpoint loads the most recent checkpoint of runID, or of any run
// when runID is empty.
func (s *Store) LatestCheckpoint(ctx context.Context, runID string) (*sim.Checkpoint, error) {
	if runID == "" {
		return s.loadCheckpoint(ctx, `SELECT payload FROM checkpoints ORDER BY id DESC LIMIT 1`)
	}
	return s.loadCheckpoint(ctx, `SELECT payload FROM checkpoints WHERE run_id = ? ORDER BY step DESC, id DESC LIMIT 1`, runID)
}

func (s *Store) loadCheckpoint(ctx context.Context, query string, args ...any) (*sim.Checkpoint, error) {
	var payload string
	err := s.db.GetContext(ctx, &payload, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint: %w", ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var cp sim.Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

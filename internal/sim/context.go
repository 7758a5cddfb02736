package sim

import (
	"context"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/signalsfoundry/migration-simulator/core"
	"github.com/signalsfoundry/migration-simulator/model"
	"github.com/signalsfoundry/migration-simulator/world"
)

// Counters are performance counters for one step, or summed over a run.
type Counters struct {
	PairsEvaluated   int64 `json:"pairsEvaluated"`
	FlowsDecided     int   `json:"flowsDecided"`
	FlowsExecuted    int   `json:"flowsExecuted"`
	MigrantsDecided  int   `json:"migrantsDecided"`
	MigrantsExecuted int   `json:"migrantsExecuted"`
	FactorUpdates    int   `json:"factorUpdates"`

	StepDuration   time.Duration            `json:"stepDuration"`
	StageDurations map[string]time.Duration `json:"stageDurations,omitempty"`
}

func (c *Counters) add(o Counters) {
	c.PairsEvaluated += o.PairsEvaluated
	c.FlowsDecided += o.FlowsDecided
	c.FlowsExecuted += o.FlowsExecuted
	c.MigrantsDecided += o.MigrantsDecided
	c.MigrantsExecuted += o.MigrantsExecuted
	c.FactorUpdates += o.FactorUpdates
	c.StepDuration += o.StepDuration
	for name, d := range o.StageDurations {
		if c.StageDurations == nil {
			c.StageDurations = make(map[string]time.Duration)
		}
		c.StageDurations[name] += d
	}
}

// Context is the mutable state shared by the stages of one step. It is owned
// by the Loop; each stage only writes the fields it is responsible for.
type Context struct {
	RunID string
	// Step is the zero-based index of the step being executed.
	Step   int
	World  *world.World
	Config Config

	// Views are the city states seen by the decision stage, keyed by id.
	Views map[string]core.CityView
	// PopulationBefore is captured by the decision stage, PopulationAfter
	// by the execution stage.
	PopulationBefore map[string]int
	PopulationAfter  map[string]int

	Flows         []*model.MigrationFlow
	FactorChanges []core.FactorChange

	// PopulationChange is the number of people who moved this step; it
	// feeds the stability detector.
	PopulationChange int
	// CumulativeChange sums PopulationChange over completed steps,
	// including this one once execution ran.
	CumulativeChange int

	Stabilized bool
	Counters   Counters

	stageDone func(ctx context.Context, stage string, elapsed time.Duration)
}

// CaptureViews snapshots every city into Views and PopulationBefore and
// returns the snapshot.
func (sc *Context) CaptureViews() []world.CityState {
	snap := sc.World.Snapshot()
	sc.Views = make(map[string]core.CityView, len(snap))
	sc.PopulationBefore = make(map[string]int, len(snap))
	for _, st := range snap {
		sc.Views[st.City.ID] = core.CityView{City: st.City, Population: st.Population}
		sc.PopulationBefore[st.City.ID] = st.Population
	}
	return snap
}

// CityIDs returns the ids in Views, sorted.
func (sc *Context) CityIDs() []string {
	ids := make([]string, 0, len(sc.Views))
	for id := range sc.Views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CityReport is a read-only view of one city after a step.
type CityReport struct {
	ID         string             `json:"id"`
	Name       string             `json:"name,omitempty"`
	Population int                `json:"population"`
	Factors    map[string]float64 `json:"factors"`
}

// StepReport summarizes one completed step for observers.
type StepReport struct {
	RunID string `json:"runId"`
	// Step is the zero-based index; Completed is Step+1.
	Step      int       `json:"step"`
	Completed int       `json:"completed"`
	SimTime   time.Time `json:"simTime"`

	Flows            []model.MigrationFlow `json:"flows"`
	PopulationChange int                   `json:"populationChange"`
	CumulativeChange int                   `json:"cumulativeChange"`
	TotalPopulation  int                   `json:"totalPopulation"`
	Cities           []CityReport          `json:"cities"`

	Stability  string   `json:"stability"`
	Stabilized bool     `json:"stabilized"`
	Counters   Counters `json:"counters"`
}

func newStepReport(sc *Context, simTime time.Time, state core.StabilityState) StepReport {
	r := StepReport{
		RunID:            sc.RunID,
		Step:             sc.Step,
		Completed:        sc.Step + 1,
		SimTime:          simTime,
		Flows:            make([]model.MigrationFlow, 0, len(sc.Flows)),
		PopulationChange: sc.PopulationChange,
		CumulativeChange: sc.CumulativeChange,
		Stability:        state.String(),
		Stabilized:       sc.Stabilized,
		Counters:         sc.Counters,
	}
	r.Counters.StageDurations = maps.Clone(sc.Counters.StageDurations)
	for _, f := range sc.Flows {
		if f.Migrants > 0 {
			r.Flows = append(r.Flows, *f)
		}
	}
	r.Cities = cityReports(sc.World)
	for _, c := range r.Cities {
		r.TotalPopulation += c.Population
	}
	return r
}

// Clone returns a deep copy, so a receiver mutating its report cannot
// affect what other observers or the loop see.
func (r StepReport) Clone() StepReport {
	r.Flows = slices.Clone(r.Flows)
	r.Counters.StageDurations = maps.Clone(r.Counters.StageDurations)
	cities := make([]CityReport, len(r.Cities))
	for i, c := range r.Cities {
		c.Factors = maps.Clone(c.Factors)
		cities[i] = c
	}
	r.Cities = cities
	return r
}

func cityReports(w *world.World) []CityReport {
	snap := w.Snapshot()
	out := make([]CityReport, 0, len(snap))
	for _, st := range snap {
		out = append(out, CityReport{
			ID:         st.City.ID,
			Name:       st.City.Name,
			Population: st.Population,
			Factors:    st.City.Factors,
		})
	}
	return out
}

package sim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/migration-simulator/core"
	"github.com/signalsfoundry/migration-simulator/model"
)

// Built-in stage names.
const (
	StageDecision  = "decision"
	StageCapacity  = "capacity"
	StageExecution = "execution"
	StageFeedback  = "feedback"
)

// DefaultStages returns the standard decision → capacity → execution →
// feedback sequence configured from cfg.
func DefaultStages(cfg Config, factors []*model.FactorDefinition) []Stage {
	workers := cfg.Parallelism(runtime.NumCPU())
	return []Stage{
		&DecisionStage{
			Engine:  core.NewDecisionEngine(core.NewAttractionScorer(factors), cfg.DecisionParams()),
			Seed:    cfg.Seed,
			Workers: workers,
		},
		&CapacityStage{},
		&ExecutionStage{Workers: workers},
		&FeedbackStage{Updater: core.NewFeedbackUpdater(cfg.FeedbackParams())},
	}
}

// pairJob is one (origin, unit) evaluation.
type pairJob struct {
	origin core.CityView
	unit   model.PopulationUnit
}

// DecisionStage evaluates every (origin, unit) pair against every other city
// and samples migration flows. Pairs are independent and read-only, so they
// may run in parallel; each pair draws from its own random stream derived
// from (seed, step, pair index), which makes the result identical for any
// worker count.
type DecisionStage struct {
	Engine  *core.DecisionEngine
	Seed    uint64
	Workers int
}

func (s *DecisionStage) Name() string { return StageDecision }

func (s *DecisionStage) Execute(ctx context.Context, sc *Context) error {
	if s.Engine == nil {
		return fmt.Errorf("decision stage has no engine")
	}
	snap := sc.CaptureViews()
	cityIDs := sc.CityIDs()

	var jobs []pairJob
	for _, st := range snap {
		origin := sc.Views[st.City.ID]
		for _, u := range st.Units {
			if u.Size() == 0 {
				continue
			}
			jobs = append(jobs, pairJob{origin: origin, unit: u})
		}
	}

	results := make([][]*model.MigrationFlow, len(jobs))
	evaluate := func(i int) {
		rng := rand.New(rand.NewPCG(s.Seed, uint64(sc.Step)<<32|uint64(i)))
		results[i] = s.decideUnit(jobs[i], cityIDs, sc.Views, rng)
	}

	if s.Workers <= 1 || len(jobs) < 2 {
		for i := range jobs {
			evaluate(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.Workers)
		for i := range jobs {
			g.Go(func() error {
				evaluate(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	sc.Flows = sc.Flows[:0]
	for _, fs := range results {
		for _, f := range fs {
			sc.Flows = append(sc.Flows, f)
			sc.Counters.MigrantsDecided += f.Decided
		}
	}
	sc.Counters.FlowsDecided = len(sc.Flows)
	sc.Counters.PairsEvaluated = int64(len(jobs)) * int64(max(len(cityIDs)-1, 0))
	return nil
}

// decideUnit visits destinations in descending attraction (ties by id) and
// samples from the people not yet committed to an earlier destination.
func (s *DecisionStage) decideUnit(job pairJob, cityIDs []string, views map[string]core.CityView, rng *rand.Rand) []*model.MigrationFlow {
	unit := &job.unit
	type candidate struct {
		id    string
		score float64
	}
	cands := make([]candidate, 0, len(cityIDs))
	for _, id := range cityIDs {
		if id == job.origin.City.ID {
			continue
		}
		cands = append(cands, candidate{id: id, score: s.Engine.Scorer.Score(views[id].City, unit).Attraction})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].id < cands[j].id
	})

	remaining := unit.Size()
	var flows []*model.MigrationFlow
	for _, c := range cands {
		if remaining <= 0 {
			break
		}
		f := s.Engine.DecideFrom(job.origin, views[c.id], unit, remaining, rng)
		if f == nil {
			continue
		}
		remaining -= f.Decided
		flows = append(flows, f)
	}
	return flows
}

// CapacityStage scales inflows into capped cities proportionally.
type CapacityStage struct {
	Allocator core.CapacityAllocator
}

func (s *CapacityStage) Name() string { return StageCapacity }

func (s *CapacityStage) Execute(_ context.Context, sc *Context) error {
	if sc.Views == nil {
		sc.CaptureViews()
	}
	s.Allocator.AllocateAll(sc.Flows, sc.Views)
	return nil
}

// ExecutionStage commits flows to the world. Flows are grouped by
// destination; each destination is written by a single worker, so writes to
// one city are serialized while different destinations proceed in parallel.
type ExecutionStage struct {
	Workers int
}

func (s *ExecutionStage) Name() string { return StageExecution }

func (s *ExecutionStage) Execute(ctx context.Context, sc *Context) error {
	byDest := make(map[string][]*model.MigrationFlow)
	var dests []string
	for _, f := range sc.Flows {
		if f.Migrants <= 0 {
			continue
		}
		if _, ok := byDest[f.DestinationID]; !ok {
			dests = append(dests, f.DestinationID)
		}
		byDest[f.DestinationID] = append(byDest[f.DestinationID], f)
	}
	sort.Strings(dests)

	apply := func(dest string) error {
		for _, f := range byDest[dest] {
			if _, err := sc.World.Transfer(f.UnitID, dest, f.Migrants); err != nil {
				return fmt.Errorf("transfer %d of %q from %q to %q: %w", f.Migrants, f.UnitID, f.OriginID, dest, err)
			}
		}
		return nil
	}

	if s.Workers <= 1 || len(dests) < 2 {
		for _, d := range dests {
			if err := apply(d); err != nil {
				return err
			}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(s.Workers)
		for _, d := range dests {
			g.Go(func() error { return apply(d) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	moved, executed := 0, 0
	for _, d := range dests {
		for _, f := range byDest[d] {
			moved += f.Migrants
			executed++
		}
	}
	sc.PopulationChange = moved
	sc.Counters.FlowsExecuted = executed
	sc.Counters.MigrantsExecuted = moved

	sc.PopulationAfter = make(map[string]int, len(sc.PopulationBefore))
	for _, id := range sc.World.CityIDs() {
		sc.PopulationAfter[id] = sc.World.Population(id)
	}
	return nil
}

// FeedbackStage applies the world's feedback rules to every city whose
// population changed.
type FeedbackStage struct {
	Updater *core.FeedbackUpdater
}

func (s *FeedbackStage) Name() string { return StageFeedback }

func (s *FeedbackStage) Execute(_ context.Context, sc *Context) error {
	if s.Updater == nil {
		return fmt.Errorf("feedback stage has no updater")
	}
	rules := sc.World.Rules()
	sc.FactorChanges = sc.FactorChanges[:0]
	for _, id := range sc.World.CityIDs() {
		before, ok := sc.PopulationBefore[id]
		if !ok {
			continue
		}
		after, ok := sc.PopulationAfter[id]
		if !ok {
			after = sc.World.Population(id)
		}
		changes, err := s.Updater.Apply(sc.World, id, before, after, rules)
		if err != nil {
			return fmt.Errorf("feedback for %q: %w", id, err)
		}
		sc.FactorChanges = append(sc.FactorChanges, changes...)
	}
	sc.Counters.FactorUpdates = len(sc.FactorChanges)
	return nil
}

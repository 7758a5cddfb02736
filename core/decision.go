package core

import (
	"math"
	"math/rand/v2"

	"github.com/signalsfoundry/migration-simulator/model"
)

// DecisionParams are the run-level parameters of the migration decision.
type DecisionParams struct {
	// Steepness is k in sigmoid(k·ΔA).
	Steepness float64
	// CostSensitivity is λ in e^(−λ·cost).
	CostSensitivity float64
	// BaseCost converts kilometres into migration cost.
	BaseCost float64
	// CapacitySteepness, when positive, discounts the probability of moving
	// into a capped city by e^(−steepness·population/capacity).
	CapacitySteepness float64
	// SamplingThreshold switches from per-person trials to the normal
	// approximation. Zero selects DefaultSamplingThreshold.
	SamplingThreshold int
}

// DefaultDecisionParams mirrors the default run configuration.
func DefaultDecisionParams() DecisionParams {
	return DecisionParams{
		Steepness:         1.0,
		CostSensitivity:   0.001,
		BaseCost:          1.0,
		SamplingThreshold: DefaultSamplingThreshold,
	}
}

// CityView is the read-only state of a city the decision engine sees during
// one step.
type CityView struct {
	City       *model.City
	Population int
}

// Evaluation is the deterministic part of a decision, before sampling.
type Evaluation struct {
	Origin      AttractionScore
	Destination AttractionScore
	Delta       float64
	// Eligible is false when the emigration gate rejects the pair.
	Eligible    bool
	RawRate     float64
	Cost        float64
	Probability float64
}

// DecisionEngine turns attraction differentials into migration flows.
type DecisionEngine struct {
	Scorer *AttractionScorer
	Params DecisionParams
}

// NewDecisionEngine wires an engine with the given scorer and parameters.
func NewDecisionEngine(scorer *AttractionScorer, params DecisionParams) *DecisionEngine {
	return &DecisionEngine{Scorer: scorer, Params: params}
}

// Evaluate applies the emigration gate and computes the effective
// probability:
//
//	ΔA = A(dest) − A(origin) > τ  and  A(dest) > α_min
//	p  = sigmoid(k·ΔA) · e^(−λ·distance·baseCost)
//	effective = (1 − retention) · p
//
// Units with zero moving willingness are never eligible.
func (e *DecisionEngine) Evaluate(origin, dest CityView, unit *model.PopulationUnit) Evaluation {
	ev := Evaluation{
		Origin:      e.Scorer.Score(origin.City, unit),
		Destination: e.Scorer.Score(dest.City, unit),
	}
	ev.Delta = ev.Destination.Attraction - ev.Origin.Attraction

	traits := unit.EffectiveTraits()
	if traits.MovingWillingness <= 0 {
		return ev
	}
	if !(ev.Delta > traits.AttractionThreshold) || !(ev.Destination.Attraction > traits.MinAcceptableAttraction) {
		return ev
	}
	ev.Eligible = true

	ev.RawRate = Sigmoid(e.Params.Steepness * ev.Delta)
	ev.Cost = MigrationCost(origin.City.Position, dest.City.Position, e.Params.BaseCost)
	p := ev.RawRate * math.Exp(-e.Params.CostSensitivity*ev.Cost)

	if e.Params.CapacitySteepness > 0 && !dest.City.Unlimited() {
		occupancy := float64(dest.Population) / float64(dest.City.Capacity)
		p *= math.Exp(-e.Params.CapacitySteepness * occupancy)
	}

	ev.Probability = model.Clamp01((1 - traits.RetentionRate) * p)
	return ev
}

// Decide samples the whole unit against one destination. It returns nil when
// the gate fails or nobody moves.
func (e *DecisionEngine) Decide(origin, dest CityView, unit *model.PopulationUnit, rng *rand.Rand) *model.MigrationFlow {
	return e.DecideFrom(origin, dest, unit, unit.Size(), rng)
}

// DecideFrom samples from available of the unit's people, letting a caller
// spread one unit over several destinations without exceeding its size.
func (e *DecisionEngine) DecideFrom(origin, dest CityView, unit *model.PopulationUnit, available int, rng *rand.Rand) *model.MigrationFlow {
	if available > unit.Size() {
		available = unit.Size()
	}
	if available <= 0 || origin.City == nil || dest.City == nil || origin.City.ID == dest.City.ID {
		return nil
	}

	ev := e.Evaluate(origin, dest, unit)
	if !ev.Eligible {
		return nil
	}

	migrants := SampleMigrants(rng, available, ev.Probability, e.Params.SamplingThreshold)
	if migrants == 0 {
		return nil
	}
	return &model.MigrationFlow{
		OriginID:      origin.City.ID,
		DestinationID: dest.City.ID,
		UnitID:        unit.ID,
		RawRate:       ev.RawRate,
		Probability:   ev.Probability,
		Decided:       migrants,
		Migrants:      migrants,
	}
}

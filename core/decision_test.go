package core

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"pgregory.net/rapid"

	"github.com/signalsfoundry/migration-simulator/model"
)

func scenarioEngine(params DecisionParams) *DecisionEngine {
	return NewDecisionEngine(NewAttractionScorer(testFactors), params)
}

// Origin attraction 0.2, destination 0.9, τ=0.05, α_min=0, k=1, λ=0.
func TestDecisionEngine_ScenarioA(t *testing.T) {
	engine := scenarioEngine(DecisionParams{Steepness: 1, CostSensitivity: 0, BaseCost: 1})
	traits := model.Traits{
		MovingWillingness:   1,
		RetentionRate:       0.1,
		SensitivityScaling:  1,
		AttractionThreshold: 0.05,
	}
	unit := testGroup(1000, traits)
	origin := CityView{City: testCity("origin", 0.2, 0), Population: 1000}
	dest := CityView{City: testCity("dest", 0.9, 0)}

	ev := engine.Evaluate(origin, dest, unit)
	if !ev.Eligible {
		t.Fatalf("Evaluate: pair not eligible, delta=%v", ev.Delta)
	}
	want := Sigmoid(0.7) * (1 - 0.1)
	if math.Abs(ev.Probability-want) > 1e-9 {
		t.Fatalf("Probability = %v, want %v", ev.Probability, want)
	}

	flow := engine.Decide(origin, dest, unit, testRNG(2024))
	if flow == nil {
		t.Fatalf("Decide returned nil flow")
	}
	mean := 1000 * want
	sd := math.Sqrt(1000 * want * (1 - want))
	if math.Abs(float64(flow.Migrants)-mean) > 3*sd {
		t.Fatalf("Migrants = %d, want within 3σ of %v (σ=%v)", flow.Migrants, mean, sd)
	}
	if math.Abs(flow.RawRate-Sigmoid(0.7)) > 1e-9 || flow.Probability != ev.Probability {
		t.Fatalf("flow rates = (raw %v, effective %v), want (%v, %v)", flow.RawRate, flow.Probability, Sigmoid(0.7), ev.Probability)
	}
	if flow.Decided != flow.Migrants || flow.OriginID != "origin" || flow.DestinationID != "dest" || flow.UnitID != "g1" {
		t.Fatalf("flow = %+v, want decided=migrants origin->dest for g1", flow)
	}
}

// ΔA = 0.01 < τ = 0.05: no flow regardless of population size.
func TestDecisionEngine_ScenarioC(t *testing.T) {
	engine := scenarioEngine(DefaultDecisionParams())
	traits := model.Traits{MovingWillingness: 1, SensitivityScaling: 1, AttractionThreshold: 0.05}
	origin := CityView{City: testCity("origin", 0.50, 0)}
	dest := CityView{City: testCity("dest", 0.51, 0)}

	for _, n := range []int{1, 100, 101, 1_000_000} {
		if flow := engine.Decide(origin, dest, testGroup(n, traits), testRNG(1)); flow != nil {
			t.Fatalf("n=%d: Decide produced %+v, want nil", n, flow)
		}
	}
}

func TestDecisionEngine_Gates(t *testing.T) {
	engine := scenarioEngine(DefaultDecisionParams())
	base := model.Traits{MovingWillingness: 1, SensitivityScaling: 1}
	origin := CityView{City: testCity("origin", 0.1, 0)}
	dest := CityView{City: testCity("dest", 0.9, 0)}

	cases := []struct {
		name   string
		traits func(model.Traits) model.Traits
		dest   CityView
	}{
		{"zero willingness", func(tr model.Traits) model.Traits { tr.MovingWillingness = 0; return tr }, dest},
		{"destination below minimum", func(tr model.Traits) model.Traits { tr.MinAcceptableAttraction = 0.95; return tr }, dest},
		{"threshold above delta", func(tr model.Traits) model.Traits { tr.AttractionThreshold = 0.85; return tr }, dest},
		{"same city", func(tr model.Traits) model.Traits { return tr }, origin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			unit := testGroup(500, tc.traits(base))
			if flow := engine.Decide(origin, tc.dest, unit, testRNG(9)); flow != nil {
				t.Fatalf("Decide produced %+v, want nil", flow)
			}
		})
	}
}

func TestDecisionEngine_FullRetentionNeverMoves(t *testing.T) {
	engine := scenarioEngine(DefaultDecisionParams())
	unit := testGroup(10000, model.Traits{MovingWillingness: 1, SensitivityScaling: 1, RetentionRate: 1})
	origin := CityView{City: testCity("origin", 0, 0)}
	dest := CityView{City: testCity("dest", 1, 0)}
	if flow := engine.Decide(origin, dest, unit, testRNG(5)); flow != nil {
		t.Fatalf("Decide produced %+v, want nil", flow)
	}
}

func TestDecisionEngine_DistanceReducesProbability(t *testing.T) {
	engine := scenarioEngine(DecisionParams{Steepness: 1, CostSensitivity: 0.001, BaseCost: 1})
	unit := testGroup(1, model.Traits{MovingWillingness: 1, SensitivityScaling: 1})
	origin := CityView{City: testCity("origin", 0, 0)}
	near := CityView{City: testCity("near", 1, 0)}
	far := CityView{City: testCity("far", 1, 0)}
	far.City.Position = orb.Point{20, 0}

	pNear := engine.Evaluate(origin, near, unit).Probability
	pFar := engine.Evaluate(origin, far, unit).Probability
	if !(pFar < pNear) {
		t.Fatalf("far probability %v not below near probability %v", pFar, pNear)
	}
	wantRatio := math.Exp(-0.001 * DistanceKm(origin.City.Position, far.City.Position))
	if math.Abs(pFar/pNear-wantRatio) > 1e-9 {
		t.Fatalf("pFar/pNear = %v, want %v", pFar/pNear, wantRatio)
	}
}

func TestDecisionEngine_CapacitySteepnessDiscountsCrowdedCities(t *testing.T) {
	params := DefaultDecisionParams()
	params.CapacitySteepness = 2
	engine := scenarioEngine(params)
	unit := testGroup(1, model.Traits{MovingWillingness: 1, SensitivityScaling: 1})
	origin := CityView{City: testCity("origin", 0, 0)}

	empty := CityView{City: testCity("dest", 1, 0), Population: 0}
	empty.City.Capacity = 100
	half := CityView{City: empty.City, Population: 50}

	pEmpty := engine.Evaluate(origin, empty, unit).Probability
	pHalf := engine.Evaluate(origin, half, unit).Probability
	if want := pEmpty * math.Exp(-2*0.5); math.Abs(pHalf-want) > 1e-12 {
		t.Fatalf("half-full probability = %v, want %v", pHalf, want)
	}
}

func TestDecisionEngine_DecideFromNeverExceedsAvailable(t *testing.T) {
	engine := scenarioEngine(DefaultDecisionParams())
	origin := CityView{City: testCity("origin", 0, 0)}
	dest := CityView{City: testCity("dest", 1, 0)}

	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(0, 20000).Draw(t, "count")
		available := rapid.IntRange(-10, 25000).Draw(t, "available")
		retention := rapid.Float64Range(0, 1).Draw(t, "retention")
		seed := rapid.Uint64().Draw(t, "seed")

		unit := testGroup(count, model.Traits{MovingWillingness: 1, SensitivityScaling: 1, RetentionRate: retention})
		flow := engine.DecideFrom(origin, dest, unit, available, testRNG(seed))
		if flow == nil {
			return
		}
		limit := min(count, available)
		if flow.Migrants < 1 || flow.Migrants > limit {
			t.Fatalf("Migrants = %d, want in [1, %d]", flow.Migrants, limit)
		}
	})
}

func TestDecisionEngine_PersonMovesWhole(t *testing.T) {
	engine := scenarioEngine(DefaultDecisionParams())
	person := &model.PopulationUnit{
		ID:          "alice",
		Kind:        model.KindPerson,
		Count:       40, // ignored for persons
		Sensitivity: map[string]float64{"income": 1},
		Traits:      model.Traits{MovingWillingness: 1, SensitivityScaling: 1},
	}
	origin := CityView{City: testCity("origin", 0, 0)}
	dest := CityView{City: testCity("dest", 1, 0)}
	for seed := uint64(0); seed < 50; seed++ {
		if flow := engine.Decide(origin, dest, person, testRNG(seed)); flow != nil && flow.Migrants != 1 {
			t.Fatalf("person flow moved %d people, want 1", flow.Migrants)
		}
	}
}

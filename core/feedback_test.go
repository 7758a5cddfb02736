package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/migration-simulator/model"
)

type mapStore map[string]float64

func (m mapStore) FactorIntensity(cityID, factor string) (float64, bool) {
	v, ok := m[cityID+"/"+factor]
	return v, ok
}

func (m mapStore) UpdateFactorIntensity(cityID, factor string, value float64) error {
	m[cityID+"/"+factor] = model.Clamp01(value)
	return nil
}

func TestFeedbackUpdater_Targets(t *testing.T) {
	u := NewFeedbackUpdater(DefaultFeedbackParams())
	cases := []struct {
		name          string
		rule          model.FeedbackRule
		current       float64
		before, after int
		want          float64
		ok            bool
	}{
		{"none", model.FeedbackRule{Policy: model.FeedbackNone}, 0.5, 100, 200, 0.5, false},
		{"per capita dilutes", model.FeedbackRule{Policy: model.FeedbackPerCapitaResource}, 0.6, 100, 200, 0.3, true},
		{"per capita empty city", model.FeedbackRule{Policy: model.FeedbackPerCapitaResource}, 0.6, 100, 0, 0.6, false},
		{"price rises", model.FeedbackRule{Policy: model.FeedbackPriceCost}, 0.5, 100, 150, 0.5 + 0.3*0.5*0.5, true},
		{"price custom elasticity", model.FeedbackRule{Policy: model.FeedbackPriceCost, Elasticity: 1}, 0.5, 100, 150, 0.75, true},
		{"price from empty", model.FeedbackRule{Policy: model.FeedbackPriceCost}, 0.5, 0, 150, 0.5, false},
		{"negative externality", model.FeedbackRule{Policy: model.FeedbackNegativeExternality}, 0.2, 1000, 2000, 0.2 + 0.0001*1000, true},
		{"positive externality", model.FeedbackRule{Policy: model.FeedbackPositiveExternality, SaturationPoint: 1000}, 0.4, 500, 1000,
			0.4 * (1 + 0.5*(1-math.Tanh(1))), true},
		{"positive externality empty", model.FeedbackRule{Policy: model.FeedbackPositiveExternality}, 0.4, 500, 0, 0.4, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := u.Target(tc.rule, tc.current, tc.before, tc.after)
			if ok != tc.ok {
				t.Fatalf("Target ok = %v, want %v", ok, tc.ok)
			}
			if math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("Target = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFeedbackUpdater_SmoothsAndClamps(t *testing.T) {
	u := NewFeedbackUpdater(FeedbackParams{Smoothing: 0.25})
	if got := u.Smooth(0.4, 0.8); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("Smooth(0.4, 0.8) = %v, want 0.5", got)
	}
	full := NewFeedbackUpdater(FeedbackParams{Smoothing: 1})
	if got := full.Smooth(0.9, 7); got != 1 {
		t.Fatalf("Smooth(0.9, 7) = %v, want 1", got)
	}
	if got := full.Smooth(0.1, -3); got != 0 {
		t.Fatalf("Smooth(0.1, -3) = %v, want 0", got)
	}
}

func TestFeedbackUpdater_ApplyWritesSmoothedValues(t *testing.T) {
	store := mapStore{"c/income": 0.6, "c/noise": 0.2, "c/parks": 0.5}
	rules := []model.FeedbackRule{
		{Factor: "income", Policy: model.FeedbackPerCapitaResource},
		{Factor: "noise", Policy: model.FeedbackNegativeExternality, Beta: 0.001},
		{Factor: "parks", Policy: model.FeedbackNone},
		{Factor: "missing", Policy: model.FeedbackPriceCost},
	}
	u := NewFeedbackUpdater(FeedbackParams{Smoothing: 0.5})

	changes, err := u.Apply(store, "c", 100, 200, rules)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("Apply returned %d changes, want 2: %+v", len(changes), changes)
	}
	if got, want := store["c/income"], 0.6+0.5*(0.3-0.6); math.Abs(got-want) > 1e-12 {
		t.Fatalf("income = %v, want %v", got, want)
	}
	if got, want := store["c/noise"], 0.2+0.5*(0.1); math.Abs(got-want) > 1e-12 {
		t.Fatalf("noise = %v, want %v", got, want)
	}
	if store["c/parks"] != 0.5 {
		t.Fatalf("parks changed to %v under policy none", store["c/parks"])
	}
}

func TestFeedbackUpdater_NoPopulationChangeIsNoop(t *testing.T) {
	store := mapStore{"c/income": 0.6}
	rules := []model.FeedbackRule{{Factor: "income", Policy: model.FeedbackNegativeExternality}}
	changes, err := NewFeedbackUpdater(DefaultFeedbackParams()).Apply(store, "c", 300, 300, rules)
	if err != nil || changes != nil {
		t.Fatalf("Apply = %v, %v; want nil, nil", changes, err)
	}
	if store["c/income"] != 0.6 {
		t.Fatalf("income changed to %v", store["c/income"])
	}
}

package generator

import "github.com/signalsfoundry/migration-simulator/core"

type factorSpec struct {
	def  core.FactorJSON
	rule string
}

// catalogue is the fixed factor set of generated worlds, each with the
// feedback policy that fits it.
var catalogue = []factorSpec{
	{core.FactorJSON{Name: "income", Direction: "positive", Normalization: "logarithmic", Min: 15000, Max: 90000}, "per_capita_resource"},
	{core.FactorJSON{Name: "jobs", Direction: "positive", Normalization: "sqrt", Min: 0, Max: 1}, "positive_externality"},
	{core.FactorJSON{Name: "safety", Direction: "positive", Normalization: "sigmoid", Min: 0, Max: 100}, ""},
	{core.FactorJSON{Name: "housing_cost", Direction: "negative", Normalization: "linear", Min: 300, Max: 3000}, "price_cost"},
	{core.FactorJSON{Name: "pollution", Direction: "negative", Normalization: "exponential", Min: 0, Max: 150}, "negative_externality"},
}

type profile struct {
	id            string
	sensitivities map[string]float64
	traits        core.TraitsJSON
}

func (p profile) unit(id, kind string, count int, cityID string) core.UnitJSON {
	sens := make(map[string]float64, len(p.sensitivities))
	for k, v := range p.sensitivities {
		sens[k] = v
	}
	u := core.UnitJSON{
		ID:            id,
		Profile:       p.id,
		Kind:          kind,
		City:          cityID,
		Sensitivities: sens,
		Traits:        p.traits,
	}
	if kind == "group" {
		u.Count = count
	}
	return u
}

// profiles are the population archetypes of generated worlds. Sensitivities
// and traits stay in [0,1].
var profiles = []profile{
	{
		id:            "worker",
		sensitivities: map[string]float64{"income": 1.0, "jobs": 0.9, "housing_cost": 0.6, "pollution": 0.3},
		traits: core.TraitsJSON{
			MovingWillingness: 0.6, RetentionRate: 0.7, SensitivityScaling: 1,
			AttractionThreshold: 0.02, MinAcceptableAttraction: 0,
		},
	},
	{
		id:            "student",
		sensitivities: map[string]float64{"income": 0.3, "jobs": 0.5, "housing_cost": 1.0, "safety": 0.4},
		traits: core.TraitsJSON{
			MovingWillingness: 0.9, RetentionRate: 0.5, SensitivityScaling: 1,
			AttractionThreshold: 0.01, MinAcceptableAttraction: 0,
		},
	},
	{
		id:            "family",
		sensitivities: map[string]float64{"income": 0.8, "safety": 1.0, "housing_cost": 0.9, "pollution": 0.8},
		traits: core.TraitsJSON{
			MovingWillingness: 0.3, RetentionRate: 0.85, SensitivityScaling: 1,
			AttractionThreshold: 0.05, MinAcceptableAttraction: 0.1,
		},
	},
	{
		id:            "retiree",
		sensitivities: map[string]float64{"safety": 1.0, "pollution": 1.0, "housing_cost": 0.5},
		traits: core.TraitsJSON{
			MovingWillingness: 0.15, RetentionRate: 0.9, SensitivityScaling: 0.8,
			AttractionThreshold: 0.08, MinAcceptableAttraction: 0.2,
		},
	},
}

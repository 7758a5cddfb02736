package core

import (
	"math/rand/v2"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/migration-simulator/model"
)

var testFactors = []*model.FactorDefinition{
	{Name: "income", Direction: model.Positive},
	{Name: "pollution", Direction: model.Negative},
}

func testCity(id string, income, pollution float64) *model.City {
	return &model.City{
		ID:       id,
		Position: orb.Point{0, 0},
		Factors:  map[string]float64{"income": income, "pollution": pollution},
	}
}

func testGroup(count int, traits model.Traits) *model.PopulationUnit {
	return &model.PopulationUnit{
		ID:          "g1",
		ProfileID:   "worker",
		Kind:        model.KindGroup,
		Count:       count,
		CityID:      "origin",
		Sensitivity: map[string]float64{"income": 1},
		Traits:      traits,
	}
}

func testRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0x9e3779b97f4a7c15))
}

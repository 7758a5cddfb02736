package sim

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/migration-simulator/model"
	"github.com/signalsfoundry/migration-simulator/world"
)

var testFactors = []*model.FactorDefinition{
	{Name: "income", Direction: model.Positive},
	{Name: "pollution", Direction: model.Negative},
}

func testCity(id string, lon, income float64, capacity int) *model.City {
	return &model.City{
		ID:       id,
		Position: orb.Point{lon, 0},
		Capacity: capacity,
		Factors:  map[string]float64{"income": income, "pollution": 0.5},
	}
}

func testGroup(id, profile, cityID string, count int, willingness float64) *model.PopulationUnit {
	return &model.PopulationUnit{
		ID:          id,
		ProfileID:   profile,
		Kind:        model.KindGroup,
		Count:       count,
		CityID:      cityID,
		Sensitivity: map[string]float64{"income": 1},
		Traits: model.Traits{
			MovingWillingness:  willingness,
			RetentionRate:      0.5,
			SensitivityScaling: 1,
		},
	}
}

// newMigratingWorld has people in poor cities who want to move to a rich
// one, plus a few individuals.
func newMigratingWorld(t *testing.T, richCapacity int) *world.World {
	t.Helper()
	units := []*model.PopulationUnit{
		testGroup("workers-a", "worker", "a", 5000, 1),
		testGroup("workers-b", "worker", "b", 800, 1),
		testGroup("locals-rich", "local", "rich", 1000, 0),
		testGroup("students-a", "student", "a", 60, 0.8),
	}
	for i := 0; i < 5; i++ {
		units = append(units, &model.PopulationUnit{
			ID:          "person-" + string(rune('0'+i)),
			Kind:        model.KindPerson,
			CityID:      "b",
			Sensitivity: map[string]float64{"income": 1},
			Traits:      model.Traits{MovingWillingness: 1, SensitivityScaling: 1},
		})
	}
	w, err := world.New(testFactors,
		[]model.FeedbackRule{{Factor: "income", Policy: model.FeedbackPerCapitaResource}},
		[]*model.City{
			testCity("a", 0, 0.1, 0),
			testCity("b", 0.5, 0.2, 0),
			testCity("rich", 1, 0.9, richCapacity),
		}, units)
	if err != nil {
		t.Fatalf("world.New returned error: %v", err)
	}
	return w
}

// newStaticWorld has nobody willing to move.
func newStaticWorld(t *testing.T) *world.World {
	t.Helper()
	w, err := world.New(testFactors,
		[]model.FeedbackRule{
			{Factor: "income", Policy: model.FeedbackPriceCost},
			{Factor: "pollution", Policy: model.FeedbackNegativeExternality},
		},
		[]*model.City{testCity("a", 0, 0.1, 0), testCity("b", 1, 0.9, 0)},
		[]*model.PopulationUnit{
			testGroup("g-a", "p", "a", 1000, 0),
			testGroup("g-b", "p", "b", 1000, 0),
		})
	if err != nil {
		t.Fatalf("world.New returned error: %v", err)
	}
	return w
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxSteps = 10
	cfg.CheckStability = false
	cfg.CostSensitivity = 0.0001
	return cfg
}

func intensities(w *world.World) map[string]float64 {
	out := make(map[string]float64)
	for _, id := range w.CityIDs() {
		for _, f := range w.Factors() {
			v, _ := w.FactorIntensity(id, f.Name)
			out[id+"/"+f.Name] = v
		}
	}
	return out
}

// core/scenario_loader.go
package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb"

	"github.com/signalsfoundry/migration-simulator/model"
	"github.com/signalsfoundry/migration-simulator/world"
)

// Scenario is the JSON document describing a world: factor definitions,
// feedback rules, cities with raw factor values and the population units
// living in them.
type Scenario struct {
	// Normalized marks city factor values as already in [0,1]. Scenarios
	// written by EncodeScenario set it; hand-written ones usually carry raw
	// values that are run through each factor's transform on Build.
	Normalized bool         `json:"normalized,omitempty"`
	Factors    []FactorJSON `json:"factors"`
	Rules      []RuleJSON   `json:"rules,omitempty"`
	Cities     []CityJSON   `json:"cities"`
	Units      []UnitJSON   `json:"units"`
}

type FactorJSON struct {
	Name          string  `json:"name"`
	Direction     string  `json:"direction"`               // "positive" | "negative"
	Normalization string  `json:"normalization,omitempty"` // "linear", "logarithmic", ...
	Min           float64 `json:"min,omitempty"`
	Max           float64 `json:"max,omitempty"`
	Scale         float64 `json:"scale,omitempty"`
}

type RuleJSON struct {
	Factor          string  `json:"factor"`
	Policy          string  `json:"policy"`
	Elasticity      float64 `json:"elasticity,omitempty"`
	Beta            float64 `json:"beta,omitempty"`
	SaturationPoint float64 `json:"saturation_point,omitempty"`
}

type CityJSON struct {
	ID       string             `json:"id"`
	Name     string             `json:"name,omitempty"`
	Lon      float64            `json:"lon"`
	Lat      float64            `json:"lat"`
	AreaKm2  float64            `json:"area_km2,omitempty"`
	Capacity int                `json:"capacity,omitempty"` // 0 = unlimited
	Factors  map[string]float64 `json:"factors"`
}

type UnitJSON struct {
	ID            string             `json:"id"`
	Profile       string             `json:"profile,omitempty"`
	Kind          string             `json:"kind,omitempty"` // "person" | "group"
	Count         int                `json:"count,omitempty"`
	City          string             `json:"city"`
	Sensitivities map[string]float64 `json:"sensitivities"`
	Traits        TraitsJSON         `json:"traits"`
}

type TraitsJSON struct {
	MovingWillingness       float64 `json:"moving_willingness"`
	RetentionRate           float64 `json:"retention_rate"`
	SensitivityScaling      float64 `json:"sensitivity_scaling"`
	AttractionThreshold     float64 `json:"attraction_threshold"`
	MinAcceptableAttraction float64 `json:"min_acceptable_attraction"`
}

// DecodeScenario parses a scenario document. Unknown fields are rejected.
func DecodeScenario(r io.Reader) (*Scenario, error) {
	var sc Scenario
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("DecodeScenario: decode failed: %w", err)
	}
	return &sc, nil
}

// LoadScenario reads the scenario at path and builds its world.
func LoadScenario(path string) (*world.World, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}
	defer f.Close()

	sc, err := DecodeScenario(f)
	if err != nil {
		return nil, err
	}
	return sc.Build()
}

// Build converts the document into model values and assembles a world.
// Structural problems surface as world.ErrStructuralValidation.
func (sc *Scenario) Build() (*world.World, error) {
	factors := make([]*model.FactorDefinition, 0, len(sc.Factors))
	byName := make(map[string]*model.FactorDefinition, len(sc.Factors))
	for _, fj := range sc.Factors {
		dir, err := model.ParseDirection(fj.Direction)
		if err != nil {
			return nil, fmt.Errorf("factor %q: %w", fj.Name, err)
		}
		norm, err := model.ParseNormalization(fj.Normalization)
		if err != nil {
			return nil, fmt.Errorf("factor %q: %w", fj.Name, err)
		}
		fd := &model.FactorDefinition{
			Name:          fj.Name,
			Direction:     dir,
			Normalization: norm,
			Min:           fj.Min,
			Max:           fj.Max,
			Scale:         fj.Scale,
		}
		factors = append(factors, fd)
		byName[fj.Name] = fd
	}

	rules := make([]model.FeedbackRule, 0, len(sc.Rules))
	for _, rj := range sc.Rules {
		policy, err := model.ParseFeedbackPolicy(rj.Policy)
		if err != nil {
			return nil, fmt.Errorf("rule for %q: %w", rj.Factor, err)
		}
		rules = append(rules, model.FeedbackRule{
			Factor:          rj.Factor,
			Policy:          policy,
			Elasticity:      rj.Elasticity,
			Beta:            rj.Beta,
			SaturationPoint: rj.SaturationPoint,
		})
	}

	cities := make([]*model.City, 0, len(sc.Cities))
	for _, cj := range sc.Cities {
		c := &model.City{
			ID:       cj.ID,
			Name:     cj.Name,
			Position: orb.Point{cj.Lon, cj.Lat},
			AreaKm2:  cj.AreaKm2,
			Capacity: cj.Capacity,
			Factors:  make(map[string]float64, len(cj.Factors)),
		}
		for name, raw := range cj.Factors {
			fd, ok := byName[name]
			if !ok || sc.Normalized {
				// Unknown names are kept so that world validation reports them.
				c.Factors[name] = raw
				continue
			}
			c.Factors[name] = fd.Normalize(raw)
		}
		cities = append(cities, c)
	}

	units := make([]*model.PopulationUnit, 0, len(sc.Units))
	for _, uj := range sc.Units {
		kind, err := model.ParseUnitKind(uj.Kind)
		if err != nil {
			return nil, fmt.Errorf("unit %q: %w", uj.ID, err)
		}
		if kind == model.KindCustom {
			return nil, fmt.Errorf("unit %q: custom units cannot be loaded from JSON", uj.ID)
		}
		units = append(units, &model.PopulationUnit{
			ID:          uj.ID,
			ProfileID:   uj.Profile,
			Kind:        kind,
			Count:       uj.Count,
			CityID:      uj.City,
			Sensitivity: uj.Sensitivities,
			Traits: model.Traits{
				MovingWillingness:       uj.Traits.MovingWillingness,
				RetentionRate:           uj.Traits.RetentionRate,
				SensitivityScaling:      uj.Traits.SensitivityScaling,
				AttractionThreshold:     uj.Traits.AttractionThreshold,
				MinAcceptableAttraction: uj.Traits.MinAcceptableAttraction,
			},
		})
	}

	return world.New(factors, rules, cities, units)
}

// EncodeScenario captures the current state of w as a normalized scenario.
// Custom units are written as groups carrying their effective sensitivities
// and traits.
func EncodeScenario(w *world.World) *Scenario {
	sc := &Scenario{Normalized: true}
	for _, f := range w.Factors() {
		sc.Factors = append(sc.Factors, FactorJSON{
			Name:          f.Name,
			Direction:     f.Direction.String(),
			Normalization: f.Normalization.String(),
			Min:           f.Min,
			Max:           f.Max,
			Scale:         f.Scale,
		})
	}
	for _, r := range w.Rules() {
		if r.Policy == model.FeedbackNone {
			continue
		}
		sc.Rules = append(sc.Rules, RuleJSON{
			Factor:          r.Factor,
			Policy:          r.Policy.String(),
			Elasticity:      r.Elasticity,
			Beta:            r.Beta,
			SaturationPoint: r.SaturationPoint,
		})
	}
	for _, st := range w.Snapshot() {
		sc.Cities = append(sc.Cities, CityJSON{
			ID:       st.City.ID,
			Name:     st.City.Name,
			Lon:      st.City.Position.Lon(),
			Lat:      st.City.Position.Lat(),
			AreaKm2:  st.City.AreaKm2,
			Capacity: st.City.Capacity,
			Factors:  st.City.Factors,
		})
		for i := range st.Units {
			u := &st.Units[i]
			kind := u.Kind
			if kind == model.KindCustom {
				kind = model.KindGroup
			}
			t := u.EffectiveTraits()
			sc.Units = append(sc.Units, UnitJSON{
				ID:            u.ID,
				Profile:       u.ProfileID,
				Kind:          kind.String(),
				Count:         u.Size(),
				City:          u.CityID,
				Sensitivities: u.EffectiveSensitivities(),
				Traits: TraitsJSON{
					MovingWillingness:       t.MovingWillingness,
					RetentionRate:           t.RetentionRate,
					SensitivityScaling:      t.SensitivityScaling,
					AttractionThreshold:     t.AttractionThreshold,
					MinAcceptableAttraction: t.MinAcceptableAttraction,
				},
			})
		}
	}
	return sc
}

// Write encodes the scenario as indented JSON.
func (sc *Scenario) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sc)
}

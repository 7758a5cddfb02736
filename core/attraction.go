package core

import (
	"github.com/signalsfoundry/migration-simulator/model"
)

// AttractionScore is a city's appeal from one population unit's viewpoint.
// Pull and Push are exposed separately for diagnostics.
type AttractionScore struct {
	Pull       float64
	Push       float64
	Attraction float64
}

// AttractionScorer combines city factor intensities with a unit's
// sensitivities:
//
//	Pull       = Σ w_i·s_i        over Positive factors
//	Push       = Σ w_i·(1 − s_i)  over Negative factors
//	Attraction = SensitivityScaling · (Pull − Push)
//
// Intensities are already normalized when the world is loaded, so the scorer
// performs no transform of its own. It has no side effects.
type AttractionScorer struct {
	factors []*model.FactorDefinition
}

// NewAttractionScorer binds a scorer to the world's factor definitions. The
// order of factors fixes the summation order, which keeps scores
// bit-identical across runs.
func NewAttractionScorer(factors []*model.FactorDefinition) *AttractionScorer {
	fs := make([]*model.FactorDefinition, 0, len(factors))
	for _, f := range factors {
		if f != nil {
			fs = append(fs, f)
		}
	}
	return &AttractionScorer{factors: fs}
}

// Score evaluates city for unit. Factors without an intensity in the city
// are skipped; missing sensitivities count as zero.
func (s *AttractionScorer) Score(city *model.City, unit *model.PopulationUnit) AttractionScore {
	if city == nil || unit == nil {
		return AttractionScore{}
	}
	sens := unit.EffectiveSensitivities()

	var pull, push float64
	for _, f := range s.factors {
		intensity, ok := city.Factors[f.Name]
		if !ok {
			continue
		}
		w := sens[f.Name]
		if w == 0 {
			continue
		}
		switch f.Direction {
		case model.Negative:
			push += w * (1 - intensity)
		default:
			pull += w * intensity
		}
	}

	scaling := unit.EffectiveTraits().SensitivityScaling
	return AttractionScore{
		Pull:       pull,
		Push:       push,
		Attraction: scaling * (pull - push),
	}
}

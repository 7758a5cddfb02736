package core

import (
	"math"

	"github.com/signalsfoundry/migration-simulator/model"
)

// Default tuning of the feedback policies.
const (
	DefaultSmoothing       = 0.2
	DefaultElasticity      = 0.3
	DefaultExternalityBeta = 0.0001
	DefaultSaturationPoint = 1e6
)

// FeedbackParams holds the run-level defaults that rules may override.
type FeedbackParams struct {
	// Smoothing is α in current + α·(target − current).
	Smoothing       float64
	Elasticity      float64
	Beta            float64
	SaturationPoint float64
}

// DefaultFeedbackParams returns the documented defaults.
func DefaultFeedbackParams() FeedbackParams {
	return FeedbackParams{
		Smoothing:       DefaultSmoothing,
		Elasticity:      DefaultElasticity,
		Beta:            DefaultExternalityBeta,
		SaturationPoint: DefaultSaturationPoint,
	}
}

// IntensityStore is the slice of the world the updater reads and writes.
type IntensityStore interface {
	FactorIntensity(cityID, factor string) (float64, bool)
	UpdateFactorIntensity(cityID, factor string, value float64) error
}

// FactorChange records one intensity written back by Apply.
type FactorChange struct {
	CityID string
	Factor string
	Before float64
	After  float64
}

// FeedbackUpdater adjusts city factor intensities after migration.
type FeedbackUpdater struct {
	Params FeedbackParams
}

// NewFeedbackUpdater returns an updater using params.
func NewFeedbackUpdater(params FeedbackParams) *FeedbackUpdater {
	return &FeedbackUpdater{Params: params}
}

// Target computes the unsmoothed target intensity for one factor. ok is false
// when the policy leaves the value untouched (policy None, or a population
// edge case the policy cannot handle).
func (u *FeedbackUpdater) Target(rule model.FeedbackRule, current float64, before, after int) (float64, bool) {
	b, a := float64(before), float64(after)
	switch rule.Policy {
	case model.FeedbackPerCapitaResource:
		if after == 0 {
			return current, false
		}
		return current * (b / a), true

	case model.FeedbackPriceCost:
		if before == 0 {
			return current, false
		}
		elasticity := pick(rule.Elasticity, u.Params.Elasticity, DefaultElasticity)
		return current + elasticity*((a-b)/b)*current, true

	case model.FeedbackNegativeExternality:
		beta := pick(rule.Beta, u.Params.Beta, DefaultExternalityBeta)
		return current + beta*(a-b), true

	case model.FeedbackPositiveExternality:
		if after == 0 {
			return current, false
		}
		saturation := pick(rule.SaturationPoint, u.Params.SaturationPoint, DefaultSaturationPoint)
		growthFactor := 1 - math.Tanh(a/saturation)
		relativeGrowth := (a - b) / a
		return current * (1 + relativeGrowth*growthFactor), true

	default:
		return current, false
	}
}

// Smooth damps the step from current towards target and clamps to [0,1].
func (u *FeedbackUpdater) Smooth(current, target float64) float64 {
	alpha := model.Clamp01(u.Params.Smoothing)
	return model.Clamp01(current + alpha*(target-current))
}

// Apply runs every rule against one city. Nothing is written when the
// population did not change, so a world without migration keeps its
// intensities exactly.
func (u *FeedbackUpdater) Apply(store IntensityStore, cityID string, before, after int, rules []model.FeedbackRule) ([]FactorChange, error) {
	if before == after {
		return nil, nil
	}
	var changes []FactorChange
	for _, rule := range rules {
		current, ok := store.FactorIntensity(cityID, rule.Factor)
		if !ok {
			continue
		}
		target, ok := u.Target(rule, current, before, after)
		if !ok || math.IsNaN(target) || math.IsInf(target, 0) {
			continue
		}
		final := u.Smooth(current, target)
		if final == current {
			continue
		}
		if err := store.UpdateFactorIntensity(cityID, rule.Factor, final); err != nil {
			return changes, err
		}
		changes = append(changes, FactorChange{CityID: cityID, Factor: rule.Factor, Before: current, After: final})
	}
	return changes, nil
}

// pick returns the first positive value, or zero.
func pick(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

package model

import (
	"fmt"
	"strings"
)

// UnitKind is the closed set of built-in population unit kinds.
type UnitKind int

const (
	// KindPerson is a single individual. Its count is always 1.
	KindPerson UnitKind = iota
	// KindGroup aggregates Count people sharing one profile.
	KindGroup
	// KindCustom delegates sensitivities and traits to a UnitProfile.
	KindCustom
)

func (k UnitKind) String() string {
	switch k {
	case KindPerson:
		return "person"
	case KindGroup:
		return "group"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseUnitKind maps a textual kind to a UnitKind; empty means group.
func ParseUnitKind(s string) (UnitKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "person", "individual":
		return KindPerson, nil
	case "", "group":
		return KindGroup, nil
	case "custom":
		return KindCustom, nil
	default:
		return KindGroup, fmt.Errorf("unknown unit kind %q", s)
	}
}

// Traits are the behavioural parameters of a population unit, all in [0,1].
type Traits struct {
	MovingWillingness       float64
	RetentionRate           float64
	SensitivityScaling      float64
	AttractionThreshold     float64 // τ
	MinAcceptableAttraction float64 // α_min
}

// UnitProfile is the extension point for custom unit kinds. Implementations
// are supplied explicitly when units are constructed.
type UnitProfile interface {
	Sensitivities() map[string]float64
	Traits() Traits
}

// PopulationUnit is a person or an aggregated group living in one city.
//
// CityID is a lookup key into the world arena, not a pointer, and is only
// mutated by the world when the unit migrates.
type PopulationUnit struct {
	ID        string
	ProfileID string
	Kind      UnitKind
	Count     int
	CityID    string

	// Sensitivity holds a weight in [0,1] per factor name. The direction of
	// each factor comes from its definition, not from the weight.
	Sensitivity map[string]float64
	Traits      Traits

	// Custom overrides Sensitivity and Traits for KindCustom units.
	Custom UnitProfile
}

// Size returns the number of people the unit represents.
func (u *PopulationUnit) Size() int {
	if u.Kind == KindPerson {
		return 1
	}
	if u.Count < 0 {
		return 0
	}
	return u.Count
}

// EffectiveSensitivities returns the sensitivity weights used for scoring.
func (u *PopulationUnit) EffectiveSensitivities() map[string]float64 {
	if u.Kind == KindCustom && u.Custom != nil {
		return u.Custom.Sensitivities()
	}
	return u.Sensitivity
}

// EffectiveTraits returns the traits used for the migration decision.
func (u *PopulationUnit) EffectiveTraits() Traits {
	if u.Kind == KindCustom && u.Custom != nil {
		return u.Custom.Traits()
	}
	return u.Traits
}

// Clone returns a copy that shares the (immutable) Custom profile but owns
// its own sensitivity map.
func (u *PopulationUnit) Clone() *PopulationUnit {
	if u == nil {
		return nil
	}
	out := *u
	if u.Sensitivity != nil {
		out.Sensitivity = make(map[string]float64, len(u.Sensitivity))
		for k, v := range u.Sensitivity {
			out.Sensitivity[k] = v
		}
	}
	return &out
}

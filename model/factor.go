package model

import (
	"fmt"
	"math"
	"strings"
)

// Direction indicates whether a factor pulls people toward a city or
// pushes them away from it.
type Direction int

const (
	// Positive factors contribute to pull (e.g. income).
	Positive Direction = iota
	// Negative factors contribute to push (e.g. pollution).
	Negative
)

func (d Direction) String() string {
	switch d {
	case Positive:
		return "positive"
	case Negative:
		return "negative"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection maps "positive"/"pull" and "negative"/"push" to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "pull", "":
		return Positive, nil
	case "negative", "push":
		return Negative, nil
	default:
		return Positive, fmt.Errorf("unknown factor direction %q", s)
	}
}

// Normalization identifies the transform mapping a raw factor value into [0,1].
type Normalization int

const (
	// NormalizeNone treats the raw value as already normalized (clamped to [0,1]).
	NormalizeNone Normalization = iota
	NormalizeLinear
	NormalizeLogarithmic
	NormalizeSigmoid
	NormalizeExponential
	NormalizeSqrt
)

var normalizationNames = map[Normalization]string{
	NormalizeNone:        "none",
	NormalizeLinear:      "linear",
	NormalizeLogarithmic: "logarithmic",
	NormalizeSigmoid:     "sigmoid",
	NormalizeExponential: "exponential",
	NormalizeSqrt:        "sqrt",
}

func (n Normalization) String() string {
	if name, ok := normalizationNames[n]; ok {
		return name
	}
	return fmt.Sprintf("normalization(%d)", int(n))
}

// ParseNormalization is tolerant of a few common aliases.
func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "identity":
		return NormalizeNone, nil
	case "linear", "minmax":
		return NormalizeLinear, nil
	case "log", "logarithmic":
		return NormalizeLogarithmic, nil
	case "sigmoid", "logistic":
		return NormalizeSigmoid, nil
	case "exp", "exponential":
		return NormalizeExponential, nil
	case "sqrt":
		return NormalizeSqrt, nil
	default:
		return NormalizeNone, fmt.Errorf("unknown normalization %q", s)
	}
}

// FactorDefinition describes a named city characteristic. Definitions are
// immutable once created and are shared by pointer across cities and units.
type FactorDefinition struct {
	Name          string
	Direction     Direction
	Normalization Normalization

	// Min and Max bound the raw value range for the linear, logarithmic and
	// sqrt transforms. The sigmoid transform centres on (Min+Max)/2.
	Min float64
	Max float64

	// Scale is the steepness of the sigmoid and exponential transforms.
	// Zero selects a transform-specific default.
	Scale float64
}

// Normalize maps a raw value into [0,1] using the factor's transform. It is
// applied once when a world is loaded, never per scoring call.
func (f *FactorDefinition) Normalize(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	span := f.Max - f.Min

	var v float64
	switch f.Normalization {
	case NormalizeLinear:
		if span <= 0 {
			return Clamp01(raw)
		}
		v = (raw - f.Min) / span
	case NormalizeLogarithmic:
		if span <= 0 {
			return Clamp01(raw)
		}
		x := math.Max(raw-f.Min, 0)
		v = math.Log1p(x) / math.Log1p(span)
	case NormalizeSigmoid:
		scale := f.Scale
		if scale == 0 {
			scale = 1
			if span > 0 {
				// ~99% of the output range covered across [Min, Max].
				scale = 10 / span
			}
		}
		mid := (f.Min + f.Max) / 2
		v = 1 / (1 + math.Exp(-scale*(raw-mid)))
	case NormalizeExponential:
		scale := f.Scale
		if scale == 0 {
			scale = 1
			if span > 0 {
				scale = 3 / span
			}
		}
		x := math.Max(raw-f.Min, 0)
		v = 1 - math.Exp(-scale*x)
	case NormalizeSqrt:
		if span <= 0 {
			return Clamp01(raw)
		}
		x := math.Max(raw-f.Min, 0)
		v = math.Sqrt(x / span)
	default:
		v = raw
	}
	return Clamp01(v)
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package model

import (
	"math"
	"testing"
)

func TestFactorDefinition_Normalize(t *testing.T) {
	cases := []struct {
		name string
		def  FactorDefinition
		raw  float64
		want float64
	}{
		{"none passes through", FactorDefinition{}, 0.42, 0.42},
		{"none clamps", FactorDefinition{}, 1.7, 1},
		{"linear midpoint", FactorDefinition{Normalization: NormalizeLinear, Min: 10, Max: 30}, 20, 0.5},
		{"linear below min", FactorDefinition{Normalization: NormalizeLinear, Min: 10, Max: 30}, 0, 0},
		{"log at max", FactorDefinition{Normalization: NormalizeLogarithmic, Max: 1000}, 1000, 1},
		{"log at min", FactorDefinition{Normalization: NormalizeLogarithmic, Max: 1000}, 0, 0},
		{"sigmoid centre", FactorDefinition{Normalization: NormalizeSigmoid, Min: 0, Max: 100}, 50, 0.5},
		{"exponential origin", FactorDefinition{Normalization: NormalizeExponential, Max: 10}, 0, 0},
		{"exponential explicit scale", FactorDefinition{Normalization: NormalizeExponential, Scale: 1}, 1, 1 - math.Exp(-1)},
		{"sqrt quarter", FactorDefinition{Normalization: NormalizeSqrt, Max: 100}, 25, 0.5},
		{"nan", FactorDefinition{Normalization: NormalizeLinear, Max: 1}, math.NaN(), 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.def.Normalize(tc.raw); math.Abs(got-tc.want) > 1e-12 {
				t.Fatalf("Normalize(%v) = %v, want %v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestFactorDefinition_NormalizeIsMonotone(t *testing.T) {
	for _, n := range []Normalization{NormalizeLinear, NormalizeLogarithmic, NormalizeSigmoid, NormalizeExponential, NormalizeSqrt} {
		def := FactorDefinition{Normalization: n, Min: 0, Max: 500}
		prev := -1.0
		for raw := -50.0; raw <= 600; raw += 25 {
			v := def.Normalize(raw)
			if v < prev || v < 0 || v > 1 {
				t.Fatalf("%v: Normalize(%v) = %v after %v", n, raw, v, prev)
			}
			prev = v
		}
	}
}

func TestParseEnums(t *testing.T) {
	if d, err := ParseDirection("push"); err != nil || d != Negative {
		t.Fatalf("ParseDirection(push) = %v, %v", d, err)
	}
	if n, err := ParseNormalization("log"); err != nil || n != NormalizeLogarithmic {
		t.Fatalf("ParseNormalization(log) = %v, %v", n, err)
	}
	if p, err := ParseFeedbackPolicy("PositiveExternality"); err != nil || p != FeedbackPositiveExternality {
		t.Fatalf("ParseFeedbackPolicy(PositiveExternality) = %v, %v", p, err)
	}
	if p, err := ParseFeedbackPolicy("price-cost"); err != nil || p != FeedbackPriceCost {
		t.Fatalf("ParseFeedbackPolicy(price-cost) = %v, %v", p, err)
	}
	if k, err := ParseUnitKind(""); err != nil || k != KindGroup {
		t.Fatalf("ParseUnitKind(\"\") = %v, %v", k, err)
	}
	for _, bad := range []func() error{
		func() error { _, err := ParseDirection("up"); return err },
		func() error { _, err := ParseNormalization("cubic"); return err },
		func() error { _, err := ParseFeedbackPolicy("tax"); return err },
		func() error { _, err := ParseUnitKind("robot"); return err },
	} {
		if bad() == nil {
			t.Fatalf("expected parse error")
		}
	}
}

func TestPopulationUnit_SizeAndClone(t *testing.T) {
	p := &PopulationUnit{Kind: KindPerson, Count: 12}
	if p.Size() != 1 {
		t.Fatalf("person Size() = %d, want 1", p.Size())
	}
	g := &PopulationUnit{Kind: KindGroup, Count: -3}
	if g.Size() != 0 {
		t.Fatalf("negative group Size() = %d, want 0", g.Size())
	}

	orig := &PopulationUnit{Kind: KindGroup, Count: 5, Sensitivity: map[string]float64{"income": 0.5}}
	clone := orig.Clone()
	clone.Sensitivity["income"] = 0.9
	if orig.Sensitivity["income"] != 0.5 {
		t.Fatalf("Clone shares the sensitivity map")
	}
}

func TestCity_CloneAndUnlimited(t *testing.T) {
	c := &City{ID: "x", Factors: map[string]float64{"a": 0.1}}
	if !c.Unlimited() {
		t.Fatalf("zero capacity should be unlimited")
	}
	cl := c.Clone()
	cl.Factors["a"] = 0.9
	if c.Factors["a"] != 0.1 {
		t.Fatalf("Clone shares the factor map")
	}
}

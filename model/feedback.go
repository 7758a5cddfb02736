package model

import (
	"fmt"
	"strings"
)

// FeedbackPolicy selects how a factor's intensity reacts to a city's
// population change after migration.
type FeedbackPolicy int

const (
	FeedbackNone FeedbackPolicy = iota
	// FeedbackPerCapitaResource dilutes a fixed total resource over more people.
	FeedbackPerCapitaResource
	// FeedbackPriceCost scales with relative population growth (elasticity).
	FeedbackPriceCost
	// FeedbackNegativeExternality grows linearly with absolute population change.
	FeedbackNegativeExternality
	// FeedbackPositiveExternality grows with population, saturating via tanh.
	FeedbackPositiveExternality
)

var feedbackPolicyNames = map[FeedbackPolicy]string{
	FeedbackNone:                "none",
	FeedbackPerCapitaResource:   "per_capita_resource",
	FeedbackPriceCost:           "price_cost",
	FeedbackNegativeExternality: "negative_externality",
	FeedbackPositiveExternality: "positive_externality",
}

func (p FeedbackPolicy) String() string {
	if name, ok := feedbackPolicyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("feedback(%d)", int(p))
}

// ParseFeedbackPolicy accepts snake_case, kebab-case and CamelCase names.
func ParseFeedbackPolicy(s string) (FeedbackPolicy, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)
	switch key {
	case "", "none":
		return FeedbackNone, nil
	case "percapitaresource", "percapita":
		return FeedbackPerCapitaResource, nil
	case "pricecost", "price":
		return FeedbackPriceCost, nil
	case "negativeexternality":
		return FeedbackNegativeExternality, nil
	case "positiveexternality":
		return FeedbackPositiveExternality, nil
	default:
		return FeedbackNone, fmt.Errorf("unknown feedback policy %q", s)
	}
}

// FeedbackRule binds a feedback policy to one factor. Zero-valued tuning
// fields fall back to the run-level defaults.
type FeedbackRule struct {
	Factor          string
	Policy          FeedbackPolicy
	Elasticity      float64
	Beta            float64
	SaturationPoint float64
}

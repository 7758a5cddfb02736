package core

import (
	"math"
	"math/rand/v2"
)

// DefaultSamplingThreshold is the population size above which migrant counts
// are drawn from the normal approximation instead of per-person trials.
const DefaultSamplingThreshold = 100

// SampleMigrants draws how many of n people migrate, each independently with
// probability p.
//
// For n <= threshold every person gets one Bernoulli trial. Above the
// threshold the binomial is approximated by Normal(n·p, √(n·p·(1−p))) via
// Box–Muller, rounded and clamped into [0, n]. The result always lies in
// [0, n].
func SampleMigrants(rng *rand.Rand, n int, p float64, threshold int) int {
	if n <= 0 || !(p > 0) {
		return 0
	}
	if p >= 1 {
		return n
	}
	if threshold <= 0 {
		threshold = DefaultSamplingThreshold
	}
	if n <= threshold {
		return bernoulliCount(rng, n, p)
	}
	return normalCount(rng, n, p)
}

func bernoulliCount(rng *rand.Rand, n int, p float64) int {
	successes := 0
	for i := 0; i < n; i++ {
		if rng.Float64() < p {
			successes++
		}
	}
	return successes
}

func normalCount(rng *rand.Rand, n int, p float64) int {
	mean := float64(n) * p
	stddev := math.Sqrt(float64(n) * p * (1 - p))
	x := mean + stddev*StandardNormal(rng)

	migrants := math.Round(x)
	if migrants < 0 {
		return 0
	}
	if migrants > float64(n) {
		return n
	}
	return int(migrants)
}

// StandardNormal draws one N(0,1) variate with the Box–Muller transform.
// Exactly two uniforms are consumed per call so that the random stream stays
// aligned between runs.
func StandardNormal(rng *rand.Rand) float64 {
	u1 := 1 - rng.Float64() // (0,1]: keeps the log finite
	u2 := rng.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Sigmoid is the logistic function 1 / (1 + e^(−x)).
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

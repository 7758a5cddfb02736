// Package generator builds synthetic scenarios: cities scattered over a
// geographic box whose factor values come from smooth noise fields, so
// neighbouring cities resemble each other.
package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/signalsfoundry/migration-simulator/core"
)

// ErrInvalidConfig is returned by Validate and Generate.
var ErrInvalidConfig = errors.New("invalid generator config")

// Config parameterizes Generate.
type Config struct {
	Cities         int   `yaml:"cities" json:"cities"`
	GroupsPerCity  int   `yaml:"groups_per_city" json:"groupsPerCity"`
	PersonsPerCity int   `yaml:"persons_per_city" json:"personsPerCity"`
	MeanGroupSize  int   `yaml:"mean_group_size" json:"meanGroupSize"`
	Seed           int64 `yaml:"seed" json:"seed"`

	MinLon float64 `yaml:"min_lon" json:"minLon"`
	MaxLon float64 `yaml:"max_lon" json:"maxLon"`
	MinLat float64 `yaml:"min_lat" json:"minLat"`
	MaxLat float64 `yaml:"max_lat" json:"maxLat"`

	// Frequency is the noise frequency per degree; higher values make
	// factors vary faster across the map.
	Frequency float64 `yaml:"frequency" json:"frequency"`
	Octaves   int     `yaml:"octaves" json:"octaves"`

	// Headroom sets each city's capacity to (1+Headroom)·initial population.
	// Zero leaves cities unlimited.
	Headroom float64 `yaml:"headroom" json:"headroom"`
}

// DefaultConfig returns a mid-sized European-scale world.
func DefaultConfig() Config {
	return Config{
		Cities:         20,
		GroupsPerCity:  4,
		PersonsPerCity: 2,
		MeanGroupSize:  2000,
		Seed:           42,
		MinLon:         -10,
		MaxLon:         30,
		MinLat:         36,
		MaxLat:         60,
		Frequency:      0.08,
		Octaves:        3,
		Headroom:       0.5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Cities < 2:
		return fmt.Errorf("%w: at least 2 cities are required, got %d", ErrInvalidConfig, c.Cities)
	case c.GroupsPerCity < 0 || c.PersonsPerCity < 0:
		return fmt.Errorf("%w: unit counts must be non-negative", ErrInvalidConfig)
	case c.GroupsPerCity > 0 && c.MeanGroupSize < 1:
		return fmt.Errorf("%w: mean_group_size must be positive", ErrInvalidConfig)
	case !(c.MaxLon > c.MinLon) || !(c.MaxLat > c.MinLat):
		return fmt.Errorf("%w: empty bounding box", ErrInvalidConfig)
	case c.MinLat < -90 || c.MaxLat > 90 || c.MinLon < -180 || c.MaxLon > 180:
		return fmt.Errorf("%w: bounding box outside the globe", ErrInvalidConfig)
	case c.Frequency <= 0:
		return fmt.Errorf("%w: frequency must be positive", ErrInvalidConfig)
	case c.Headroom < 0:
		return fmt.Errorf("%w: headroom must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// Generate produces a scenario with raw factor values. The same config always
// yields the same scenario.
func Generate(cfg Config) (*core.Scenario, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	octaves := cfg.Octaves
	if octaves < 1 {
		octaves = 1
	}
	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), 0x6d6967))

	sc := &core.Scenario{}
	fields := make([]opensimplex.Noise, len(catalogue))
	for i, f := range catalogue {
		sc.Factors = append(sc.Factors, f.def)
		if f.rule != "" {
			sc.Rules = append(sc.Rules, core.RuleJSON{Factor: f.def.Name, Policy: f.rule})
		}
		fields[i] = opensimplex.NewNormalized(cfg.Seed + int64(i))
	}

	for c := 0; c < cfg.Cities; c++ {
		lon := cfg.MinLon + rng.Float64()*(cfg.MaxLon-cfg.MinLon)
		lat := cfg.MinLat + rng.Float64()*(cfg.MaxLat-cfg.MinLat)
		city := core.CityJSON{
			ID:      fmt.Sprintf("city-%03d", c),
			Name:    cityName(rng),
			Lon:     lon,
			Lat:     lat,
			AreaKm2: 50 + rng.Float64()*950,
			Factors: make(map[string]float64, len(catalogue)),
		}
		for i, f := range catalogue {
			v := octaveNoise(fields[i], lon, lat, octaves, cfg.Frequency, 0.5)
			city.Factors[f.def.Name] = f.def.Min + v*(f.def.Max-f.def.Min)
		}

		// A city hosts at most one group per profile; groups beyond the
		// profile count add to the group already drawn for that profile.
		resident := 0
		order := rng.Perm(len(profiles))
		groupAt := make(map[int]int, len(profiles))
		for g := 0; g < cfg.GroupsPerCity; g++ {
			pi := order[g%len(order)]
			count := 1 + int(rng.ExpFloat64()*float64(cfg.MeanGroupSize))
			resident += count
			if i, ok := groupAt[pi]; ok {
				sc.Units[i].Count += count
				continue
			}
			groupAt[pi] = len(sc.Units)
			sc.Units = append(sc.Units, profiles[pi].unit(fmt.Sprintf("%s-g%02d", city.ID, g), "group", count, city.ID))
		}
		for n := 0; n < cfg.PersonsPerCity; n++ {
			p := profiles[rng.IntN(len(profiles))]
			sc.Units = append(sc.Units, p.unit(fmt.Sprintf("%s-p%02d", city.ID, n), "person", 1, city.ID))
			resident++
		}
		if cfg.Headroom > 0 {
			city.Capacity = int(math.Ceil(float64(resident) * (1 + cfg.Headroom)))
		}
		sc.Cities = append(sc.Cities, city)
	}
	return sc, nil
}

// octaveNoise layers frequencies of a normalized noise field; the result
// stays in [0,1].
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

var syllables = []string{"ber", "lin", "pa", "ris", "mar", "sei", "lle", "vie", "nna", "to", "lo", "sa", "ka", "dor", "vik", "burg"}

func cityName(rng *rand.Rand) string {
	n := 2 + rng.IntN(2)
	name := ""
	for i := 0; i < n; i++ {
		name += syllables[rng.IntN(len(syllables))]
	}
	return string(name[0]-'a'+'A') + name[1:]
}

package generator

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGenerateBuildsValidWorld(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cities = 8
	sc, err := Generate(cfg)
	require.NoError(t, err)
	require.Len(t, sc.Cities, 8)
	assert.Len(t, sc.Units, 8*(cfg.GroupsPerCity+cfg.PersonsPerCity))

	w, err := sc.Build()
	require.NoError(t, err)
	for _, id := range w.CityIDs() {
		city, ok := w.City(id)
		require.True(t, ok)
		assert.LessOrEqual(t, w.Population(id), city.Capacity, "city %s starts over capacity", id)
		for name, v := range city.Factors {
			assert.True(t, v >= 0 && v <= 1, "factor %s of %s = %v, want normalized", name, id, v)
		}
		lon, lat := city.Position.Lon(), city.Position.Lat()
		assert.True(t, lon >= cfg.MinLon && lon <= cfg.MaxLon && lat >= cfg.MinLat && lat <= cfg.MaxLat,
			"city %s at (%v,%v) outside the bounding box", id, lon, lat)
	}
}

func TestGenerateDefaultConfigBuilds(t *testing.T) {
	sc, err := Generate(DefaultConfig())
	require.NoError(t, err)
	_, err = sc.Build()
	require.NoError(t, err)
}

func TestGenerateOneGroupPerProfile(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		for _, groups := range []int{2, 4, 7} {
			cfg := DefaultConfig()
			cfg.Cities = 6
			cfg.Seed = seed
			cfg.GroupsPerCity = groups
			sc, err := Generate(cfg)
			require.NoError(t, err)

			seen := make(map[string]bool)
			residents := make(map[string]int)
			for _, u := range sc.Units {
				residents[u.City] += max(u.Count, 1)
				if u.Kind != "group" {
					continue
				}
				key := u.City + "/" + u.Profile
				require.False(t, seen[key], "seed %d groups %d: %s hosts profile %s twice", seed, groups, u.City, u.Profile)
				seen[key] = true
			}
			for _, c := range sc.Cities {
				assert.LessOrEqual(t, residents[c.ID], c.Capacity, "seed %d: %s starts over capacity", seed, c.ID)
			}
			_, err = sc.Build()
			require.NoError(t, err, "seed %d groups %d", seed, groups)
		}
	}
}

func TestGenerateAlwaysBuilds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := DefaultConfig()
		cfg.Seed = rapid.Int64().Draw(t, "seed")
		cfg.Cities = rapid.IntRange(2, 12).Draw(t, "cities")
		cfg.GroupsPerCity = rapid.IntRange(0, 8).Draw(t, "groups")
		cfg.PersonsPerCity = rapid.IntRange(0, 3).Draw(t, "persons")
		cfg.Headroom = rapid.Float64Range(0, 2).Draw(t, "headroom")

		sc, err := Generate(cfg)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		w, err := sc.Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		if got := len(w.CityIDs()); got != cfg.Cities {
			t.Fatalf("cities = %d, want %d", got, cfg.Cities)
		}
	})
}

func TestGenerateIsDeterministic(t *testing.T) {
	encode := func(cfg Config) string {
		sc, err := Generate(cfg)
		require.NoError(t, err)
		var buf bytes.Buffer
		require.NoError(t, sc.Write(&buf))
		return buf.String()
	}
	cfg := DefaultConfig()
	assert.Equal(t, encode(cfg), encode(cfg))

	other := cfg
	other.Seed++
	assert.NotEqual(t, encode(cfg), encode(other))
}

func TestGenerateWithoutHeadroomIsUnlimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Headroom = 0
	sc, err := Generate(cfg)
	require.NoError(t, err)
	for _, c := range sc.Cities {
		assert.Zero(t, c.Capacity)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"one city":        func(c *Config) { c.Cities = 1 },
		"negative groups": func(c *Config) { c.GroupsPerCity = -1 },
		"empty groups":    func(c *Config) { c.MeanGroupSize = 0 },
		"empty box":       func(c *Config) { c.MaxLon = c.MinLon },
		"off the globe":   func(c *Config) { c.MaxLat = 95 },
		"zero frequency":  func(c *Config) { c.Frequency = 0 },
		"negative room":   func(c *Config) { c.Headroom = -0.1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			_, err := Generate(cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Generate error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestOctaveNoiseStaysNormalized(t *testing.T) {
	cfg := DefaultConfig()
	sc, err := Generate(cfg)
	require.NoError(t, err)
	for _, c := range sc.Cities {
		for _, f := range catalogue {
			raw := c.Factors[f.def.Name]
			assert.True(t, raw >= f.def.Min && raw <= f.def.Max, "%s raw %v outside [%v,%v]", f.def.Name, raw, f.def.Min, f.def.Max)
		}
	}
}

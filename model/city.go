package model

import "github.com/paulmach/orb"

// City is a passive data holder for one settlement. Residents are not
// stored here: the world arena tracks which units live in which city, and
// population is always derived from those residents.
type City struct {
	ID   string
	Name string

	// Position is a geographic point (longitude, latitude in degrees).
	Position orb.Point
	AreaKm2  float64

	// Capacity caps the resident population. Zero means unlimited.
	Capacity int

	// Factors holds one normalized intensity in [0,1] per known factor,
	// keyed by factor name.
	Factors map[string]float64
}

// Unlimited reports whether the city has no capacity cap.
func (c *City) Unlimited() bool {
	return c.Capacity <= 0
}

// Clone returns a deep copy of the city.
func (c *City) Clone() *City {
	if c == nil {
		return nil
	}
	out := *c
	out.Factors = make(map[string]float64, len(c.Factors))
	for k, v := range c.Factors {
		out.Factors[k] = v
	}
	return &out
}

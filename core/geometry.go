package core

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// EarthRadiusKm is the mean Earth radius (kilometres).
const EarthRadiusKm = 6371.0

// DistanceKm returns the great-circle (haversine) distance between two
// lon/lat points in kilometres.
func DistanceKm(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b) / 1000.0
}

// MigrationCost converts a distance into the cost term of the migration
// probability: cost = distance × baseCost.
func MigrationCost(a, b orb.Point, baseCost float64) float64 {
	if baseCost == 0 {
		return 0
	}
	return DistanceKm(a, b) * baseCost
}

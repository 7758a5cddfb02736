package core

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
)

func TestDistanceKm_SamePointIsZero(t *testing.T) {
	p := orb.Point{13.405, 52.52}
	if d := DistanceKm(p, p); d != 0 {
		t.Fatalf("DistanceKm(p, p) = %v, want 0", d)
	}
}

func TestDistanceKm_OneDegreeOfLongitudeAtEquator(t *testing.T) {
	// One degree along the equator is 2πR/360 ≈ 111.2 km.
	d := DistanceKm(orb.Point{0, 0}, orb.Point{1, 0})
	if math.Abs(d-111.2) > 0.5 {
		t.Fatalf("DistanceKm = %.3f km, want ≈111.2 km", d)
	}
}

func TestDistanceKm_Symmetric(t *testing.T) {
	berlin := orb.Point{13.405, 52.52}
	paris := orb.Point{2.3522, 48.8566}

	ab := DistanceKm(berlin, paris)
	ba := DistanceKm(paris, berlin)
	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("distance not symmetric: %v vs %v", ab, ba)
	}
	if ab < 850 || ab > 900 {
		t.Fatalf("Berlin–Paris = %.1f km, want roughly 878 km", ab)
	}
}

func TestMigrationCost_ZeroBaseCost(t *testing.T) {
	if c := MigrationCost(orb.Point{0, 0}, orb.Point{10, 10}, 0); c != 0 {
		t.Fatalf("MigrationCost with zero base cost = %v, want 0", c)
	}
}

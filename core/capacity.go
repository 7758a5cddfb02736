package core

import (
	"sort"

	"github.com/signalsfoundry/migration-simulator/model"
)

// RemainingCapacity returns capacity − population for a capped city.
// limited is false for unlimited cities, in which case remaining is
// meaningless.
func RemainingCapacity(city *model.City, population int) (remaining int, limited bool) {
	if city == nil || city.Unlimited() {
		return 0, false
	}
	return city.Capacity - population, true
}

// CapacityAllocator rescales inflows that would overfill a destination.
type CapacityAllocator struct{}

// Allocate scales flows that all target one destination. When the total
// decided inflow exceeds remaining, every flow is set to
// floor(decided × remaining / total), which is independent of flow order.
// A non-positive remaining capacity zeroes all inflows. It returns the
// number of people admitted.
func (CapacityAllocator) Allocate(flows []*model.MigrationFlow, remaining int, limited bool) int {
	var total int64
	for _, f := range flows {
		f.Migrants = f.Decided
		total += int64(f.Decided)
	}
	if !limited || total <= int64(remaining) {
		return int(total)
	}

	if remaining <= 0 {
		for _, f := range flows {
			f.Migrants = 0
		}
		return 0
	}

	admitted := 0
	for _, f := range flows {
		// Integer floor of decided·(remaining/total); exact, so no float
		// rounding can push the sum above remaining.
		f.Migrants = int(int64(f.Decided) * int64(remaining) / total)
		admitted += f.Migrants
	}
	return admitted
}

// AllocateAll groups flows by destination and allocates each group against
// the destination's remaining capacity in views. Destinations missing from
// views are treated as unlimited.
func (a CapacityAllocator) AllocateAll(flows []*model.MigrationFlow, views map[string]CityView) int {
	byDest := make(map[string][]*model.MigrationFlow)
	for _, f := range flows {
		byDest[f.DestinationID] = append(byDest[f.DestinationID], f)
	}
	dests := make([]string, 0, len(byDest))
	for id := range byDest {
		dests = append(dests, id)
	}
	sort.Strings(dests)

	admitted := 0
	for _, id := range dests {
		view, ok := views[id]
		remaining, limited := 0, false
		if ok {
			remaining, limited = RemainingCapacity(view.City, view.Population)
		}
		admitted += a.Allocate(byDest[id], remaining, limited)
	}
	return admitted
}

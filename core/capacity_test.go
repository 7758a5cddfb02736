package core

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/signalsfoundry/migration-simulator/model"
)

func flowsTo(dest string, decided ...int) []*model.MigrationFlow {
	out := make([]*model.MigrationFlow, len(decided))
	for i, d := range decided {
		out[i] = &model.MigrationFlow{
			OriginID:      string(rune('a' + i)),
			DestinationID: dest,
			UnitID:        string(rune('a'+i)) + "-unit",
			Decided:       d,
			Migrants:      d,
		}
	}
	return out
}

// Destination capacity 10, three origins each producing 20 raw migrants.
func TestCapacityAllocator_ScenarioB(t *testing.T) {
	flows := flowsTo("dest", 20, 20, 20)
	admitted := CapacityAllocator{}.Allocate(flows, 10, true)

	if admitted < 9 || admitted > 10 {
		t.Fatalf("admitted = %d, want 10 ± 1", admitted)
	}
	for _, f := range flows {
		if f.Migrants < 2 || f.Migrants > 4 {
			t.Fatalf("flow %s admitted %d, want ≈ 10/3", f.OriginID, f.Migrants)
		}
	}
}

func TestCapacityAllocator_ProportionalShares(t *testing.T) {
	flows := flowsTo("dest", 30, 10)
	CapacityAllocator{}.Allocate(flows, 20, true)
	if flows[0].Migrants != 15 || flows[1].Migrants != 5 {
		t.Fatalf("migrants = %d,%d, want 15,5", flows[0].Migrants, flows[1].Migrants)
	}
	if flows[0].Decided != 30 || flows[1].Decided != 10 {
		t.Fatalf("Decided was modified: %d,%d", flows[0].Decided, flows[1].Decided)
	}
}

func TestCapacityAllocator_UnderCapacityUntouched(t *testing.T) {
	flows := flowsTo("dest", 3, 4)
	if got := (CapacityAllocator{}).Allocate(flows, 7, true); got != 7 {
		t.Fatalf("admitted = %d, want 7", got)
	}
	if got := (CapacityAllocator{}).Allocate(flows, 0, false); got != 7 {
		t.Fatalf("unlimited admitted = %d, want 7", got)
	}
}

func TestCapacityAllocator_SaturatedDestinationAdmitsNobody(t *testing.T) {
	for _, remaining := range []int{0, -5} {
		flows := flowsTo("dest", 5, 6)
		if got := (CapacityAllocator{}).Allocate(flows, remaining, true); got != 0 {
			t.Fatalf("remaining=%d: admitted = %d, want 0", remaining, got)
		}
		for _, f := range flows {
			if f.Migrants != 0 {
				t.Fatalf("remaining=%d: flow %s admitted %d", remaining, f.OriginID, f.Migrants)
			}
		}
	}
}

func TestCapacityAllocator_NeverExceedsRemaining(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		decided := rapid.SliceOfN(rapid.IntRange(0, 10000), 0, 20).Draw(t, "decided")
		remaining := rapid.IntRange(-100, 50000).Draw(t, "remaining")

		flows := flowsTo("dest", decided...)
		admitted := CapacityAllocator{}.Allocate(flows, remaining, true)

		sum := 0
		for _, f := range flows {
			if f.Migrants < 0 || f.Migrants > f.Decided {
				t.Fatalf("flow admitted %d of %d", f.Migrants, f.Decided)
			}
			sum += f.Migrants
		}
		if sum != admitted {
			t.Fatalf("sum of migrants %d != admitted %d", sum, admitted)
		}
		if admitted > max(remaining, 0) {
			t.Fatalf("admitted %d exceeds remaining %d", admitted, remaining)
		}
	})
}

func TestCapacityAllocator_AllocateAllGroupsByDestination(t *testing.T) {
	capped := testCity("capped", 0, 0)
	capped.Capacity = 110
	open := testCity("open", 0, 0)

	flows := append(flowsTo("capped", 20, 20), flowsTo("open", 500)...)
	views := map[string]CityView{
		"capped": {City: capped, Population: 100},
		"open":   {City: open, Population: 1_000_000},
	}
	admitted := CapacityAllocator{}.AllocateAll(flows, views)
	if admitted != 510 {
		t.Fatalf("admitted = %d, want 510", admitted)
	}
	if flows[0].Migrants != 5 || flows[1].Migrants != 5 || flows[2].Migrants != 500 {
		t.Fatalf("migrants = %d,%d,%d, want 5,5,500", flows[0].Migrants, flows[1].Migrants, flows[2].Migrants)
	}
}

func TestRemainingCapacity(t *testing.T) {
	c := testCity("c", 0, 0)
	if _, limited := RemainingCapacity(c, 10); limited {
		t.Fatalf("zero capacity reported as limited")
	}
	c.Capacity = 25
	if got, limited := RemainingCapacity(c, 10); !limited || got != 15 {
		t.Fatalf("RemainingCapacity = %d,%v, want 15,true", got, limited)
	}
	if got, _ := RemainingCapacity(c, 30); got != -5 {
		t.Fatalf("over-full RemainingCapacity = %d, want -5", got)
	}
}

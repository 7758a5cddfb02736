package world

import (
	"fmt"
	"sort"

	"github.com/signalsfoundry/migration-simulator/model"
)

// AddUnit places a new unit into cityID. Groups sharing a profile with an
// existing resident group are merged into it; the returned id identifies the
// unit now holding the people.
func (w *World) AddUnit(cityID string, u *model.PopulationUnit) (string, error) {
	unlock, err := w.beginWrite()
	if err != nil {
		return "", err
	}
	defer unlock()

	if u == nil {
		return "", fmt.Errorf("%w: nil unit", ErrStructuralValidation)
	}
	candidate := u.Clone()
	candidate.CityID = cityID
	if err := w.validateUnit(candidate); err != nil {
		return "", err
	}
	owned := prepareUnit(candidate)

	c, _ := w.cell(cityID)
	c.mu.Lock()
	if owned.Kind != model.KindPerson {
		if existing, ok := c.groups[owned.ProfileID]; ok {
			existing.Count += owned.Size()
			c.mu.Unlock()
			w.notify(Event{Type: EventUnitAdded, CityID: cityID, UnitID: existing.ID, Count: owned.Size()})
			return existing.ID, nil
		}
	}

	w.mu.Lock()
	if _, dup := w.units[owned.ID]; dup {
		w.mu.Unlock()
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrUnitExists, owned.ID)
	}
	w.units[owned.ID] = owned
	w.mu.Unlock()

	c.residents[owned.ID] = owned
	if owned.Kind != model.KindPerson {
		c.groups[owned.ProfileID] = owned
	}
	c.mu.Unlock()

	w.notify(Event{Type: EventUnitAdded, CityID: cityID, UnitID: owned.ID, Count: owned.Size()})
	return owned.ID, nil
}

// RemoveUnit deletes a unit from the arena and from its city.
func (w *World) RemoveUnit(unitID string) error {
	unlock, err := w.beginWrite()
	if err != nil {
		return err
	}
	defer unlock()

	u, c, release, err := w.lockUnitCity(unitID, false)
	if err != nil {
		return err
	}
	cityID := u.CityID
	size := u.Size()
	delete(c.residents, u.ID)
	if g, ok := c.groups[u.ProfileID]; ok && g == u {
		delete(c.groups, u.ProfileID)
	}
	w.mu.Lock()
	delete(w.units, u.ID)
	w.mu.Unlock()
	release()

	w.notify(Event{Type: EventUnitRemoved, CityID: cityID, UnitID: unitID, Count: size})
	return nil
}

// Unit returns a copy of the unit with the given id.
func (w *World) Unit(unitID string) (model.PopulationUnit, bool) {
	u, _, release, err := w.lockUnitCity(unitID, true)
	if err != nil {
		return model.PopulationUnit{}, false
	}
	defer release()
	return *u.Clone(), true
}

// Residents returns copies of the units living in cityID, sorted by id.
func (w *World) Residents(cityID string) []model.PopulationUnit {
	c, ok := w.cell(cityID)
	if !ok {
		return nil
	}
	c.mu.RLock()
	out := make([]model.PopulationUnit, 0, len(c.residents))
	for _, u := range c.residents {
		out = append(out, *u.Clone())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// lockUnitCity locks the cell currently hosting unitID, re-checking after
// acquisition because the unit may migrate between lookup and lock.
func (w *World) lockUnitCity(unitID string, shared bool) (*model.PopulationUnit, *cell, func(), error) {
	for {
		w.mu.RLock()
		u, ok := w.units[unitID]
		var cityID string
		if ok {
			cityID = u.CityID
		}
		c := w.cells[cityID]
		w.mu.RUnlock()
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w: %q", ErrUnitNotFound, unitID)
		}

		var release func()
		if shared {
			c.mu.RLock()
			release = c.mu.RUnlock
		} else {
			c.mu.Lock()
			release = c.mu.Unlock
		}
		if c.residents[unitID] == u {
			return u, c, release, nil
		}
		release()
	}
}

// TransferResult reports where transferred people ended up.
type TransferResult struct {
	// UnitID is the unit holding the migrants at the destination.
	UnitID string
	Moved  int
	// Split is true when the migrants were carved out of (or merged from)
	// a group rather than relocating the unit itself.
	Split bool
}

// Transfer moves count people of unitID into destID.
//
// Persons relocate: their CityID changes and their id is preserved. Groups
// never relocate as a whole; the migrants join the destination's group of
// the same profile, or a new group whose id is derived from the profile and
// the destination. A group drained to zero stays in its origin city so it can
// be refilled later.
//
// Origin and destination cells are locked in ascending id order, so transfers
// touching disjoint city pairs proceed in parallel.
func (w *World) Transfer(unitID, destID string, count int) (TransferResult, error) {
	unlock, err := w.beginWrite()
	if err != nil {
		return TransferResult{}, err
	}
	defer unlock()

	if count <= 0 {
		return TransferResult{}, fmt.Errorf("%w: non-positive count %d", ErrInvalidTransfer, count)
	}
	dest, ok := w.cell(destID)
	if !ok {
		return TransferResult{}, fmt.Errorf("%w: %q", ErrCityNotFound, destID)
	}

	var (
		u      *model.PopulationUnit
		origin *cell
	)
	for {
		w.mu.RLock()
		cand, found := w.units[unitID]
		var originID string
		if found {
			originID = cand.CityID
		}
		orig := w.cells[originID]
		w.mu.RUnlock()
		if !found {
			return TransferResult{}, fmt.Errorf("%w: %q", ErrUnitNotFound, unitID)
		}
		if originID == destID {
			return TransferResult{}, fmt.Errorf("%w: unit %q already in %q", ErrInvalidTransfer, unitID, destID)
		}

		lockPair(orig, dest)
		if orig.residents[unitID] == cand {
			u, origin = cand, orig
			break
		}
		unlockPair(orig, dest)
	}

	originID := u.CityID
	if count > u.Size() {
		unlockPair(origin, dest)
		return TransferResult{}, fmt.Errorf("%w: unit %q has %d people, asked to move %d", ErrInvalidTransfer, unitID, u.Size(), count)
	}

	var res TransferResult
	switch {
	case u.Kind == model.KindPerson:
		delete(origin.residents, u.ID)
		w.mu.Lock()
		u.CityID = destID
		w.mu.Unlock()
		dest.residents[u.ID] = u
		res = TransferResult{UnitID: u.ID, Moved: 1}

	default:
		u.Count -= count
		target, ok := dest.groups[u.ProfileID]
		if ok {
			target.Count += count
		} else {
			target = u.Clone()
			target.Count = count
			w.mu.Lock()
			target.ID = w.derivedIDLocked(u.ProfileID, destID)
			target.CityID = destID
			w.units[target.ID] = target
			w.mu.Unlock()
			dest.residents[target.ID] = target
			dest.groups[target.ProfileID] = target
		}
		res = TransferResult{UnitID: target.ID, Moved: count, Split: true}
	}
	unlockPair(origin, dest)

	w.notify(Event{
		Type:          EventUnitTransferred,
		CityID:        originID,
		DestinationID: destID,
		UnitID:        res.UnitID,
		Count:         count,
	})
	return res, nil
}

// derivedIDLocked returns the first free id of the form profile@city,
// profile@city#2, ... Callers hold w.mu.
func (w *World) derivedIDLocked(profileID, cityID string) string {
	base := profileID + "@" + cityID
	if _, taken := w.units[base]; !taken {
		return base
	}
	for n := 2; ; n++ {
		id := fmt.Sprintf("%s#%d", base, n)
		if _, taken := w.units[id]; !taken {
			return id
		}
	}
}

func lockPair(a, b *cell) {
	first, second := a, b
	if b.city.ID < a.city.ID {
		first, second = b, a
	}
	first.mu.Lock()
	second.mu.Lock()
}

func unlockPair(a, b *cell) {
	a.mu.Unlock()
	b.mu.Unlock()
}

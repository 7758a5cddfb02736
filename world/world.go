package world

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/signalsfoundry/migration-simulator/model"
)

var (
	// ErrStructuralValidation indicates a world violates a structural invariant
	// (for example a city missing an intensity for a known factor).
	ErrStructuralValidation = errors.New("structural validation failed")
	ErrCityNotFound         = errors.New("city not found")
	ErrUnitNotFound         = errors.New("population unit not found")
	ErrUnitExists           = errors.New("population unit already exists")
	ErrUnknownFactor        = errors.New("unknown factor")
	ErrInvalidTransfer      = errors.New("invalid transfer")
	// ErrWorldClosed is returned by writers after Close.
	ErrWorldClosed = errors.New("world is closed")
)

// EventType indicates what kind of change happened in the world.
type EventType int

const (
	EventUnitAdded EventType = iota
	EventUnitRemoved
	EventUnitTransferred
	EventFactorUpdated
)

// Event is emitted to subscribers after a mutation has been committed.
type Event struct {
	Type          EventType
	CityID        string
	DestinationID string
	UnitID        string
	Count         int
	Factor        string
	Value         float64
}

// cell owns one city's mutable state. Writers take mu exclusively; readers
// enumerating residents take it shared.
type cell struct {
	mu        sync.RWMutex
	city      *model.City
	residents map[string]*model.PopulationUnit
	// groups maps a profile id to the resident group carrying it, so that
	// migrants of the same profile merge instead of fragmenting.
	groups map[string]*model.PopulationUnit
}

// World is the in-memory, concurrency-safe arena of cities and population
// units.
//
// Lock ordering: cell locks (ascending city id) before w.mu. w.mu guards the
// unit arena, unit CityID fields and the city index; it is never held while
// acquiring a cell lock.
type World struct {
	mu sync.RWMutex

	factors     []*model.FactorDefinition
	factorIndex map[string]*model.FactorDefinition
	rules       map[string]model.FeedbackRule

	cells   map[string]*cell
	cityIDs []string
	units   map[string]*model.PopulationUnit

	// closeMu is held shared by every writer for the duration of its
	// mutation; Close takes it exclusively to drain them.
	closeMu sync.RWMutex
	closed  bool

	subMu  sync.Mutex
	subs   map[int]func(Event)
	nextID int
}

// New validates and assembles a world. Every city must carry exactly one
// intensity in [0,1] per factor; units must reference known cities and
// factors. Violations wrap ErrStructuralValidation.
func New(factors []*model.FactorDefinition, rules []model.FeedbackRule, cities []*model.City, units []*model.PopulationUnit) (*World, error) {
	w := &World{
		factorIndex: make(map[string]*model.FactorDefinition, len(factors)),
		rules:       make(map[string]model.FeedbackRule, len(rules)),
		cells:       make(map[string]*cell, len(cities)),
		units:       make(map[string]*model.PopulationUnit, len(units)),
		subs:        make(map[int]func(Event)),
	}

	for _, f := range factors {
		if f == nil || f.Name == "" {
			return nil, fmt.Errorf("%w: factor with empty name", ErrStructuralValidation)
		}
		if _, dup := w.factorIndex[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate factor %q", ErrStructuralValidation, f.Name)
		}
		w.factorIndex[f.Name] = f
		w.factors = append(w.factors, f)
	}
	sort.Slice(w.factors, func(i, j int) bool { return w.factors[i].Name < w.factors[j].Name })

	for _, r := range rules {
		if _, ok := w.factorIndex[r.Factor]; !ok {
			return nil, fmt.Errorf("%w: feedback rule for %w %q", ErrStructuralValidation, ErrUnknownFactor, r.Factor)
		}
		w.rules[r.Factor] = r
	}

	for _, c := range cities {
		if err := w.validateCity(c); err != nil {
			return nil, err
		}
		w.cells[c.ID] = &cell{
			city:      c.Clone(),
			residents: make(map[string]*model.PopulationUnit),
			groups:    make(map[string]*model.PopulationUnit),
		}
		w.cityIDs = append(w.cityIDs, c.ID)
	}
	sort.Strings(w.cityIDs)

	for _, u := range units {
		if err := w.validateUnit(u); err != nil {
			return nil, err
		}
		if _, dup := w.units[u.ID]; dup {
			return nil, fmt.Errorf("%w: %w: %q", ErrStructuralValidation, ErrUnitExists, u.ID)
		}
		owned := prepareUnit(u)
		c := w.cells[owned.CityID]
		if owned.Kind != model.KindPerson {
			if existing, ok := c.groups[owned.ProfileID]; ok {
				return nil, fmt.Errorf("%w: city %q already hosts profile %q as unit %q",
					ErrStructuralValidation, owned.CityID, owned.ProfileID, existing.ID)
			}
			c.groups[owned.ProfileID] = owned
		}
		c.residents[owned.ID] = owned
		w.units[owned.ID] = owned
	}

	return w, nil
}

func (w *World) validateCity(c *model.City) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: city with empty id", ErrStructuralValidation)
	}
	if _, dup := w.cells[c.ID]; dup {
		return fmt.Errorf("%w: duplicate city %q", ErrStructuralValidation, c.ID)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("%w: city %q has negative capacity", ErrStructuralValidation, c.ID)
	}
	for _, f := range w.factors {
		v, ok := c.Factors[f.Name]
		if !ok {
			return fmt.Errorf("%w: city %q has no intensity for factor %q", ErrStructuralValidation, c.ID, f.Name)
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: city %q factor %q intensity %v outside [0,1]", ErrStructuralValidation, c.ID, f.Name, v)
		}
	}
	for name := range c.Factors {
		if _, ok := w.factorIndex[name]; !ok {
			return fmt.Errorf("%w: city %q: %w %q", ErrStructuralValidation, c.ID, ErrUnknownFactor, name)
		}
	}
	return nil
}

func (w *World) validateUnit(u *model.PopulationUnit) error {
	if u == nil || u.ID == "" {
		return fmt.Errorf("%w: unit with empty id", ErrStructuralValidation)
	}
	if _, ok := w.cells[u.CityID]; !ok {
		return fmt.Errorf("%w: unit %q: %w: %q", ErrStructuralValidation, u.ID, ErrCityNotFound, u.CityID)
	}
	if u.Kind != model.KindPerson && u.Count < 0 {
		return fmt.Errorf("%w: unit %q has negative count", ErrStructuralValidation, u.ID)
	}
	if u.Kind == model.KindCustom && u.Custom == nil {
		return fmt.Errorf("%w: custom unit %q has no profile", ErrStructuralValidation, u.ID)
	}
	for name, v := range u.EffectiveSensitivities() {
		if _, ok := w.factorIndex[name]; !ok {
			return fmt.Errorf("%w: unit %q sensitivity: %w %q", ErrStructuralValidation, u.ID, ErrUnknownFactor, name)
		}
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: unit %q sensitivity %q = %v outside [0,1]", ErrStructuralValidation, u.ID, name, v)
		}
	}
	t := u.EffectiveTraits()
	for name, v := range map[string]float64{
		"moving_willingness":        t.MovingWillingness,
		"retention_rate":            t.RetentionRate,
		"sensitivity_scaling":       t.SensitivityScaling,
		"attraction_threshold":      t.AttractionThreshold,
		"min_acceptable_attraction": t.MinAcceptableAttraction,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("%w: unit %q %s = %v outside [0,1]", ErrStructuralValidation, u.ID, name, v)
		}
	}
	return nil
}

// prepareUnit copies u into arena-owned storage and fills derived defaults.
func prepareUnit(u *model.PopulationUnit) *model.PopulationUnit {
	owned := u.Clone()
	if owned.Kind == model.KindPerson {
		owned.Count = 1
	}
	if owned.ProfileID == "" {
		owned.ProfileID = owned.ID
	}
	return owned
}

//
// ---------- Factors & rules ----------
//

// Factors returns the factor definitions sorted by name. Definitions are
// immutable and shared; callers must not modify them.
func (w *World) Factors() []*model.FactorDefinition {
	out := make([]*model.FactorDefinition, len(w.factors))
	copy(out, w.factors)
	return out
}

// Factor returns the definition with the given name.
func (w *World) Factor(name string) (*model.FactorDefinition, bool) {
	f, ok := w.factorIndex[name]
	return f, ok
}

// Rules returns one feedback rule per factor, sorted by factor name. Factors
// without an explicit rule get FeedbackNone.
func (w *World) Rules() []model.FeedbackRule {
	out := make([]model.FeedbackRule, 0, len(w.factors))
	for _, f := range w.factors {
		r, ok := w.rules[f.Name]
		if !ok {
			r = model.FeedbackRule{Factor: f.Name, Policy: model.FeedbackNone}
		}
		out = append(out, r)
	}
	return out
}

//
// ---------- Cities ----------
//

// CityIDs returns all city ids in ascending order.
func (w *World) CityIDs() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.cityIDs))
	copy(out, w.cityIDs)
	return out
}

func (w *World) cell(id string) (*cell, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.cells[id]
	return c, ok
}

// City returns a copy of the city's current state.
func (w *World) City(id string) (*model.City, bool) {
	c, ok := w.cell(id)
	if !ok {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.city.Clone(), true
}

// Population returns the sum of resident counts for the city. It is derived
// on every call; unknown cities report zero.
func (w *World) Population(cityID string) int {
	c, ok := w.cell(cityID)
	if !ok {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.populationLocked()
}

func (c *cell) populationLocked() int {
	total := 0
	for _, u := range c.residents {
		total += u.Size()
	}
	return total
}

// TotalPopulation sums Population over all cities.
func (w *World) TotalPopulation() int {
	total := 0
	for _, id := range w.CityIDs() {
		total += w.Population(id)
	}
	return total
}

// FactorIntensity returns the city's intensity for factor, if defined.
func (w *World) FactorIntensity(cityID, factor string) (float64, bool) {
	c, ok := w.cell(cityID)
	if !ok {
		return 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.city.Factors[factor]
	return v, ok
}

// UpdateFactorIntensity writes a new intensity, clamped to [0,1].
func (w *World) UpdateFactorIntensity(cityID, factor string, value float64) error {
	unlock, err := w.beginWrite()
	if err != nil {
		return err
	}
	defer unlock()

	if _, ok := w.factorIndex[factor]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFactor, factor)
	}
	c, ok := w.cell(cityID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrCityNotFound, cityID)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("factor %q on city %q: non-finite intensity %v", factor, cityID, value)
	}
	value = model.Clamp01(value)

	c.mu.Lock()
	c.city.Factors[factor] = value
	c.mu.Unlock()

	w.notify(Event{Type: EventFactorUpdated, CityID: cityID, Factor: factor, Value: value})
	return nil
}

// CityState is a read-only copy of one city at a point in time.
type CityState struct {
	City       *model.City
	Population int
	// Units are resident copies sorted by id.
	Units []model.PopulationUnit
}

// Snapshot captures every city (ascending id) with its residents. Each city
// is captured atomically; the snapshot as a whole is consistent as long as
// no writer runs concurrently, which the step pipeline guarantees.
func (w *World) Snapshot() []CityState {
	ids := w.CityIDs()
	out := make([]CityState, 0, len(ids))
	for _, id := range ids {
		c, ok := w.cell(id)
		if !ok {
			continue
		}
		c.mu.RLock()
		st := CityState{
			City:       c.city.Clone(),
			Population: c.populationLocked(),
			Units:      make([]model.PopulationUnit, 0, len(c.residents)),
		}
		for _, u := range c.residents {
			st.Units = append(st.Units, *u.Clone())
		}
		c.mu.RUnlock()
		sort.Slice(st.Units, func(i, j int) bool { return st.Units[i].ID < st.Units[j].ID })
		out = append(out, st)
	}
	return out
}

//
// ---------- Subscriptions ----------
//

// Subscribe registers a callback for committed changes. Callbacks run on the
// mutating goroutine, outside any world lock.
func (w *World) Subscribe(fn func(Event)) (unsubscribe func()) {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	id := w.nextID
	w.nextID++
	w.subs[id] = fn
	return func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		delete(w.subs, id)
	}
}

func (w *World) notify(ev Event) {
	w.subMu.Lock()
	if len(w.subs) == 0 {
		w.subMu.Unlock()
		return
	}
	ids := make([]int, 0, len(w.subs))
	for id := range w.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, w.subs[id])
	}
	w.subMu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

//
// ---------- Lifecycle ----------
//

func (w *World) beginWrite() (func(), error) {
	w.closeMu.RLock()
	if w.closed {
		w.closeMu.RUnlock()
		return nil, ErrWorldClosed
	}
	return w.closeMu.RUnlock, nil
}

// Close waits for in-flight writers to finish and rejects further writes.
// Reads remain valid. Close is idempotent.
func (w *World) Close() {
	w.closeMu.Lock()
	defer w.closeMu.Unlock()
	w.closed = true
}

// Closed reports whether Close has been called.
func (w *World) Closed() bool {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	return w.closed
}

package domain

import (
	"fmt"
	"iter"
	"sort"
	"sync"
)

// Store is the sparse, dual-indexed aggregation of units keyed by
// (exposure, object). A Store is immutable; WithReplacements derives new
// stores that alias every untouched unit.
type Store struct {
	objects ObjectTable
	units   map[Key]*Unit
	keys    []Key
	filters map[ExposureID]FilterID

	viewsOnce  sync.Once
	byExposure ExposureIndex
	byObject   ObjectIndex
}

// NewStore validates units against the object table and indexes them.
func NewStore(objects ObjectTable, units ...*Unit) (*Store, error) {
	s := &Store{
		objects: objects,
		units:   make(map[Key]*Unit, len(units)),
		keys:    make([]Key, 0, len(units)),
		filters: make(map[ExposureID]FilterID),
	}
	for _, u := range units {
		if u == nil {
			return nil, fmt.Errorf("store: nil unit")
		}
		key := u.Key()
		if _, dup := s.units[key]; dup {
			return nil, fmt.Errorf("store: duplicate unit %s", key)
		}
		if err := s.checkUnit(u); err != nil {
			return nil, err
		}
		if f, ok := s.filters[key.Exposure]; ok && f != u.Filter() {
			return nil, fmt.Errorf("store: exposure %s mixes filters %s and %s", key.Exposure, f, u.Filter())
		}
		s.filters[key.Exposure] = u.Filter()
		s.units[key] = u
		s.keys = append(s.keys, key)
	}
	sort.Slice(s.keys, func(i, j int) bool { return s.keys[i].Less(s.keys[j]) })
	return s, nil
}

func (s *Store) checkUnit(u *Unit) error {
	rec, ok := s.objects.Get(u.ObjectID())
	if !ok {
		return fmt.Errorf("store: unit %s: object outside object table", u.Key())
	}
	if rec != u.Object() {
		return fmt.Errorf("store: unit %s: object record is not the table's record", u.Key())
	}
	for id := range u.neighbors {
		if !s.objects.Has(id) {
			return fmt.Errorf("store: unit %s: %w: neighbor %s outside object table", u.Key(), ErrNeighborInvariant, id)
		}
	}
	return nil
}

// Objects returns the canonical object table.
func (s *Store) Objects() ObjectTable { return s.objects }

// Len returns the number of units.
func (s *Store) Len() int { return len(s.keys) }

// Keys returns every key in exposure-then-object order.
func (s *Store) Keys() []Key { return append([]Key(nil), s.keys...) }

// Exposures returns the exposure ids present in the store, sorted.
func (s *Store) Exposures() []ExposureID { return s.ByExposure().IDs() }

// ExposureFilter returns the filter shared by the units of an exposure.
func (s *Store) ExposureFilter(id ExposureID) (FilterID, bool) {
	f, ok := s.filters[id]
	return f, ok
}

// Get returns the unit for one pair. Absent pairs yield KeyNotFoundError.
func (s *Store) Get(exposure ExposureID, object ObjectID) (*Unit, error) {
	key := Key{Exposure: exposure, Object: object}
	u, ok := s.units[key]
	if !ok {
		return nil, KeyNotFoundError{Key: key}
	}
	return u, nil
}

// Lookup is Get addressed by key.
func (s *Store) Lookup(key Key) (*Unit, error) {
	return s.Get(key.Exposure, key.Object)
}

// All iterates every unit in key order.
func (s *Store) All() iter.Seq2[Key, *Unit] {
	return s.Filtered(nil)
}

// Filtered lazily yields the units matching pred in key order. A nil
// predicate matches everything.
func (s *Store) Filtered(pred func(Key, *Unit) bool) iter.Seq2[Key, *Unit] {
	return func(yield func(Key, *Unit) bool) {
		for _, key := range s.keys {
			u := s.units[key]
			if pred != nil && !pred(key, u) {
				continue
			}
			if !yield(key, u) {
				return
			}
		}
	}
}

// ByFilter matches units observed through filter.
func ByFilter(filter FilterID) func(Key, *Unit) bool {
	return func(_ Key, u *Unit) bool { return u.Filter() == filter }
}

// Blended matches units that still list unresolved neighbors.
func Blended() func(Key, *Unit) bool {
	return func(_ Key, u *Unit) bool { return u.NeighborCount() > 0 }
}

// ByExposure returns the exposure-major view.
func (s *Store) ByExposure() ExposureIndex {
	s.buildViews()
	return s.byExposure
}

// ByObject returns the object-major view.
func (s *Store) ByObject() ObjectIndex {
	s.buildViews()
	return s.byObject
}

func (s *Store) buildViews() {
	s.viewsOnce.Do(func() {
		perExposure := make(map[ExposureID]map[ObjectID]*Unit)
		perObject := make(map[ObjectID]map[ExposureID]*Unit)
		for _, key := range s.keys {
			u := s.units[key]
			if perExposure[key.Exposure] == nil {
				perExposure[key.Exposure] = make(map[ObjectID]*Unit)
			}
			perExposure[key.Exposure][key.Object] = u
			if perObject[key.Object] == nil {
				perObject[key.Object] = make(map[ExposureID]*Unit)
			}
			perObject[key.Object][key.Exposure] = u
		}
		exposures := ExposureIndex{slices: make(map[ExposureID]ExposureSlice, len(perExposure))}
		for id, units := range perExposure {
			exposures.slices[id] = newExposureSlice(id, s.filters[id], s.objects, units)
			exposures.ids = append(exposures.ids, id)
		}
		sortIDs(exposures.ids)
		objects := ObjectIndex{objects: s.objects, slices: make(map[ObjectID]ObjectSlice, len(perObject))}
		for id, units := range perObject {
			rec, _ := s.objects.Get(id)
			objects.slices[id] = newObjectSlice(rec, units)
			objects.ids = append(objects.ids, id)
		}
		sortIDs(objects.ids)
		s.byExposure = exposures
		s.byObject = objects
	})
}

// WithReplacements returns a new store in which the given keys map to new
// units. Every other key aliases the receiver's unit. Replacement keys must
// already exist and match the replacement unit's own key, and replacement
// neighbors must name objects of the table.
func (s *Store) WithReplacements(replacements map[Key]*Unit) (*Store, error) {
	if len(replacements) == 0 {
		return s, nil
	}
	for key, u := range replacements {
		if _, ok := s.units[key]; !ok {
			return nil, KeyNotFoundError{Key: key}
		}
		if u == nil {
			return nil, fmt.Errorf("store: nil replacement for %s", key)
		}
		if u.Key() != key {
			return nil, fmt.Errorf("store: replacement for %s is unit %s", key, u.Key())
		}
		if u.Filter() != s.filters[key.Exposure] {
			return nil, fmt.Errorf("store: replacement for %s changes filter to %s", key, u.Filter())
		}
		if err := s.checkUnit(u); err != nil {
			return nil, err
		}
	}
	next := &Store{
		objects: s.objects,
		units:   make(map[Key]*Unit, len(s.units)),
		keys:    s.keys,
		filters: s.filters,
	}
	for key, u := range s.units {
		next.units[key] = u
	}
	for key, u := range replacements {
		next.units[key] = u
	}
	return next, nil
}

func sortIDs[T ~string](ids []T) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

package domain

import (
	"fmt"
	"iter"
)

// ExposureSlice is every unit observed in one exposure, keyed by object.
type ExposureSlice struct {
	exposure ExposureID
	filter   FilterID
	objects  ObjectTable
	units    map[ObjectID]*Unit
	ids      []ObjectID
}

func newExposureSlice(exposure ExposureID, filter FilterID, objects ObjectTable, units map[ObjectID]*Unit) ExposureSlice {
	ids := make([]ObjectID, 0, len(units))
	for id := range units {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ExposureSlice{exposure: exposure, filter: filter, objects: objects, units: units, ids: ids}
}

// Exposure returns the exposure id.
func (e ExposureSlice) Exposure() ExposureID { return e.exposure }

// Filter returns the filter shared by every unit of the exposure.
func (e ExposureSlice) Filter() FilterID { return e.filter }

// Objects returns the object table used to resolve neighbors.
func (e ExposureSlice) Objects() ObjectTable { return e.objects }

// Get returns the unit of one object.
func (e ExposureSlice) Get(id ObjectID) (*Unit, bool) {
	u, ok := e.units[id]
	return u, ok
}

// IDs returns the object ids in ascending order.
func (e ExposureSlice) IDs() []ObjectID { return append([]ObjectID(nil), e.ids...) }

// Len returns the number of units.
func (e ExposureSlice) Len() int { return len(e.ids) }

// All iterates units in object order.
func (e ExposureSlice) All() iter.Seq2[ObjectID, *Unit] {
	return func(yield func(ObjectID, *Unit) bool) {
		for _, id := range e.ids {
			if !yield(id, e.units[id]) {
				return
			}
		}
	}
}

// WithReplacements returns a slice in which the given objects map to new
// units; the rest alias the receiver's units.
func (e ExposureSlice) WithReplacements(replacements map[ObjectID]*Unit) (ExposureSlice, error) {
	if len(replacements) == 0 {
		return e, nil
	}
	units := make(map[ObjectID]*Unit, len(e.units))
	for id, u := range e.units {
		units[id] = u
	}
	for id, u := range replacements {
		key := Key{Exposure: e.exposure, Object: id}
		if _, ok := e.units[id]; !ok {
			return ExposureSlice{}, KeyNotFoundError{Key: key}
		}
		if u == nil {
			return ExposureSlice{}, fmt.Errorf("exposure %s: nil replacement for %s", e.exposure, id)
		}
		if u.Key() != key {
			return ExposureSlice{}, fmt.Errorf("exposure %s: replacement for %s is unit %s", e.exposure, id, u.Key())
		}
		units[id] = u
	}
	return ExposureSlice{exposure: e.exposure, filter: e.filter, objects: e.objects, units: units, ids: e.ids}, nil
}

// ObjectSlice is every unit observing one object, keyed by exposure.
type ObjectSlice struct {
	object *ObjectRecord
	units  map[ExposureID]*Unit
	ids    []ExposureID
}

func newObjectSlice(object *ObjectRecord, units map[ExposureID]*Unit) ObjectSlice {
	ids := make([]ExposureID, 0, len(units))
	for id := range units {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ObjectSlice{object: object, units: units, ids: ids}
}

// Object returns the shared object record.
func (o ObjectSlice) Object() *ObjectRecord { return o.object }

// ID returns the object id.
func (o ObjectSlice) ID() ObjectID {
	if o.object == nil {
		return ""
	}
	return o.object.ID()
}

// Get returns the unit observed in one exposure.
func (o ObjectSlice) Get(id ExposureID) (*Unit, bool) {
	u, ok := o.units[id]
	return u, ok
}

// IDs returns the exposure ids in ascending order.
func (o ObjectSlice) IDs() []ExposureID { return append([]ExposureID(nil), o.ids...) }

// Len returns the number of units.
func (o ObjectSlice) Len() int { return len(o.ids) }

// All iterates units in exposure order.
func (o ObjectSlice) All() iter.Seq2[ExposureID, *Unit] {
	return o.ByFilter("")
}

// ByFilter iterates the units observed through filter. An empty filter
// matches every unit.
func (o ObjectSlice) ByFilter(filter FilterID) iter.Seq2[ExposureID, *Unit] {
	return func(yield func(ExposureID, *Unit) bool) {
		for _, id := range o.ids {
			u := o.units[id]
			if filter != "" && u.Filter() != filter {
				continue
			}
			if !yield(id, u) {
				return
			}
		}
	}
}

// Filters returns the distinct filters observing the object, sorted.
func (o ObjectSlice) Filters() []FilterID {
	seen := make(map[FilterID]struct{})
	var out []FilterID
	for _, id := range o.ids {
		f := o.units[id].Filter()
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sortIDs(out)
	return out
}

// ExposureIndex is the exposure-major view of a store.
type ExposureIndex struct {
	slices map[ExposureID]ExposureSlice
	ids    []ExposureID
}

// Get returns the slice of one exposure.
func (x ExposureIndex) Get(id ExposureID) (ExposureSlice, bool) {
	s, ok := x.slices[id]
	return s, ok
}

// IDs returns exposure ids in ascending order.
func (x ExposureIndex) IDs() []ExposureID { return append([]ExposureID(nil), x.ids...) }

// Len returns the number of exposures.
func (x ExposureIndex) Len() int { return len(x.ids) }

// All iterates exposure slices in id order.
func (x ExposureIndex) All() iter.Seq2[ExposureID, ExposureSlice] {
	return func(yield func(ExposureID, ExposureSlice) bool) {
		for _, id := range x.ids {
			if !yield(id, x.slices[id]) {
				return
			}
		}
	}
}

// ObjectIndex is the object-major view of a store.
type ObjectIndex struct {
	objects ObjectTable
	slices  map[ObjectID]ObjectSlice
	ids     []ObjectID
}

// Objects returns the object table backing the view.
func (x ObjectIndex) Objects() ObjectTable { return x.objects }

// Get returns the slice of one object.
func (x ObjectIndex) Get(id ObjectID) (ObjectSlice, bool) {
	s, ok := x.slices[id]
	return s, ok
}

// IDs returns object ids in ascending order.
func (x ObjectIndex) IDs() []ObjectID { return append([]ObjectID(nil), x.ids...) }

// Len returns the number of observed objects.
func (x ObjectIndex) Len() int { return len(x.ids) }

// All iterates object slices in id order.
func (x ObjectIndex) All() iter.Seq2[ObjectID, ObjectSlice] {
	return func(yield func(ObjectID, ObjectSlice) bool) {
		for _, id := range x.ids {
			if !yield(id, x.slices[id]) {
				return
			}
		}
	}
}

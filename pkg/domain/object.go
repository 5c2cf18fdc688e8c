// Package domain defines the observation data model shared by deblenders and
// fitters: object records, per-exposure-per-object units, pixel payloads and
// the dual-indexed aggregation store.
package domain

import (
	"fmt"
	"sort"
	"strings"
)

// ObjectID identifies one astronomical source.
type ObjectID string

// ExposureID identifies one complete image readout.
type ExposureID string

// FilterID identifies the bandpass an exposure was taken through.
type FilterID string

// Key addresses a single unit within a Store.
type Key struct {
	Exposure ExposureID `json:"exposure_id"`
	Object   ObjectID   `json:"object_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Exposure, k.Object)
}

// Less orders keys by exposure first, then object.
func (k Key) Less(other Key) bool {
	if k.Exposure == other.Exposure {
		return k.Object < other.Object
	}
	return k.Exposure < other.Exposure
}

// SkyCoord is a position on the sky in degrees.
type SkyCoord struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// SkyBox is a footprint descriptor expressed as an RA/Dec box in degrees.
type SkyBox struct {
	RAMin  float64 `json:"ra_min"`
	RAMax  float64 `json:"ra_max"`
	DecMin float64 `json:"dec_min"`
	DecMax float64 `json:"dec_max"`
}

// Empty reports whether the box covers no area.
func (b SkyBox) Empty() bool {
	return b.RAMax <= b.RAMin || b.DecMax <= b.DecMin
}

// Contains reports whether c lies within the box.
func (b SkyBox) Contains(c SkyCoord) bool {
	return c.RA >= b.RAMin && c.RA <= b.RAMax && c.Dec >= b.DecMin && c.Dec <= b.DecMax
}

// Overlaps reports whether two boxes share any area.
func (b SkyBox) Overlaps(other SkyBox) bool {
	if b.Empty() || other.Empty() {
		return false
	}
	return b.RAMin < other.RAMax && other.RAMin < b.RAMax && b.DecMin < other.DecMax && other.DecMin < b.DecMax
}

// ObjectRecord carries identity, footprint and warm-start payloads for one
// object. Records are immutable and shared by pointer between every unit that
// observes the object.
type ObjectRecord struct {
	id        ObjectID
	sky       SkyBox
	centroid  SkyCoord
	warmStart map[string]AlgorithmResult
}

// NewObjectRecord validates and constructs an object record. Warm-start
// results are keyed by algorithm name and must describe the same object.
func NewObjectRecord(id ObjectID, sky SkyBox, centroid SkyCoord, warmStart map[string]AlgorithmResult) (*ObjectRecord, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, fmt.Errorf("object id required")
	}
	if sky.Empty() {
		return nil, fmt.Errorf("object %s: sky region is empty", id)
	}
	rec := &ObjectRecord{id: id, sky: sky, centroid: centroid}
	if len(warmStart) > 0 {
		rec.warmStart = make(map[string]AlgorithmResult, len(warmStart))
		for name, result := range warmStart {
			if result == nil {
				return nil, fmt.Errorf("object %s: warm start %q is nil", id, name)
			}
			if result.ObjectID() != id {
				return nil, fmt.Errorf("object %s: warm start %q describes object %s", id, name, result.ObjectID())
			}
			rec.warmStart[name] = result
		}
	}
	return rec, nil
}

// ID returns the object identifier.
func (r *ObjectRecord) ID() ObjectID { return r.id }

// SkyRegion returns the object's sky footprint.
func (r *ObjectRecord) SkyRegion() SkyBox { return r.sky }

// Centroid returns the object's sky position.
func (r *ObjectRecord) Centroid() SkyCoord { return r.centroid }

// WarmStart returns the prior result produced by the named algorithm.
func (r *ObjectRecord) WarmStart(algorithm string) (AlgorithmResult, bool) {
	res, ok := r.warmStart[algorithm]
	return res, ok
}

// WarmStartAlgorithms lists the algorithms with warm-start payloads, sorted.
func (r *ObjectRecord) WarmStartAlgorithms() []string {
	out := make([]string, 0, len(r.warmStart))
	for name := range r.warmStart {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ObjectTable is the canonical object universe. Units refer to neighbors by
// id and resolve them here.
type ObjectTable struct {
	records map[ObjectID]*ObjectRecord
	ids     []ObjectID
}

// NewObjectTable indexes records by id, rejecting nil and duplicate entries.
func NewObjectTable(records ...*ObjectRecord) (ObjectTable, error) {
	table := ObjectTable{records: make(map[ObjectID]*ObjectRecord, len(records))}
	for _, rec := range records {
		if rec == nil {
			return ObjectTable{}, fmt.Errorf("object table: nil record")
		}
		if _, dup := table.records[rec.id]; dup {
			return ObjectTable{}, fmt.Errorf("object table: duplicate object %s", rec.id)
		}
		table.records[rec.id] = rec
		table.ids = append(table.ids, rec.id)
	}
	sort.Slice(table.ids, func(i, j int) bool { return table.ids[i] < table.ids[j] })
	return table, nil
}

// Get resolves an object id.
func (t ObjectTable) Get(id ObjectID) (*ObjectRecord, bool) {
	rec, ok := t.records[id]
	return rec, ok
}

// Has reports whether id belongs to the universe.
func (t ObjectTable) Has(id ObjectID) bool {
	_, ok := t.records[id]
	return ok
}

// IDs returns every object id in ascending order.
func (t ObjectTable) IDs() []ObjectID {
	return append([]ObjectID(nil), t.ids...)
}

// Len returns the number of records.
func (t ObjectTable) Len() int { return len(t.ids) }

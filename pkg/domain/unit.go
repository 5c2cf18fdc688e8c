package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// PixelRequest describes the cutout a unit needs from the exposure backend.
// Backends serve the intersection of SkyRegion and Region.
type PixelRequest struct {
	Exposure  ExposureID
	Filter    FilterID
	Object    ObjectID
	SkyRegion SkyBox
	Region    Region
}

// PixelSource is the read contract of the exposure image backend. It must be
// safe for concurrent use by many units.
type PixelSource interface {
	Fetch(ctx context.Context, req PixelRequest) (*Pixels, error)
}

// PixelSourceFunc adapts a function to PixelSource.
type PixelSourceFunc func(ctx context.Context, req PixelRequest) (*Pixels, error)

// Fetch calls f.
func (f PixelSourceFunc) Fetch(ctx context.Context, req PixelRequest) (*Pixels, error) {
	return f(ctx, req)
}

// SeparationState tracks how far deblending has progressed for a unit chain.
type SeparationState string

const (
	StateUnsealed           SeparationState = "unsealed"
	StatePartiallySeparated SeparationState = "partially_separated"
	StateSeparated          SeparationState = "separated"
)

// UnitSpec carries the inputs the harness combines into a unit. Filter is
// always explicit.
type UnitSpec struct {
	Object    *ObjectRecord
	Exposure  ExposureID
	Filter    FilterID
	Region    Region
	Neighbors []ObjectID
	Source    PixelSource
}

// Unit is one object observed in one exposure. Its pixel fields are loaded
// lazily and exactly once by Realize; deblenders derive new units through
// Revise rather than mutating existing ones.
type Unit struct {
	object    *ObjectRecord
	exposure  ExposureID
	filter    FilterID
	region    Region
	neighbors map[ObjectID]struct{}
	source    PixelSource

	origin           *Unit
	depth            int
	initialNeighbors int

	mu     sync.Mutex
	pixels atomic.Pointer[Pixels]
}

// NewUnit validates a spec and returns an unrealized unit.
func NewUnit(spec UnitSpec) (*Unit, error) {
	if spec.Object == nil {
		return nil, fmt.Errorf("unit: object record required")
	}
	if strings.TrimSpace(string(spec.Exposure)) == "" {
		return nil, fmt.Errorf("unit %s: exposure id required", spec.Object.ID())
	}
	if strings.TrimSpace(string(spec.Filter)) == "" {
		return nil, fmt.Errorf("unit %s/%s: filter id required", spec.Exposure, spec.Object.ID())
	}
	neighbors := make(map[ObjectID]struct{}, len(spec.Neighbors))
	for _, id := range spec.Neighbors {
		if id == spec.Object.ID() {
			return nil, fmt.Errorf("unit %s/%s: %w: object lists itself as neighbor", spec.Exposure, id, ErrNeighborInvariant)
		}
		neighbors[id] = struct{}{}
	}
	u := &Unit{
		object:           spec.Object,
		exposure:         spec.Exposure,
		filter:           spec.Filter,
		region:           spec.Region,
		neighbors:        neighbors,
		source:           spec.Source,
		initialNeighbors: len(neighbors),
	}
	u.origin = u
	return u, nil
}

// MustUnit is NewUnit for fixtures; it panics on invalid specs.
func MustUnit(spec UnitSpec) *Unit {
	u, err := NewUnit(spec)
	if err != nil {
		panic(err)
	}
	return u
}

// Object returns the shared object record.
func (u *Unit) Object() *ObjectRecord { return u.object }

// ObjectID returns the observed object's id.
func (u *Unit) ObjectID() ObjectID { return u.object.ID() }

// Exposure returns the exposure id.
func (u *Unit) Exposure() ExposureID { return u.exposure }

// Filter returns the exposure's filter.
func (u *Unit) Filter() FilterID { return u.filter }

// Key returns the store key of the unit.
func (u *Unit) Key() Key { return Key{Exposure: u.exposure, Object: u.object.ID()} }

// Region returns the pixels considered relevant to the unit.
func (u *Unit) Region() Region { return u.region }

// Neighbors returns the ids of overlapping objects, sorted.
func (u *Unit) Neighbors() []ObjectID {
	out := make([]ObjectID, 0, len(u.neighbors))
	for id := range u.neighbors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HasNeighbor reports whether id is still listed as an unresolved neighbor.
func (u *Unit) HasNeighbor(id ObjectID) bool {
	_, ok := u.neighbors[id]
	return ok
}

// NeighborCount returns the number of unresolved neighbors.
func (u *Unit) NeighborCount() int { return len(u.neighbors) }

// NeighborRecords resolves neighbor ids through the object table.
func (u *Unit) NeighborRecords(table ObjectTable) ([]*ObjectRecord, error) {
	ids := u.Neighbors()
	out := make([]*ObjectRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := table.Get(id)
		if !ok {
			return nil, fmt.Errorf("unit %s: %w: neighbor %s outside object table", u.Key(), ErrNeighborInvariant, id)
		}
		out = append(out, rec)
	}
	return out, nil
}

// State reports the separation state relative to the start of the chain.
func (u *Unit) State() SeparationState {
	n := len(u.neighbors)
	switch {
	case n == 0:
		return StateSeparated
	case n < u.initialNeighbors:
		return StatePartiallySeparated
	default:
		return StateUnsealed
	}
}

// Origin returns the first unit of the revision chain.
func (u *Unit) Origin() *Unit { return u.origin }

// Lineage returns the number of revisions between the origin and u.
func (u *Unit) Lineage() int { return u.depth }

// Realized reports whether the pixel payload is available.
func (u *Unit) Realized() bool { return u.pixels.Load() != nil }

// Realize loads the pixel payload from the unit's source. The first call
// fetches; later and concurrent calls observe the same payload without
// fetching again. A failed fetch leaves the unit unrealized.
func (u *Unit) Realize(ctx context.Context) error {
	if u.pixels.Load() != nil {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.pixels.Load() != nil {
		return nil
	}
	if u.source == nil {
		return fmt.Errorf("unit %s: no pixel source", u.Key())
	}
	px, err := u.source.Fetch(ctx, PixelRequest{
		Exposure:  u.exposure,
		Filter:    u.filter,
		Object:    u.object.ID(),
		SkyRegion: u.object.SkyRegion(),
		Region:    u.region,
	})
	if err != nil {
		return fmt.Errorf("realize %s: %w", u.Key(), err)
	}
	if err := px.Validate(); err != nil {
		return fmt.Errorf("realize %s: %w", u.Key(), err)
	}
	u.pixels.Store(px)
	return nil
}

// Pixels returns the realized payload. Callers must treat it as read-only;
// use Revise to derive modified pixels.
func (u *Unit) Pixels() (*Pixels, error) {
	px := u.pixels.Load()
	if px == nil {
		return nil, MissingRealizationError{Key: u.Key()}
	}
	return px, nil
}

// Image returns the realized image plane.
func (u *Unit) Image() (*Plane, error) {
	px := u.pixels.Load()
	if px == nil {
		return nil, MissingRealizationError{Key: u.Key(), Field: "image"}
	}
	return px.Image, nil
}

// Mask returns the realized mask plane.
func (u *Unit) Mask() (*MaskPlane, error) {
	px := u.pixels.Load()
	if px == nil {
		return nil, MissingRealizationError{Key: u.Key(), Field: "mask"}
	}
	return px.Mask, nil
}

// Variance returns the realized variance plane.
func (u *Unit) Variance() (*Plane, error) {
	px := u.pixels.Load()
	if px == nil {
		return nil, MissingRealizationError{Key: u.Key(), Field: "variance"}
	}
	return px.Variance, nil
}

// LocalWCS returns the realized local coordinate mapping.
func (u *Unit) LocalWCS() (*AffineWCS, error) {
	px := u.pixels.Load()
	if px == nil {
		return nil, MissingRealizationError{Key: u.Key(), Field: "local_wcs"}
	}
	return px.WCS, nil
}

// LocalPSF returns the realized PSF model.
func (u *Unit) LocalPSF() (*SampledPSF, error) {
	px := u.pixels.Load()
	if px == nil {
		return nil, MissingRealizationError{Key: u.Key(), Field: "local_psf"}
	}
	return px.PSF, nil
}

// LocalTransmission returns the realized transmission curve.
func (u *Unit) LocalTransmission() (*Transmission, error) {
	px := u.pixels.Load()
	if px == nil {
		return nil, MissingRealizationError{Key: u.Key(), Field: "local_transmission"}
	}
	return px.Transmission, nil
}

// Revision stages the edits a deblender applies to one unit.
type Revision struct {
	unit      *Unit
	pixels    *Pixels
	region    Region
	neighbors map[ObjectID]struct{}
}

// Unit returns the unit being revised.
func (r *Revision) Unit() *Unit { return r.unit }

// Pixels returns a private, writable copy of the unit's payload. The unit
// must be realized.
func (r *Revision) Pixels() (*Pixels, error) {
	if r.pixels != nil {
		return r.pixels, nil
	}
	px, err := r.unit.Pixels()
	if err != nil {
		return nil, err
	}
	r.pixels = px.Clone()
	return r.pixels, nil
}

// Region returns the staged region.
func (r *Revision) Region() Region { return r.region }

// ShrinkRegion replaces the staged region with a subset of it.
func (r *Revision) ShrinkRegion(region Region) error {
	if !r.region.ContainsRegion(region) {
		return fmt.Errorf("unit %s: %w", r.unit.Key(), ErrRegionGrowth)
	}
	r.region = region
	return nil
}

// Neighbors returns the staged neighbor ids, sorted.
func (r *Revision) Neighbors() []ObjectID {
	out := make([]ObjectID, 0, len(r.neighbors))
	for id := range r.neighbors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DropNeighbor records that the neighbor's contribution has been handled.
func (r *Revision) DropNeighbor(id ObjectID) error {
	if _, ok := r.neighbors[id]; !ok {
		return fmt.Errorf("unit %s: %w: %s is not a neighbor", r.unit.Key(), ErrNeighborInvariant, id)
	}
	delete(r.neighbors, id)
	return nil
}

// Revise derives a new unit from u. The callback stages pixel, region and
// neighbor edits; when nothing observable changed, u itself is returned.
func (u *Unit) Revise(fn func(*Revision) error) (*Unit, error) {
	rev := &Revision{
		unit:      u,
		region:    u.region,
		neighbors: make(map[ObjectID]struct{}, len(u.neighbors)),
	}
	for id := range u.neighbors {
		rev.neighbors[id] = struct{}{}
	}
	if err := fn(rev); err != nil {
		return nil, err
	}
	current := u.pixels.Load()
	pixelsChanged := rev.pixels != nil && !rev.pixels.Equal(current)
	if pixelsChanged {
		if err := rev.pixels.Validate(); err != nil {
			return nil, fmt.Errorf("revise %s: %w", u.Key(), err)
		}
	}
	if !pixelsChanged && rev.region.Equal(u.region) && len(rev.neighbors) == len(u.neighbors) {
		return u, nil
	}
	next := &Unit{
		object:           u.object,
		exposure:         u.exposure,
		filter:           u.filter,
		region:           rev.region,
		neighbors:        rev.neighbors,
		source:           u.source,
		origin:           u.origin,
		depth:            u.depth + 1,
		initialNeighbors: u.initialNeighbors,
	}
	switch {
	case pixelsChanged:
		next.pixels.Store(rev.pixels)
	case current != nil:
		next.pixels.Store(current)
	}
	return next, nil
}

// Package testhelper builds synthetic aggregation stores for plugin tests.
package testhelper

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"blendcore/pkg/domain"
)

// SceneWCS maps pixel (x, y) to (RA 10 + x/4, Dec y/4).
var SceneWCS = domain.AffineWCS{CRVal: [2]float64{10, 0}, CD: [2][2]float64{{0.25, 0}, {0, 0.25}}}

// Source is a circular Gaussian object placed in pixel coordinates.
type Source struct {
	ID    domain.ObjectID
	X, Y  float64
	Flux  float64
	Sigma float64

	// HalfSize is the footprint half width in pixels.
	HalfSize float64
}

// Footprint returns the source's sky box.
func (s Source) Footprint() domain.SkyBox {
	lo := SceneWCS.PixelToSky(s.X-s.HalfSize, s.Y-s.HalfSize)
	hi := SceneWCS.PixelToSky(s.X+s.HalfSize, s.Y+s.HalfSize)
	return domain.SkyBox{RAMin: lo.RA, RAMax: hi.RA, DecMin: lo.Dec, DecMax: hi.Dec}
}

// Exposure is one synthetic frame. Objects lists the sources it observes;
// empty means all.
type Exposure struct {
	ID         domain.ExposureID
	Filter     domain.FilterID
	Background float32
	Objects    []domain.ObjectID

	// MaskBits is set on every pixel of the frame mask.
	MaskBits uint32
}

// Scene renders sources into square frames of Size pixels.
type Scene struct {
	Size      int
	Sources   []Source
	Exposures []Exposure
}

// Render returns the full frame of an exposure: every source plus the
// background, unit variance and a mask carrying e.MaskBits.
func (s Scene) Render(e Exposure) *domain.Pixels {
	box := domain.Box{X0: 0, Y0: 0, X1: s.Size, Y1: s.Size}
	image := domain.NewPlane(box)
	variance := domain.NewPlane(box)
	for y := 0; y < s.Size; y++ {
		for x := 0; x < s.Size; x++ {
			v := float64(e.Background)
			for _, src := range s.Sources {
				if !e.observes(src.ID) || src.Sigma <= 0 {
					continue
				}
				dx, dy := float64(x)-src.X, float64(y)-src.Y
				v += src.Flux / (2 * math.Pi * src.Sigma * src.Sigma) * math.Exp(-(dx*dx+dy*dy)/(2*src.Sigma*src.Sigma))
			}
			image.Set(x, y, float32(v))
			variance.Set(x, y, 1)
		}
	}
	mask := domain.NewMaskPlane(box)
	if e.MaskBits != 0 {
		for i := range mask.Bits {
			mask.Bits[i] = e.MaskBits
		}
	}
	wcs := SceneWCS
	kernel := domain.NewPlane(domain.Box{X0: -1, Y0: -1, X1: 2, Y1: 2})
	kernel.Set(0, 0, 1)
	return &domain.Pixels{
		Image:        image,
		Mask:         mask,
		Variance:     variance,
		WCS:          &wcs,
		PSF:          &domain.SampledPSF{Wavelengths: []float64{600}, Kernels: []domain.Plane{*kernel}},
		Transmission: &domain.Transmission{Wavelengths: []float64{500, 700}, Throughput: []float64{0.9, 0.9}},
	}
}

func (e Exposure) observes(id domain.ObjectID) bool {
	if len(e.Objects) == 0 {
		return true
	}
	for _, o := range e.Objects {
		if o == id {
			return true
		}
	}
	return false
}

// FrameSource implements domain.PixelSource over rendered scene frames.
type FrameSource struct {
	frames map[domain.ExposureID]*domain.Pixels
	Calls  atomic.Int32
}

// Fetch cuts the unit region's bounding box out of the exposure frame.
func (f *FrameSource) Fetch(_ context.Context, req domain.PixelRequest) (*domain.Pixels, error) {
	f.Calls.Add(1)
	frame, ok := f.frames[req.Exposure]
	if !ok {
		return nil, fmt.Errorf("no frame for %s", req.Exposure)
	}
	box := req.Region.BBox().Intersect(frame.Image.Box)
	out := frame.Clone()
	out.Image, out.Variance = domain.NewPlane(box), domain.NewPlane(box)
	out.Mask = domain.NewMaskPlane(box)
	for y := box.Y0; y < box.Y1; y++ {
		for x := box.X0; x < box.X1; x++ {
			v, _ := frame.Image.At(x, y)
			out.Image.Set(x, y, v)
			v, _ = frame.Variance.At(x, y)
			out.Variance.Set(x, y, v)
			bits, _ := frame.Mask.At(x, y)
			out.Mask.Or(x, y, bits)
		}
	}
	return out, nil
}

// Build renders the frames and returns the store with unrealized units.
// Each unit's region is its footprint clipped to the frame; two sources are
// neighbors in an exposure when their footprints overlap there.
func (s Scene) Build() (*domain.Store, *FrameSource, error) {
	src := &FrameSource{frames: make(map[domain.ExposureID]*domain.Pixels, len(s.Exposures))}
	frameBox := domain.Box{X0: 0, Y0: 0, X1: s.Size, Y1: s.Size}
	records := make([]*domain.ObjectRecord, 0, len(s.Sources))
	byID := make(map[domain.ObjectID]*domain.ObjectRecord, len(s.Sources))
	for _, so := range s.Sources {
		rec, err := domain.NewObjectRecord(so.ID, so.Footprint(), SceneWCS.PixelToSky(so.X, so.Y), nil)
		if err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
		byID[so.ID] = rec
	}
	table, err := domain.NewObjectTable(records...)
	if err != nil {
		return nil, nil, err
	}
	var units []*domain.Unit
	for _, e := range s.Exposures {
		src.frames[e.ID] = s.Render(e)
		boxes := make(map[domain.ObjectID]domain.Box)
		for _, so := range s.Sources {
			if !e.observes(so.ID) {
				continue
			}
			box, err := SceneWCS.SkyBoxToPixels(so.Footprint())
			if err != nil {
				return nil, nil, err
			}
			boxes[so.ID] = box.Intersect(frameBox)
		}
		for _, so := range s.Sources {
			own, ok := boxes[so.ID]
			if !ok {
				continue
			}
			var neighbors []domain.ObjectID
			for _, other := range s.Sources {
				if ob, ok := boxes[other.ID]; ok && other.ID != so.ID && !own.Intersect(ob).Empty() {
					neighbors = append(neighbors, other.ID)
				}
			}
			u, err := domain.NewUnit(domain.UnitSpec{
				Object:    byID[so.ID],
				Exposure:  e.ID,
				Filter:    e.Filter,
				Region:    domain.BoxRegion(own),
				Neighbors: neighbors,
				Source:    src,
			})
			if err != nil {
				return nil, nil, err
			}
			units = append(units, u)
		}
	}
	store, err := domain.NewStore(table, units...)
	if err != nil {
		return nil, nil, err
	}
	return store, src, nil
}

// MustBuild is Build for tests.
func MustBuild(t testing.TB, s Scene) (*domain.Store, *FrameSource) {
	t.Helper()
	store, src, err := s.Build()
	if err != nil {
		t.Fatalf("build scene: %v", err)
	}
	return store, src
}

// RealizeAll realizes every unit of store.
func RealizeAll(t testing.TB, store *domain.Store) {
	t.Helper()
	for key, u := range store.All() {
		if err := u.Realize(context.Background()); err != nil {
			t.Fatalf("realize %s: %v", key, err)
		}
	}
}

// Blend returns a two-exposure scene: A and B overlap in both exposures, C
// is isolated.
func Blend() Scene {
	return Scene{
		Size: 32,
		Sources: []Source{
			{ID: "A", X: 10, Y: 12, Flux: 400, Sigma: 1.5, HalfSize: 4},
			{ID: "B", X: 15, Y: 12, Flux: 200, Sigma: 1.5, HalfSize: 4},
			{ID: "C", X: 25, Y: 25, Flux: 100, Sigma: 1, HalfSize: 3},
		},
		Exposures: []Exposure{
			{ID: "E1", Filter: "r", Background: 2},
			{ID: "E2", Filter: "g", Background: 1},
		},
	}
}

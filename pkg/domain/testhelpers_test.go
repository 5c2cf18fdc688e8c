package domain

import (
	"context"
	"sync/atomic"
	"testing"
)

// mustNoError simplifies tests that expect helper methods to succeed.
func mustNoError(t *testing.T, label string, err error) {
	t.Helper()
	if err != nil {
		if label == "" {
			t.Fatalf("unexpected error: %v", err)
		}
		t.Fatalf("%s: %v", label, err)
	}
}

func testObject(t *testing.T, id ObjectID) *ObjectRecord {
	t.Helper()
	rec, err := NewObjectRecord(id, SkyBox{RAMin: 10, RAMax: 10.01, DecMin: -5, DecMax: -4.99}, SkyCoord{RA: 10.005, Dec: -4.995}, nil)
	mustNoError(t, "new object", err)
	return rec
}

func testTable(t *testing.T, recs ...*ObjectRecord) ObjectTable {
	t.Helper()
	table, err := NewObjectTable(recs...)
	mustNoError(t, "new table", err)
	return table
}

func testPixels(box Box) *Pixels {
	variance := NewPlane(box)
	for i := range variance.Data {
		variance.Data[i] = 1
	}
	image := NewPlane(box)
	for i := range image.Data {
		image.Data[i] = float32(i)
	}
	return &Pixels{
		Image:    image,
		Mask:     NewMaskPlane(box),
		Variance: variance,
		WCS:      &AffineWCS{CRPix: [2]float64{0, 0}, CRVal: [2]float64{10, -5}, CD: [2][2]float64{{0.001, 0}, {0, 0.001}}},
		PSF: &SampledPSF{
			Wavelengths: []float64{500},
			Kernels:     []Plane{*NewPlane(Box{X0: -1, Y0: -1, X1: 2, Y1: 2})},
		},
		Transmission: &Transmission{Wavelengths: []float64{400, 600}, Throughput: []float64{0.5, 0.9}},
	}
}

// countingSource serves testPixels for the request's region bounding box and
// counts fetches. When gate is non-nil every fetch waits for it to close.
type countingSource struct {
	calls atomic.Int32
	gate  chan struct{}
	fail  error
}

func (s *countingSource) Fetch(ctx context.Context, req PixelRequest) (*Pixels, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail != nil {
		return nil, s.fail
	}
	box := req.Region.BBox()
	if box.Empty() {
		box = Box{X0: 0, Y0: 0, X1: 4, Y1: 4}
	}
	return testPixels(box), nil
}

func testUnit(t *testing.T, rec *ObjectRecord, exposure ExposureID, filter FilterID, src PixelSource, neighbors ...ObjectID) *Unit {
	t.Helper()
	u, err := NewUnit(UnitSpec{
		Object:    rec,
		Exposure:  exposure,
		Filter:    filter,
		Region:    BoxRegion(Box{X0: 0, Y0: 0, X1: 4, Y1: 4}),
		Neighbors: neighbors,
		Source:    src,
	})
	mustNoError(t, "new unit", err)
	return u
}

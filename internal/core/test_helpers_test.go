package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"blendcore/pkg/domain"
	"blendcore/pkg/pipelineapi"
	"blendcore/pkg/resultapi"
)

var errBoom = errors.New("boom")

func mustNoError(t *testing.T, label string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", label, err)
	}
}

// stubSource serves a 4x4 payload whose image counts up from base and counts
// fetches.
type stubSource struct {
	calls atomic.Int32
	fail  error
}

func (s *stubSource) Fetch(_ context.Context, req domain.PixelRequest) (*domain.Pixels, error) {
	s.calls.Add(1)
	if s.fail != nil {
		return nil, s.fail
	}
	box := req.Region.BBox()
	image := domain.NewPlane(box)
	variance := domain.NewPlane(box)
	for i := range image.Data {
		image.Data[i] = 1
		variance.Data[i] = 0.5
	}
	return &domain.Pixels{
		Image:    image,
		Mask:     domain.NewMaskPlane(box),
		Variance: variance,
		WCS:      &domain.AffineWCS{CRVal: [2]float64{10, -5}, CD: [2][2]float64{{0.001, 0}, {0, 0.001}}},
		PSF: &domain.SampledPSF{
			Wavelengths: []float64{500},
			Kernels:     []domain.Plane{*domain.NewPlane(domain.Box{X0: -1, Y0: -1, X1: 2, Y1: 2})},
		},
		Transmission: &domain.Transmission{Wavelengths: []float64{400, 600}, Throughput: []float64{0.5, 0.9}},
	}, nil
}

type fixture struct {
	objects domain.ObjectTable
	store   *domain.Store
	source  *stubSource
}

// newFixture builds E1 (r) observing O1, O2, O3 and E2 (g) observing O1, O3.
// O2 and O3 are blended in E1 only.
func newFixture(t *testing.T) fixture {
	t.Helper()
	return buildFixture(t, "O1", "O3")
}

// newGridFixture is newFixture with E2 observing all three objects.
func newGridFixture(t *testing.T) fixture {
	t.Helper()
	return buildFixture(t, "O1", "O2", "O3")
}

func buildFixture(t *testing.T, inE2 ...domain.ObjectID) fixture {
	t.Helper()
	var recs []*domain.ObjectRecord
	for i, id := range []domain.ObjectID{"O1", "O2", "O3"} {
		ra := 10 + float64(i)*0.01
		rec, err := domain.NewObjectRecord(id,
			domain.SkyBox{RAMin: ra, RAMax: ra + 0.004, DecMin: -5, DecMax: -4.996},
			domain.SkyCoord{RA: ra + 0.002, Dec: -4.998}, nil)
		mustNoError(t, "new object", err)
		recs = append(recs, rec)
	}
	objects, err := domain.NewObjectTable(recs...)
	mustNoError(t, "new table", err)

	src := &stubSource{}
	unit := func(rec *domain.ObjectRecord, exposure domain.ExposureID, filter domain.FilterID, neighbors ...domain.ObjectID) *domain.Unit {
		u, err := domain.NewUnit(domain.UnitSpec{
			Object:    rec,
			Exposure:  exposure,
			Filter:    filter,
			Region:    domain.BoxRegion(domain.Box{X0: 0, Y0: 0, X1: 4, Y1: 4}),
			Neighbors: neighbors,
			Source:    src,
		})
		mustNoError(t, "new unit", err)
		return u
	}
	units := []*domain.Unit{
		unit(recs[0], "E1", "r"),
		unit(recs[1], "E1", "r", "O3"),
		unit(recs[2], "E1", "r", "O2"),
	}
	for _, id := range inE2 {
		rec, ok := objects.Get(id)
		if !ok {
			t.Fatalf("unknown object %s", id)
		}
		units = append(units, unit(rec, "E2", "g"))
	}
	store, err := domain.NewStore(objects, units...)
	mustNoError(t, "new store", err)
	return fixture{objects: objects, store: store, source: src}
}

func mustUnit(t *testing.T, store *domain.Store, exposure domain.ExposureID, object domain.ObjectID) *domain.Unit {
	t.Helper()
	u, err := store.Get(exposure, object)
	mustNoError(t, "get unit", err)
	return u
}

// maskDeblender flags the first pixel of every blended unit as neighbor
// contaminated and drops all neighbors.
type maskDeblender struct {
	pipelineapi.Options
	fail  map[domain.ExposureID]error
	calls atomic.Int32
}

func (*maskDeblender) Name() string { return "mask" }

func (*maskDeblender) Capability() pipelineapi.Capability { return pipelineapi.CapabilityPerUnit }

func (d *maskDeblender) DeblendExposure(ctx context.Context, slice domain.ExposureSlice) (domain.ExposureSlice, error) {
	d.calls.Add(1)
	if err := d.fail[slice.Exposure()]; err != nil {
		return slice, err
	}
	replacements := make(map[domain.ObjectID]*domain.Unit)
	for id, u := range slice.All() {
		if u.NeighborCount() == 0 {
			continue
		}
		if err := u.Realize(ctx); err != nil {
			return slice, err
		}
		next, err := u.Revise(func(r *domain.Revision) error {
			px, err := r.Pixels()
			if err != nil {
				return err
			}
			px.Mask.Or(px.Mask.Box.X0, px.Mask.Box.Y0, domain.MaskNeighbor)
			for _, n := range r.Neighbors() {
				if err := r.DropNeighbor(n); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return slice, err
		}
		replacements[id] = next
	}
	return slice.WithReplacements(replacements)
}

// funcJointDeblender adapts a function to a joint deblender.
type funcJointDeblender struct {
	pipelineapi.Options
	fn func(context.Context, *domain.Store) (*domain.Store, error)
}

func (funcJointDeblender) Name() string { return "joint" }

func (funcJointDeblender) Capability() pipelineapi.Capability { return pipelineapi.CapabilityJoint }

func (d funcJointDeblender) DeblendJoint(ctx context.Context, store *domain.Store) (*domain.Store, error) {
	return d.fn(ctx, store)
}

// funcExposureDeblender adapts a function to a per-exposure deblender.
type funcExposureDeblender struct {
	fn func(context.Context, domain.ExposureSlice) (domain.ExposureSlice, error)
}

func (funcExposureDeblender) Name() string { return "exposure" }

func (funcExposureDeblender) Capability() pipelineapi.Capability {
	return pipelineapi.CapabilityPerUnit
}

func (d funcExposureDeblender) DeblendExposure(ctx context.Context, slice domain.ExposureSlice) (domain.ExposureSlice, error) {
	return d.fn(ctx, slice)
}

func fluxSchema() domain.Schema {
	return domain.Schema{
		{Name: "flux", Type: domain.TypeFloat64, Unit: "count"},
		{Name: "n_exposures", Type: domain.TypeInt32},
	}
}

// fluxFitter sums the image of every realized unit of an object.
type fluxFitter struct {
	pipelineapi.Options
	fail    map[domain.ObjectID]error
	wrongID map[domain.ObjectID]domain.ObjectID
	partial map[domain.ObjectID]bool
}

func (*fluxFitter) Name() string { return "flux" }

func (*fluxFitter) Capability() pipelineapi.Capability { return pipelineapi.CapabilityPerUnit }

func (f *fluxFitter) FitObject(_ context.Context, object domain.ObjectSlice) (domain.AlgorithmResult, error) {
	id := object.ID()
	if err := f.fail[id]; err != nil {
		return nil, err
	}
	var flux float64
	for _, u := range object.All() {
		img, err := u.Image()
		if err != nil {
			return nil, err
		}
		for _, v := range img.Data {
			flux += float64(v)
		}
	}
	values := map[string]any{"flux": flux, "n_exposures": object.Len()}
	if f.partial[id] {
		delete(values, "flux")
	}
	reported := id
	if other, ok := f.wrongID[id]; ok {
		reported = other
	}
	return resultapi.Static{
		Base:   resultapi.Base{ID: reported, Sky: object.Object().SkyRegion()},
		Fields: fluxSchema(),
		Values: values,
	}, nil
}

// funcJointFitter adapts a function to a joint fitter.
type funcJointFitter struct {
	pipelineapi.Options
	fn func(context.Context, domain.ObjectIndex) (map[domain.ObjectID]domain.AlgorithmResult, error)
}

func (funcJointFitter) Name() string { return "joint_fit" }

func (funcJointFitter) Capability() pipelineapi.Capability { return pipelineapi.CapabilityJoint }

func (f funcJointFitter) FitJoint(ctx context.Context, index domain.ObjectIndex) (map[domain.ObjectID]domain.AlgorithmResult, error) {
	return f.fn(ctx, index)
}

func staticResult(id domain.ObjectID) domain.AlgorithmResult {
	return resultapi.Static{
		Base:   resultapi.Base{ID: id},
		Fields: fluxSchema(),
		Values: map[string]any{"flux": 1.0, "n_exposures": 1},
	}
}

var collect = pipelineapi.Options{pipelineapi.FailurePolicyOption: string(pipelineapi.PolicyCollect)}

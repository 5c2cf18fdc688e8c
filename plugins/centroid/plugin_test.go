package centroid

import (
	"context"
	"errors"
	"math"
	"testing"

	"blendcore/pkg/domain"
	"blendcore/pkg/pipelineapi"
	"blendcore/pkg/resultapi"
	"blendcore/plugins/testhelper"
)

type fakeRegistry struct {
	fitters []pipelineapi.FitterFactory
}

func (r *fakeRegistry) RegisterRule(domain.Rule) {}
func (r *fakeRegistry) RegisterDeblender(pipelineapi.DeblenderFactory) error {
	return errors.New("unexpected deblender")
}
func (r *fakeRegistry) RegisterFitter(f pipelineapi.FitterFactory) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if err := resultapi.ValidateSchema(f.Schema); err != nil {
		return err
	}
	r.fitters = append(r.fitters, f)
	return nil
}

func newFitter(t *testing.T, options map[string]any) *Fitter {
	t.Helper()
	reg := &fakeRegistry{}
	if err := New().Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	opts, err := pipelineapi.ValidateOptions(reg.fitters[0].Options, options)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	f, err := reg.fitters[0].New(opts)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return f.(*Fitter)
}

func object(t *testing.T, store *domain.Store, id domain.ObjectID) domain.ObjectSlice {
	t.Helper()
	slice, ok := store.ByObject().Get(id)
	if !ok {
		t.Fatalf("object %s missing", id)
	}
	return slice
}

func TestFitObjectMeasuresIsolatedSource(t *testing.T) {
	store, _ := testhelper.MustBuild(t, testhelper.Blend())
	testhelper.RealizeAll(t, store)

	res, err := newFitter(t, nil).FitObject(context.Background(), object(t, store, "C"))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if err := resultapi.Validate(res); err != nil {
		t.Fatalf("result does not conform: %v", err)
	}
	values := res.AsDict()
	// 7x7 footprint: source flux plus 49 pixels of background 2 (r) and 1 (g).
	if flux := values["flux"].(float64); flux < 170 || flux > 176 {
		t.Fatalf("unexpected mean flux %v", flux)
	}
	c := values["centroid"].(map[string]any)
	want := testhelper.SceneWCS.PixelToSky(25, 25)
	if math.Abs(c["ra"].(float64)-want.RA) > 1e-6 || math.Abs(c["dec"].(float64)-want.Dec) > 1e-6 {
		t.Fatalf("centroid %v, want %+v", c, want)
	}
	if values["n_exposures"] != int32(2) || values["n_pixels"] != int64(98) {
		t.Fatalf("unexpected counts %v %v", values["n_exposures"], values["n_pixels"])
	}
}

func TestFitObjectFilterOption(t *testing.T) {
	store, _ := testhelper.MustBuild(t, testhelper.Blend())
	testhelper.RealizeAll(t, store)
	res, err := newFitter(t, map[string]any{"filter": "g"}).FitObject(context.Background(), object(t, store, "C"))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if res.AsDict()["n_exposures"] != int32(1) {
		t.Fatalf("expected one g exposure, got %v", res.AsDict()["n_exposures"])
	}
	if _, err := newFitter(t, map[string]any{"filter": "z"}).FitObject(context.Background(), object(t, store, "C")); !errors.Is(err, ErrNoPixels) {
		t.Fatalf("expected ErrNoPixels for an unobserved filter, got %v", err)
	}
}

func TestFitObjectSkipsNeighborPixels(t *testing.T) {
	store, _ := testhelper.MustBuild(t, testhelper.Blend())
	testhelper.RealizeAll(t, store)
	a, err := store.Get("E1", "A")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	masked, err := a.Revise(func(r *domain.Revision) error {
		px, err := r.Pixels()
		if err != nil {
			return err
		}
		for y := px.Mask.Box.Y0; y < px.Mask.Box.Y1; y++ {
			px.Mask.Or(12, y, domain.MaskNeighbor)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	after, err := store.WithReplacements(map[domain.Key]*domain.Unit{a.Key(): masked})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}

	excl, err := newFitter(t, map[string]any{"filter": "r"}).FitObject(context.Background(), object(t, after, "A"))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	incl, err := newFitter(t, map[string]any{"filter": "r", "exclude_neighbors": false}).FitObject(context.Background(), object(t, after, "A"))
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if got, want := excl.AsDict()["n_pixels"].(int64)+9, incl.AsDict()["n_pixels"].(int64); got != want {
		t.Fatalf("expected one masked column of 9 pixels, got %d vs %d", got, want)
	}
}

func TestFitObjectRequiresRealizedUnits(t *testing.T) {
	store, _ := testhelper.MustBuild(t, testhelper.Blend())
	_, err := newFitter(t, nil).FitObject(context.Background(), object(t, store, "A"))
	if !errors.Is(err, domain.ErrMissingRealization) {
		t.Fatalf("expected ErrMissingRealization, got %v", err)
	}
}

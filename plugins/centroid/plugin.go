// Package centroid contributes an independent fitter that measures
// aperture flux and a flux-weighted centroid per object.
package centroid

import (
	"context"
	"errors"
	"fmt"
	"math"

	"blendcore/pkg/domain"
	"blendcore/pkg/pipelineapi"
	"blendcore/pkg/resultapi"
)

// AlgorithmName is the registered fitter name.
const AlgorithmName = "flux_centroid"

// ErrNoPixels is returned when an object has no usable pixel in any
// selected exposure.
var ErrNoPixels = errors.New("no usable pixels")

// Schema is the output schema of every result.
func Schema() domain.Schema {
	return domain.Schema{
		{Name: "flux", Type: domain.TypeFloat64, Unit: "count", Doc: "Mean summed flux per exposure."},
		{Name: "flux_err", Type: domain.TypeFloat64, Unit: "count"},
		{Name: "centroid", Doc: "Flux-weighted position.", Fields: []domain.Field{
			{Name: "ra", Type: domain.TypeFloat64, Unit: "deg"},
			{Name: "dec", Type: domain.TypeFloat64, Unit: "deg"},
		}},
		{Name: "n_exposures", Type: domain.TypeInt32},
		{Name: "n_pixels", Type: domain.TypeInt64},
	}
}

// Plugin registers the centroid fitter.
type Plugin struct{}

// New constructs the plugin.
func New() Plugin { return Plugin{} }

// Name returns the plugin identifier.
func (Plugin) Name() string { return "centroid" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register wires the fitter factory.
func (Plugin) Register(registry pipelineapi.Registry) error {
	return registry.RegisterFitter(pipelineapi.FitterFactory{
		Name:        AlgorithmName,
		Description: "Sums unmasked region pixels and weights sky positions by flux.",
		Capability:  pipelineapi.CapabilityPerUnit,
		Schema:      Schema(),
		Options: []pipelineapi.OptionSpec{
			{Name: "filter", Type: pipelineapi.OptionString,
				Description: "Measure only exposures taken in this filter."},
			{Name: "exclude_neighbors", Type: pipelineapi.OptionBoolean, Default: true,
				Description: "Skip pixels flagged as neighbor contaminated."},
		},
		New: func(opts pipelineapi.Options) (pipelineapi.Fitter, error) {
			skip := domain.MaskBad | domain.MaskSaturated
			if opts.Bool("exclude_neighbors", true) {
				skip |= domain.MaskNeighbor
			}
			return &Fitter{Options: opts, filter: domain.FilterID(opts.String("filter", "")), skip: skip}, nil
		},
	})
}

// Fitter measures one object at a time.
type Fitter struct {
	pipelineapi.Options
	filter domain.FilterID
	skip   uint32
}

// Name implements pipelineapi.Fitter.
func (*Fitter) Name() string { return AlgorithmName }

// Capability implements pipelineapi.Fitter.
func (*Fitter) Capability() pipelineapi.Capability { return pipelineapi.CapabilityPerUnit }

// FitObject measures the object across its selected exposures.
func (f *Fitter) FitObject(ctx context.Context, object domain.ObjectSlice) (domain.AlgorithmResult, error) {
	var (
		flux, variance, sumRA, sumDec float64
		exposures                     int32
		pixels                        int64
	)
	for _, u := range object.ByFilter(f.filter) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		px, err := u.Pixels()
		if err != nil {
			return nil, err
		}
		exposures++
		region := u.Region()
		box := px.Image.Box
		for y := box.Y0; y < box.Y1; y++ {
			for x := box.X0; x < box.X1; x++ {
				if !region.Empty() && !region.Contains(x, y) {
					continue
				}
				if bits, _ := px.Mask.At(x, y); bits&f.skip != 0 {
					continue
				}
				v, _ := px.Image.At(x, y)
				vv, _ := px.Variance.At(x, y)
				sky := px.WCS.PixelToSky(float64(x), float64(y))
				flux += float64(v)
				variance += float64(vv)
				sumRA += float64(v) * sky.RA
				sumDec += float64(v) * sky.Dec
				pixels++
			}
		}
	}
	if pixels == 0 {
		return nil, fmt.Errorf("object %s: %w", object.ID(), ErrNoPixels)
	}
	centroid := object.Object().Centroid()
	if flux > 0 {
		centroid = domain.SkyCoord{RA: sumRA / flux, Dec: sumDec / flux}
	}
	n := float64(exposures)
	return resultapi.Static{
		Base:   resultapi.Base{ID: object.ID(), Sky: object.Object().SkyRegion()},
		Fields: Schema(),
		Values: map[string]any{
			"flux":        flux / n,
			"flux_err":    math.Sqrt(variance) / n,
			"centroid":    map[string]any{"ra": centroid.RA, "dec": centroid.Dec},
			"n_exposures": exposures,
			"n_pixels":    pixels,
		},
	}, nil
}

var (
	_ pipelineapi.Plugin       = Plugin{}
	_ pipelineapi.ObjectFitter = (*Fitter)(nil)
)

// Package jointsky contributes a joint deblender that estimates the sky
// background per filter from every exposure at once and subtracts it.
package jointsky

import (
	"context"
	"fmt"
	"math"
	"sort"

	"blendcore/pkg/domain"
	"blendcore/pkg/pipelineapi"
)

// AlgorithmName is the registered deblender name.
const AlgorithmName = "sky_background"

// Plugin registers the sky background deblender.
type Plugin struct{}

// New constructs the plugin.
func New() Plugin { return Plugin{} }

// Name returns the plugin identifier.
func (Plugin) Name() string { return "jointsky" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register wires the deblender factory.
func (Plugin) Register(registry pipelineapi.Registry) error {
	return registry.RegisterDeblender(pipelineapi.DeblenderFactory{
		Name:        AlgorithmName,
		Description: "Subtracts a sigma-clipped median sky level pooled over all exposures of a filter.",
		Capability:  pipelineapi.CapabilityJoint,
		Options: []pipelineapi.OptionSpec{
			{Name: "clip_sigma", Type: pipelineapi.OptionNumber, Default: 3.0,
				Description: "Reject samples further than this many standard deviations from the median."},
			{Name: "iterations", Type: pipelineapi.OptionInteger, Default: 3,
				Description: "Clipping passes."},
		},
		New: func(opts pipelineapi.Options) (pipelineapi.Deblender, error) {
			clip := opts.Float("clip_sigma", 3)
			if clip <= 0 {
				return nil, fmt.Errorf("clip_sigma must be positive, got %v", clip)
			}
			iters := opts.Int("iterations", 3)
			if iters < 1 {
				return nil, fmt.Errorf("iterations must be at least 1, got %d", iters)
			}
			return &Deblender{Options: opts, clip: clip, iterations: iters}, nil
		},
	})
}

// Deblender subtracts a per-filter sky level from every unit.
type Deblender struct {
	pipelineapi.Options
	clip       float64
	iterations int
}

// Name implements pipelineapi.Deblender.
func (*Deblender) Name() string { return AlgorithmName }

// Capability implements pipelineapi.Deblender.
func (*Deblender) Capability() pipelineapi.Capability { return pipelineapi.CapabilityJoint }

type pixelKey struct {
	exposure domain.ExposureID
	x, y     int
}

// Levels realizes every unit and estimates one sky level per filter from
// the unflagged pixels of all its exposures. Overlapping cutouts contribute
// each exposure pixel once.
func (d *Deblender) Levels(ctx context.Context, store *domain.Store) (map[domain.FilterID]float64, error) {
	samples := make(map[domain.FilterID][]float64)
	seen := make(map[pixelKey]struct{})
	for _, u := range store.All() {
		if err := u.Realize(ctx); err != nil {
			return nil, err
		}
		px, err := u.Pixels()
		if err != nil {
			return nil, err
		}
		box := px.Image.Box
		for y := box.Y0; y < box.Y1; y++ {
			for x := box.X0; x < box.X1; x++ {
				if bits, _ := px.Mask.At(x, y); bits&(domain.MaskBad|domain.MaskNeighbor) != 0 {
					continue
				}
				k := pixelKey{exposure: u.Exposure(), x: x, y: y}
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				v, _ := px.Image.At(x, y)
				samples[u.Filter()] = append(samples[u.Filter()], float64(v))
			}
		}
	}
	levels := make(map[domain.FilterID]float64, len(samples))
	for filter, vals := range samples {
		levels[filter] = clippedMedian(vals, d.clip, d.iterations)
	}
	return levels, nil
}

// DeblendJoint subtracts the per-filter sky level from every unit's image.
// Neighbor sets and regions are left alone.
func (d *Deblender) DeblendJoint(ctx context.Context, store *domain.Store) (*domain.Store, error) {
	levels, err := d.Levels(ctx, store)
	if err != nil {
		return nil, err
	}
	replacements := make(map[domain.Key]*domain.Unit)
	for key, u := range store.All() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		level := float32(levels[u.Filter()])
		if level == 0 {
			continue
		}
		next, err := u.Revise(func(r *domain.Revision) error {
			px, err := r.Pixels()
			if err != nil {
				return err
			}
			for i := range px.Image.Data {
				px.Image.Data[i] -= level
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if next != u {
			replacements[key] = next
		}
	}
	return store.WithReplacements(replacements)
}

// clippedMedian returns the median of vals after iteratively discarding
// samples beyond clip standard deviations. vals is reordered.
func clippedMedian(vals []float64, clip float64, iterations int) float64 {
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	for i := 0; i < iterations; i++ {
		med := median(vals)
		var ss float64
		for _, v := range vals {
			ss += (v - med) * (v - med)
		}
		std := math.Sqrt(ss / float64(len(vals)))
		if std == 0 {
			break
		}
		lo := sort.SearchFloat64s(vals, med-clip*std)
		hi := sort.Search(len(vals), func(j int) bool { return vals[j] > med+clip*std })
		if lo == 0 && hi == len(vals) {
			break
		}
		vals = vals[lo:hi]
	}
	return median(vals)
}

// median of sorted vals.
func median(vals []float64) float64 {
	n := len(vals)
	if n%2 == 1 {
		return vals[n/2]
	}
	return (vals[n/2-1] + vals[n/2]) / 2
}

var (
	_ pipelineapi.Plugin         = Plugin{}
	_ pipelineapi.JointDeblender = (*Deblender)(nil)
)

// Package maskdeblend contributes a per-exposure deblender that flags the
// footprints of neighboring objects in each blended unit's mask.
package maskdeblend

import (
	"context"
	"fmt"

	"blendcore/pkg/domain"
	"blendcore/pkg/pipelineapi"
)

const (
	// AlgorithmName is the registered deblender name.
	AlgorithmName = "mask_neighbors"
	// RuleName is the name of the plugin's invariant rule.
	RuleName = "mask_neighbor_flagged"
)

// Plugin registers the masking deblender and its rule.
type Plugin struct{}

// New constructs the plugin.
func New() Plugin { return Plugin{} }

// Name returns the plugin identifier.
func (Plugin) Name() string { return "maskdeblend" }

// Version returns the plugin semantic version.
func (Plugin) Version() string { return "0.1.0" }

// Register wires the deblender factory and the flagged-neighbor rule.
func (Plugin) Register(registry pipelineapi.Registry) error {
	registry.RegisterRule(flaggedNeighborRule{})
	return registry.RegisterDeblender(pipelineapi.DeblenderFactory{
		Name:        AlgorithmName,
		Description: "Flags neighbor footprints with the neighbor mask bit and drops the separated neighbors.",
		Capability:  pipelineapi.CapabilityPerUnit,
		Options: []pipelineapi.OptionSpec{
			{Name: "pad", Type: pipelineapi.OptionInteger, Default: 0, Unit: "pixel",
				Description: "Grow each neighbor footprint by this many pixels."},
			{Name: "shrink_region", Type: pipelineapi.OptionBoolean, Default: false,
				Description: "Remove flagged pixels from the unit region."},
		},
		New: func(opts pipelineapi.Options) (pipelineapi.Deblender, error) {
			pad := opts.Int("pad", 0)
			if pad < 0 {
				return nil, fmt.Errorf("pad must not be negative, got %d", pad)
			}
			return &Deblender{Options: opts, pad: pad, shrink: opts.Bool("shrink_region", false)}, nil
		},
	})
}

// Deblender masks neighbor footprints one exposure at a time.
type Deblender struct {
	pipelineapi.Options
	pad    int
	shrink bool
}

// Name implements pipelineapi.Deblender.
func (*Deblender) Name() string { return AlgorithmName }

// Capability implements pipelineapi.Deblender.
func (*Deblender) Capability() pipelineapi.Capability { return pipelineapi.CapabilityPerUnit }

// DeblendExposure flags every neighbor footprint that overlaps a blended
// unit's pixels. Neighbors whose footprint misses the cutout, or whose
// footprint was already flagged, are kept.
func (d *Deblender) DeblendExposure(ctx context.Context, slice domain.ExposureSlice) (domain.ExposureSlice, error) {
	replacements := make(map[domain.ObjectID]*domain.Unit)
	for id, u := range slice.All() {
		if err := ctx.Err(); err != nil {
			return slice, err
		}
		if u.NeighborCount() == 0 {
			continue
		}
		if err := u.Realize(ctx); err != nil {
			return slice, err
		}
		next, err := u.Revise(func(r *domain.Revision) error {
			return d.separate(slice.Objects(), r)
		})
		if err != nil {
			return slice, fmt.Errorf("%s: %w", u.Key(), err)
		}
		if next != u {
			replacements[id] = next
		}
	}
	return slice.WithReplacements(replacements)
}

func (d *Deblender) separate(objects domain.ObjectTable, r *domain.Revision) error {
	px, err := r.Pixels()
	if err != nil {
		return err
	}
	region := r.Region()
	for _, n := range r.Neighbors() {
		rec, ok := objects.Get(n)
		if !ok {
			continue
		}
		box, err := px.WCS.SkyBoxToPixels(rec.SkyRegion())
		if err != nil {
			return err
		}
		box = grow(box, d.pad).Intersect(px.Mask.Box)
		if box.Empty() {
			continue
		}
		changed := false
		for y := box.Y0; y < box.Y1; y++ {
			for x := box.X0; x < box.X1; x++ {
				if bits, _ := px.Mask.At(x, y); bits&domain.MaskNeighbor == 0 {
					px.Mask.Or(x, y, domain.MaskNeighbor)
					changed = true
				}
			}
		}
		if d.shrink {
			if next := subtractBox(region, box); !next.Equal(region) {
				region = next
				changed = true
			}
		}
		// Footprint already flagged in the frame: keep the neighbor.
		if !changed {
			continue
		}
		if err := r.DropNeighbor(n); err != nil {
			return err
		}
	}
	if d.shrink {
		return r.ShrinkRegion(region)
	}
	return nil
}

func grow(b domain.Box, pad int) domain.Box {
	return domain.Box{X0: b.X0 - pad, Y0: b.Y0 - pad, X1: b.X1 + pad, Y1: b.Y1 + pad}
}

// subtractBox removes b's pixels from r.
func subtractBox(r domain.Region, b domain.Box) domain.Region {
	var out []domain.Span
	for _, s := range r.Spans() {
		if s.Y < b.Y0 || s.Y >= b.Y1 || s.X1 <= b.X0 || s.X0 >= b.X1 {
			out = append(out, s)
			continue
		}
		if s.X0 < b.X0 {
			out = append(out, domain.Span{Y: s.Y, X0: s.X0, X1: b.X0})
		}
		if s.X1 > b.X1 {
			out = append(out, domain.Span{Y: s.Y, X0: b.X1, X1: s.X1})
		}
	}
	return domain.NewRegion(out...)
}

// flaggedNeighborRule warns when a unit lost neighbors but carries no
// neighbor-flagged pixels.
type flaggedNeighborRule struct{}

func (flaggedNeighborRule) Name() string { return RuleName }

func (flaggedNeighborRule) Evaluate(ctx context.Context, t domain.Transition) (domain.Result, error) {
	var res domain.Result
	if t.Before == nil || t.After == nil {
		return res, nil
	}
	for key, after := range t.After.All() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		before, err := t.Before.Lookup(key)
		if err != nil || before == after || after.NeighborCount() >= before.NeighborCount() {
			continue
		}
		mask, err := after.Mask()
		if err != nil {
			continue
		}
		flagged := false
		for _, bits := range mask.Bits {
			if bits&domain.MaskNeighbor != 0 {
				flagged = true
				break
			}
		}
		if !flagged {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     RuleName,
				Severity: domain.SeverityWarn,
				Message:  "neighbors dropped without flagged pixels",
				Key:      key,
			})
		}
	}
	return res, nil
}

var (
	_ pipelineapi.Plugin            = Plugin{}
	_ pipelineapi.ExposureDeblender = (*Deblender)(nil)
	_ domain.Rule                   = flaggedNeighborRule{}
)

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"blendcore/internal/blob"
	"blendcore/pkg/domain"
)

// ManifestKey is the default blob key of the run manifest.
const ManifestKey = "manifest.json"

// Manifest lists the objects of a run and the units observing them.
type Manifest struct {
	Objects []ManifestObject `json:"objects"`
	Units   []ManifestUnit   `json:"units"`
}

// ManifestObject is one object table entry.
type ManifestObject struct {
	ID       domain.ObjectID `json:"id"`
	Sky      domain.SkyBox   `json:"sky_region"`
	Centroid domain.SkyCoord `json:"centroid"`
}

// ManifestUnit is one (exposure, object) pair. An empty region selects the
// whole cutout around the object's sky box.
type ManifestUnit struct {
	Exposure  domain.ExposureID `json:"exposure_id"`
	Filter    domain.FilterID   `json:"filter_id"`
	Object    domain.ObjectID   `json:"object_id"`
	Region    []domain.Span     `json:"region,omitempty"`
	Neighbors []domain.ObjectID `json:"neighbors,omitempty"`
}

// WarmStarts maps objects to prior results keyed by algorithm name.
type WarmStarts map[domain.ObjectID]map[string]domain.AlgorithmResult

// Build constructs the aggregation store. Units read pixels from source.
func (m Manifest) Build(source domain.PixelSource, warm WarmStarts) (*domain.Store, error) {
	if source == nil {
		return nil, errors.New("manifest: pixel source required")
	}
	records := make(map[domain.ObjectID]*domain.ObjectRecord, len(m.Objects))
	all := make([]*domain.ObjectRecord, 0, len(m.Objects))
	for _, obj := range m.Objects {
		rec, err := domain.NewObjectRecord(obj.ID, obj.Sky, obj.Centroid, warm[obj.ID])
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		records[obj.ID] = rec
		all = append(all, rec)
	}
	objects, err := domain.NewObjectTable(all...)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	units := make([]*domain.Unit, 0, len(m.Units))
	for _, mu := range m.Units {
		rec, ok := records[mu.Object]
		if !ok {
			return nil, fmt.Errorf("manifest: unit %s/%s: object not in table", mu.Exposure, mu.Object)
		}
		u, err := domain.NewUnit(domain.UnitSpec{
			Object:    rec,
			Exposure:  mu.Exposure,
			Filter:    mu.Filter,
			Region:    domain.NewRegion(mu.Region...),
			Neighbors: mu.Neighbors,
			Source:    source,
		})
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}
		units = append(units, u)
	}
	store, err := domain.NewStore(objects, units...)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return store, nil
}

// WriteManifest stores m under key, replacing any previous version.
func WriteManifest(ctx context.Context, store blob.Store, key string, m Manifest) error {
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	_, err = store.Put(ctx, key, bytes.NewReader(raw), blob.PutOptions{ContentType: frameContentType, Overwrite: true})
	return err
}

// ReadManifest loads the manifest stored under key.
func ReadManifest(ctx context.Context, store blob.Store, key string) (Manifest, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", key, err)
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %s: %w", key, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %s: %w", key, err)
	}
	return m, nil
}

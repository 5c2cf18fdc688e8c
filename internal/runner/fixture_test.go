package runner

import (
	"context"
	"testing"

	"blendcore/internal/backend"
	"blendcore/internal/blob"
	"blendcore/plugins/testhelper"
)

// seedScene writes the scene's frames and a manifest mirroring its store.
func seedScene(t *testing.T, store blob.Store, scene testhelper.Scene) backend.Manifest {
	t.Helper()
	ctx := context.Background()
	for _, e := range scene.Exposures {
		frame := &backend.Frame{Exposure: e.ID, Filter: e.Filter, Pixels: scene.Render(e)}
		if _, err := backend.WriteFrame(ctx, store, frame); err != nil {
			t.Fatalf("write frame %s: %v", e.ID, err)
		}
	}
	built, _ := testhelper.MustBuild(t, scene)
	var m backend.Manifest
	objects := built.Objects()
	for _, id := range objects.IDs() {
		rec, _ := objects.Get(id)
		m.Objects = append(m.Objects, backend.ManifestObject{ID: id, Sky: rec.SkyRegion(), Centroid: rec.Centroid()})
	}
	for _, u := range built.All() {
		m.Units = append(m.Units, backend.ManifestUnit{
			Exposure:  u.Exposure(),
			Filter:    u.Filter(),
			Object:    u.ObjectID(),
			Region:    u.Region().Spans(),
			Neighbors: u.Neighbors(),
		})
	}
	if err := backend.WriteManifest(ctx, store, backend.ManifestKey, m); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return m
}

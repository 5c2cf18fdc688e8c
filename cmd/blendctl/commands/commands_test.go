package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"blendcore/internal/backend"
	"blendcore/internal/catalog"
	"blendcore/internal/config"
	"blendcore/internal/core"
	"blendcore/plugins/testhelper"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("blendctl %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestAlgorithmsJSON(t *testing.T) {
	out := mustExecute(t, "algorithms", "--json")
	var descriptors []core.AlgorithmDescriptor
	if err := json.Unmarshal([]byte(out), &descriptors); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(descriptors) != 3 {
		t.Fatalf("expected 3 algorithms, got %d", len(descriptors))
	}
	if descriptors[0].Kind != core.KindDeblender || descriptors[2].Kind != core.KindFitter {
		t.Fatalf("deblenders should list first: %+v", descriptors)
	}
}

func TestAlgorithmsTable(t *testing.T) {
	out := mustExecute(t, "algorithms")
	for _, want := range []string{"KIND", "mask_neighbors", "sky_background", "flux_centroid", "failure_policy"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
}

func TestConfigInitRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blendcore.toml")
	mustExecute(t, "config", "init", "--out", path)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	def := config.Default()
	if cfg.Deblender.Name != def.Deblender.Name || cfg.Fitter.Name != def.Fitter.Name {
		t.Fatalf("algorithms differ: %+v", cfg)
	}
	if cfg.Blob.FSRoot != def.Blob.FSRoot || cfg.Catalog.SQLitePath != def.Catalog.SQLitePath {
		t.Fatalf("storage differs: %+v", cfg)
	}

	if _, err := execute(t, "config", "init", "--out", path); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
	mustExecute(t, "config", "init", "--out", path, "--force")
}

func TestConfigInitStdout(t *testing.T) {
	out := mustExecute(t, "config", "init", "--out", "-")
	if !strings.Contains(out, "[deblender]") || !strings.Contains(out, "mask_neighbors") {
		t.Fatalf("unexpected template:\n%s", out)
	}
}

func writeFile(t *testing.T, path string, v any) {
	t.Helper()
	var raw []byte
	switch data := v.(type) {
	case string:
		raw = []byte(data)
	default:
		var err error
		if raw, err = json.Marshal(v); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// workspace writes a config over a temp dir plus frame and manifest files
// for the blend scene.
func workspace(t *testing.T) (configPath string, frames []string, manifest string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "run.toml")
	writeFile(t, configPath, fmt.Sprintf(`workers = 2
log_level = "error"

[blob]
driver = "fs"
fs_root = %q

[catalog]
driver = "sqlite"
sqlite_path = %q
`, filepath.Join(dir, "blobs"), filepath.Join(dir, "catalog.db")))

	scene := testhelper.Blend()
	for _, e := range scene.Exposures {
		path := filepath.Join(dir, string(e.ID)+".json")
		writeFile(t, path, backend.Frame{Exposure: e.ID, Filter: e.Filter, Pixels: scene.Render(e)})
		frames = append(frames, path)
	}
	built, _ := testhelper.MustBuild(t, scene)
	var m backend.Manifest
	for _, id := range built.Objects().IDs() {
		rec, _ := built.Objects().Get(id)
		m.Objects = append(m.Objects, backend.ManifestObject{ID: id, Sky: rec.SkyRegion(), Centroid: rec.Centroid()})
	}
	for _, u := range built.All() {
		m.Units = append(m.Units, backend.ManifestUnit{
			Exposure: u.Exposure(), Filter: u.Filter(), Object: u.ObjectID(),
			Region: u.Region().Spans(), Neighbors: u.Neighbors(),
		})
	}
	manifest = filepath.Join(dir, "manifest.json")
	writeFile(t, manifest, m)
	return configPath, frames, manifest
}

func TestImportRunInspect(t *testing.T) {
	cfgPath, frames, manifest := workspace(t)

	out := mustExecute(t, append([]string{"--config", cfgPath, "frames", "put"}, frames...)...)
	if !strings.Contains(out, "exposures/E1.json") {
		t.Fatalf("unexpected put output %q", out)
	}
	if out := mustExecute(t, "--config", cfgPath, "frames", "list"); out != "E1\nE2\n" {
		t.Fatalf("unexpected frames %q", out)
	}
	if out := mustExecute(t, "--config", cfgPath, "manifest", "put", manifest); !strings.Contains(out, "3 objects, 6 units") {
		t.Fatalf("unexpected manifest output %q", out)
	}

	optionsPath := filepath.Join(filepath.Dir(cfgPath), "options.toml")
	writeFile(t, optionsPath, "[fitter]\nfilter = \"r\"\n\n[deblender]\npad = 1\n")
	out = mustExecute(t, "--config", cfgPath, "run", "--options-file", optionsPath)
	var summary runSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if summary.Objects != 3 || summary.Fitter != "flux_centroid" || summary.FrameLoads != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	// Separations are logged transitions, not warnings.
	if summary.Warnings != 0 {
		t.Fatalf("expected no deblend warnings, got %d", summary.Warnings)
	}

	out = mustExecute(t, "--config", cfgPath, "runs", "list", "--json")
	var runs []catalog.RunSummary
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("decode runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != summary.Run || runs[0].Rows != 3 {
		t.Fatalf("unexpected runs %+v", runs)
	}

	out = mustExecute(t, "--config", cfgPath, "runs", "show", summary.Run)
	var record catalog.RunRecord
	if err := json.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Algorithm != "flux_centroid" || len(record.Rows) != 3 {
		t.Fatalf("unexpected record %+v", record.Summary())
	}

	if _, err := execute(t, "--config", cfgPath, "runs", "show", "00000000-0000-0000-0000-000000000000"); err == nil {
		t.Fatalf("expected missing run error")
	}
}

func TestRunRejectsUnknownOptionKeys(t *testing.T) {
	cfgPath, _, _ := workspace(t)
	optionsPath := filepath.Join(filepath.Dir(cfgPath), "options.toml")
	writeFile(t, optionsPath, "workers = 3\n")
	if _, err := execute(t, "--config", cfgPath, "run", "--options-file", optionsPath); err == nil || !strings.Contains(err.Error(), "unknown keys") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestApplyOptionsFileLeavesAbsentTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "options.toml")
	writeFile(t, path, "[fitter]\nexclude_neighbors = false\n")
	base := config.Default()
	base.Deblender.Options = map[string]any{"pad": 2}
	cfg, err := applyOptionsFile(base, path)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Deblender.Options["pad"] != 2 {
		t.Fatalf("deblender options changed: %v", cfg.Deblender.Options)
	}
	if cfg.Fitter.Options["exclude_neighbors"] != false {
		t.Fatalf("fitter override missing: %v", cfg.Fitter.Options)
	}
}

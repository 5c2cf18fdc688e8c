package config

import (
	"os"
	"path/filepath"
	"testing"

	"blendcore/internal/blob"
	"blendcore/internal/catalog"
)

const sample = `
workers = 4
manifest = "runs/r1/manifest.json"
warm_start_run = "6f1c1f3e-8d8e-4c53-9a4c-0f0e1e5d2b11"

[frames]
cache_size = 32

[observability]
expvar_name = "blendcore_r1"
trace_path = "runs/r1/trace.jsonl"

[blob]
driver = "s3"

[blob.s3]
bucket = "frames"
region = "us-west-2"
path_style = true

[catalog]
driver = "postgres"
postgres_dsn = "postgres://db/blend"

[deblender]
name = "sky_background"

[deblender.options]
clip_sigma = 2.5
failure_policy = "collect"

[fitter]
name = "flux_centroid"
`

func TestParseOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Workers != 4 || cfg.Manifest != "runs/r1/manifest.json" || cfg.Frames.CacheSize != 32 {
		t.Fatalf("unexpected run settings %+v", cfg)
	}
	if cfg.Observability.ExpvarName != "blendcore_r1" || cfg.Observability.TracePath != "runs/r1/trace.jsonl" {
		t.Fatalf("unexpected observability config %+v", cfg.Observability)
	}
	if cfg.Blob.Driver != blob.DriverS3 || cfg.Blob.S3.Bucket != "frames" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("unexpected blob config %+v", cfg.Blob)
	}
	if cfg.Catalog.Driver != catalog.DriverPostgres || cfg.Catalog.PostgresDSN != "postgres://db/blend" {
		t.Fatalf("unexpected catalog config %+v", cfg.Catalog)
	}
	if cfg.Deblender.Name != "sky_background" || cfg.Deblender.Options["clip_sigma"] != 2.5 {
		t.Fatalf("unexpected deblender config %+v", cfg.Deblender)
	}
	if cfg.Deblender.Options["failure_policy"] != "collect" {
		t.Fatalf("expected failure policy option, got %+v", cfg.Deblender.Options)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseEmptyKeepsDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	def := Default()
	if cfg.Deblender.Name != def.Deblender.Name || cfg.Fitter.Name != def.Fitter.Name || cfg.Blob.Driver != blob.DriverFilesystem {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"BLENDCORE_WORKERS":          "8",
		"BLENDCORE_FRAME_CACHE_SIZE": "2",
		"BLENDCORE_FITTER":           "other",
		"BLENDCORE_BLOB_DRIVER":      "memory",
		"BLENDCORE_CATALOG_DRIVER":   "memory",
		"BLENDCORE_METRICS_ADDR":     ":9102",
		"BLENDCORE_TRACE_PATH":       "/tmp/trace.jsonl",
	}
	cfg := ApplyEnv(Default(), func(k string) string { return env[k] })
	if cfg.Workers != 8 || cfg.Frames.CacheSize != 2 || cfg.Fitter.Name != "other" || cfg.MetricsAddr != ":9102" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
	if cfg.Observability.TracePath != "/tmp/trace.jsonl" || cfg.Observability.ExpvarName != "" {
		t.Fatalf("unexpected observability overrides %+v", cfg.Observability)
	}
	if cfg.Blob.Driver != blob.DriverMemory || cfg.Catalog.Driver != catalog.DriverMemory {
		t.Fatalf("driver overrides not applied: %+v %+v", cfg.Blob, cfg.Catalog)
	}
	cfg = ApplyEnv(Default(), func(k string) string {
		if k == "BLENDCORE_WORKERS" {
			return "many"
		}
		return ""
	})
	if cfg.Workers != 0 {
		t.Fatalf("expected malformed worker count to be ignored, got %d", cfg.Workers)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"negative workers": func(c *Config) { c.Workers = -1 },
		"no deblender":     func(c *Config) { c.Deblender.Name = "" },
		"no fitter":        func(c *Config) { c.Fitter.Name = " " },
		"zero cache":       func(c *Config) { c.Frames.CacheSize = 0 },
		"s3 without bucket": func(c *Config) {
			c.Blob.Driver = blob.DriverS3
		},
		"unknown blob":    func(c *Config) { c.Blob.Driver = "tape" },
		"unknown catalog": func(c *Config) { c.Catalog.Driver = "csv" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation failure")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BLENDCORE_WORKERS", "2")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Workers != 2 {
		t.Fatalf("expected env override, got %d", cfg.Workers)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing file to fail")
	}
	bad := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(bad, []byte("workers = ["), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatalf("expected parse failure")
	}
}

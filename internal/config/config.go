// Package config loads blendctl run configurations from TOML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"blendcore/internal/backend"
	"blendcore/internal/blob"
	"blendcore/internal/catalog"
)

// Config describes one deblend and measurement run.
type Config struct {
	Workers       int                 `toml:"workers"`
	LogLevel      string              `toml:"log_level"`
	Manifest      string              `toml:"manifest"`
	WarmStart     string              `toml:"warm_start_run"`
	MetricsAddr   string              `toml:"metrics_addr"`
	Frames        FramesConfig        `toml:"frames"`
	Observability ObservabilityConfig `toml:"observability"`
	Blob          blob.Config         `toml:"blob"`
	Catalog       catalog.Config      `toml:"catalog"`
	Deblender     AlgorithmConfig     `toml:"deblender"`
	Fitter        AlgorithmConfig     `toml:"fitter"`
}

// FramesConfig tunes the exposure frame backend.
type FramesConfig struct {
	CacheSize int `toml:"cache_size"`
}

// ObservabilityConfig selects the expvar export name and the span trace
// file. An empty ExpvarName publishes under a generated name; an empty
// TracePath disables tracing.
type ObservabilityConfig struct {
	ExpvarName string `toml:"expvar_name"`
	TracePath  string `toml:"trace_path"`
}

// AlgorithmConfig names an installed algorithm and its options.
type AlgorithmConfig struct {
	Name    string         `toml:"name"`
	Options map[string]any `toml:"options"`
}

// Default returns a configuration that runs the bundled reference
// algorithms against a local filesystem blob root and SQLite catalog.
func Default() Config {
	return Config{
		Manifest: backend.ManifestKey,
		Frames:   FramesConfig{CacheSize: backend.DefaultCacheSize},
		Blob:     blob.Config{Driver: blob.DriverFilesystem, FSRoot: "./blobdata"},
		Catalog:  catalog.Config{Driver: catalog.DriverSQLite, SQLitePath: "./blendcore-catalog.db"},
		Deblender: AlgorithmConfig{
			Name:    "mask_neighbors",
			Options: map[string]any{},
		},
		Fitter: AlgorithmConfig{
			Name:    "flux_centroid",
			Options: map[string]any{},
		},
	}
}

// Load reads path, overlays BLENDCORE_* environment overrides and validates.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg = ApplyEnv(cfg, os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults. Environment overrides are not
// applied.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Frames.CacheSize < 1 {
		cfg.Frames.CacheSize = backend.DefaultCacheSize
	}
	if strings.TrimSpace(cfg.Manifest) == "" {
		cfg.Manifest = backend.ManifestKey
	}
	return cfg, nil
}

// ApplyEnv overlays BLENDCORE_* variables that are set onto cfg:
//
//	BLENDCORE_WORKERS, BLENDCORE_MANIFEST, BLENDCORE_WARM_START_RUN,
//	BLENDCORE_METRICS_ADDR, BLENDCORE_FRAME_CACHE_SIZE,
//	BLENDCORE_DEBLENDER, BLENDCORE_FITTER, BLENDCORE_EXPVAR_NAME,
//	BLENDCORE_TRACE_PATH
//
// plus the BLENDCORE_BLOB_* and BLENDCORE_CATALOG_* driver variables.
func ApplyEnv(cfg Config, getenv func(string) string) Config {
	if n, ok := envInt(getenv("BLENDCORE_WORKERS")); ok {
		cfg.Workers = n
	}
	if v := getenv("BLENDCORE_MANIFEST"); v != "" {
		cfg.Manifest = v
	}
	if v := getenv("BLENDCORE_WARM_START_RUN"); v != "" {
		cfg.WarmStart = v
	}
	if v := getenv("BLENDCORE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if n, ok := envInt(getenv("BLENDCORE_FRAME_CACHE_SIZE")); ok {
		cfg.Frames.CacheSize = n
	}
	if v := getenv("BLENDCORE_DEBLENDER"); v != "" {
		cfg.Deblender.Name = v
	}
	if v := getenv("BLENDCORE_FITTER"); v != "" {
		cfg.Fitter.Name = v
	}
	if v := getenv("BLENDCORE_EXPVAR_NAME"); v != "" {
		cfg.Observability.ExpvarName = v
	}
	if v := getenv("BLENDCORE_TRACE_PATH"); v != "" {
		cfg.Observability.TracePath = v
	}
	cfg.Blob = blob.ApplyEnv(cfg.Blob, getenv)
	cfg.Catalog = catalog.ApplyEnv(cfg.Catalog, getenv)
	return cfg
}

func envInt(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the settings the run cannot default.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative")
	}
	if strings.TrimSpace(c.Deblender.Name) == "" {
		return fmt.Errorf("config: deblender.name is required")
	}
	if strings.TrimSpace(c.Fitter.Name) == "" {
		return fmt.Errorf("config: fitter.name is required")
	}
	if c.Frames.CacheSize < 1 {
		return fmt.Errorf("config: frames.cache_size must be positive")
	}
	switch c.Blob.Driver {
	case "", blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if strings.TrimSpace(c.Blob.S3.Bucket) == "" {
			return fmt.Errorf("config: blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("config: unknown blob driver %q", c.Blob.Driver)
	}
	switch c.Catalog.Driver {
	case "", catalog.DriverMemory, catalog.DriverSQLite, catalog.DriverPostgres:
	default:
		return fmt.Errorf("config: unknown catalog driver %q", c.Catalog.Driver)
	}
	return nil
}

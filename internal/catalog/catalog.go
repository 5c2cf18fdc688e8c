// Package catalog exposes the result catalog contract and driver
// constructors. Packages outside internal/catalog depend on this package,
// never on the drivers under internal/infra/catalog.
package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"blendcore/internal/catalog/core"
	memorycat "blendcore/internal/infra/catalog/memory"
	pgcat "blendcore/internal/infra/catalog/postgres"
	sqlitecat "blendcore/internal/infra/catalog/sqlite"
	"blendcore/pkg/domain"
)

type (
	// Driver identifies a catalog backend.
	Driver = core.Driver
	// Catalog persists run records.
	Catalog = core.Catalog
	// RunRecord is one fitter run.
	RunRecord = core.RunRecord
	// RunSummary is the listing view of a run.
	RunSummary = core.RunSummary
	// Row is one object's result within a run.
	Row = core.Row
	// Failure is one collected per-object error.
	Failure = core.Failure
)

const (
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
)

var (
	ErrRunNotFound = core.ErrRunNotFound
	ErrRunExists   = core.ErrRunExists
)

// Config selects and configures a catalog driver.
type Config struct {
	Driver      Driver `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// ConfigFromEnv reads a catalog configuration from the environment:
//
//	BLENDCORE_CATALOG_DRIVER: memory|sqlite|postgres (default sqlite)
//	BLENDCORE_CATALOG_SQLITE_PATH: database file when driver=sqlite
//	BLENDCORE_CATALOG_POSTGRES_DSN: connection string when driver=postgres
func ConfigFromEnv() Config {
	return ApplyEnv(Config{}, os.Getenv)
}

// ApplyEnv overlays BLENDCORE_CATALOG_* variables that are set onto cfg.
func ApplyEnv(cfg Config, getenv func(string) string) Config {
	if v := getenv("BLENDCORE_CATALOG_DRIVER"); v != "" {
		cfg.Driver = Driver(strings.ToLower(v))
	}
	if v := getenv("BLENDCORE_CATALOG_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := getenv("BLENDCORE_CATALOG_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	return cfg
}

// Open constructs the configured catalog.
func Open(ctx context.Context, cfg Config) (Catalog, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memorycat.New(), nil
	case DriverSQLite:
		return sqlitecat.New(ctx, cfg.SQLitePath)
	case DriverPostgres:
		return pgcat.New(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown catalog driver %s", driver)
	}
}

// NewMemory returns an in-memory catalog.
func NewMemory() Catalog { return memorycat.New() }

// NewRunRecord builds a run record with a fresh id.
func NewRunRecord(algorithm string, schema domain.Schema, results map[domain.ObjectID]domain.AlgorithmResult, failures []domain.ItemError, now time.Time) (RunRecord, error) {
	return core.NewRunRecord(algorithm, schema, results, failures, now)
}

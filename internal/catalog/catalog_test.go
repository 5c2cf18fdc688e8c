package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"blendcore/pkg/domain"
	"blendcore/pkg/resultapi"
)

var fluxSchema = domain.Schema{
	{Name: "flux", Type: domain.TypeFloat64, Unit: "nJy"},
	{Name: "n_exposures", Type: domain.TypeInt32},
}

func fluxResult(id domain.ObjectID, flux float64) domain.AlgorithmResult {
	return resultapi.Static{
		Base:   resultapi.Base{ID: id, Sky: domain.SkyBox{RAMin: 10, RAMax: 10.01, DecMin: -5, DecMax: -4.99}},
		Fields: fluxSchema,
		Values: map[string]any{"flux": flux, "n_exposures": int32(2)},
	}
}

func sampleRun(t *testing.T, at time.Time) RunRecord {
	t.Helper()
	run, err := NewRunRecord("centroid", fluxSchema, map[domain.ObjectID]domain.AlgorithmResult{
		"O2": fluxResult("O2", 12.5),
		"O1": fluxResult("O1", 32),
	}, []domain.ItemError{{Item: "O3", Err: errors.New("no pixels")}}, at)
	if err != nil {
		t.Fatalf("new run: %v", err)
	}
	return run
}

func openCatalogs(t *testing.T) map[string]Catalog {
	t.Helper()
	ctx := context.Background()
	sqlite, err := Open(ctx, Config{Driver: DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "catalog.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlite.Close()
		_ = mem.Close()
	})
	return map[string]Catalog{"memory": mem, "sqlite": sqlite}
}

func TestCatalogContract(t *testing.T) {
	for name, cat := range openCatalogs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			older := sampleRun(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
			newer := sampleRun(t, time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC))
			for _, run := range []RunRecord{older, newer} {
				if err := cat.Write(ctx, run); err != nil {
					t.Fatalf("write: %v", err)
				}
			}
			if err := cat.Write(ctx, older); !errors.Is(err, ErrRunExists) {
				t.Fatalf("expected ErrRunExists, got %v", err)
			}

			got, err := cat.Read(ctx, older.ID)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if got.Algorithm != "centroid" || len(got.Rows) != 2 || got.Rows[0].ObjectID != "O1" {
				t.Fatalf("unexpected run %+v", got)
			}
			if flux, _ := got.Rows[1].Values["flux"].(float64); flux != 12.5 {
				t.Fatalf("expected O2 flux 12.5, got %v", got.Rows[1].Values["flux"])
			}
			if len(got.Failures) != 1 || got.Failures[0].Item != "O3" {
				t.Fatalf("expected collected failure for O3, got %+v", got.Failures)
			}
			if !got.CreatedAt.Equal(older.CreatedAt) || len(got.Columns) != 2 {
				t.Fatalf("header did not round trip: %+v", got)
			}

			sums, err := cat.List(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(sums) != 2 || sums[0].ID != newer.ID || sums[1].Rows != 2 {
				t.Fatalf("unexpected summaries %+v", sums)
			}

			if _, err := cat.Read(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrRunNotFound) {
				t.Fatalf("expected ErrRunNotFound, got %v", err)
			}
		})
	}
}

func TestRunRecordResultsRehydrate(t *testing.T) {
	run := sampleRun(t, time.Now())
	results := run.Results()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	o1 := results["O1"]
	if o1.ObjectID() != "O1" || !resultapi.SameSchema(o1.Schema(), fluxSchema) {
		t.Fatalf("unexpected rehydrated result %+v", o1)
	}
	if o1.AsDict()["flux"] != 32.0 {
		t.Fatalf("expected flux 32, got %v", o1.AsDict()["flux"])
	}
}

func TestNewRunRecordRejectsForeignSchema(t *testing.T) {
	other := resultapi.Static{
		Base:   resultapi.Base{ID: "O1"},
		Fields: domain.Schema{{Name: "shape", Type: domain.TypeFloat32}},
		Values: map[string]any{"shape": float32(1)},
	}
	_, err := NewRunRecord("centroid", fluxSchema, map[domain.ObjectID]domain.AlgorithmResult{"O1": other}, nil, time.Now())
	if err == nil {
		t.Fatalf("expected schema mismatch to fail")
	}
}

func TestRunRecordValidate(t *testing.T) {
	run := sampleRun(t, time.Now())
	bad := run
	bad.ID = "not-a-uuid"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected invalid id to fail")
	}
	bad = run
	bad.Rows = append(bad.Rows, bad.Rows[0])
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected duplicate rows to fail")
	}
	bad = run
	bad.Algorithm = " "
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected missing algorithm to fail")
	}
}

func TestApplyEnvAndOpen(t *testing.T) {
	env := map[string]string{
		"BLENDCORE_CATALOG_DRIVER":       "MEMORY",
		"BLENDCORE_CATALOG_SQLITE_PATH":  "/tmp/x.db",
		"BLENDCORE_CATALOG_POSTGRES_DSN": "postgres://db/blend",
	}
	cfg := ApplyEnv(Config{}, func(k string) string { return env[k] })
	if cfg.Driver != DriverMemory || cfg.SQLitePath != "/tmp/x.db" || cfg.PostgresDSN != "postgres://db/blend" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	cat, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if cat.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", cat.Driver())
	}
	if _, err := Open(context.Background(), Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}

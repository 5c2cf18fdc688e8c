package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"blendcore/internal/catalog/core"
	"blendcore/internal/infra/catalog/postgres/testutil"
	"blendcore/pkg/domain"
)

func newStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		if driver != defaultDriver || dsn != defaultDSN {
			t.Errorf("unexpected open %s %s", driver, dsn)
		}
		return db, nil
	})
	t.Cleanup(restore)
	store, err := New(context.Background(), "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, conn
}

func run(t *testing.T) core.RunRecord {
	t.Helper()
	r := core.RunRecord{
		ID:        "6f1c1f3e-8d8e-4c53-9a4c-0f0e1e5d2b11",
		Algorithm: "centroid",
		Schema:    domain.Schema{{Name: "flux", Type: domain.TypeFloat64}},
		Rows: []core.Row{
			{ObjectID: "O2", Values: map[string]any{"flux": 4.0}},
			{ObjectID: "O1", Values: map[string]any{"flux": 16.0}},
		},
		CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	return r
}

func TestStoreWriteReadThroughStub(t *testing.T) {
	store, conn := newStubStore(t)
	ctx := context.Background()
	if store.Driver() != core.DriverPostgres {
		t.Fatalf("unexpected driver %s", store.Driver())
	}
	if err := store.Write(ctx, run(t)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := len(conn.Rows("catalog_rows")); got != 2 {
		t.Fatalf("expected 2 stored rows, got %d", got)
	}
	if err := store.Write(ctx, run(t)); !errors.Is(err, core.ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}

	got, err := store.Read(ctx, run(t).ID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got.Rows) != 2 || got.Rows[0].ObjectID != "O1" || got.Rows[0].Values["flux"] != 16.0 {
		t.Fatalf("unexpected rows %+v", got.Rows)
	}
	sums, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sums) != 1 || sums[0].Rows != 2 || !sums[0].CreatedAt.Equal(run(t).CreatedAt) {
		t.Fatalf("unexpected summaries %+v", sums)
	}
	if _, err := store.Read(ctx, "missing"); !errors.Is(err, core.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestStoreWriteFailures(t *testing.T) {
	store, conn := newStubStore(t)
	ctx := context.Background()

	conn.FailTables = map[string]bool{"catalog_rows": true}
	if err := store.Write(ctx, run(t)); err == nil {
		t.Fatalf("expected row insert failure")
	}
	conn.FailTables = nil

	conn.FailBegin = true
	if err := store.Write(ctx, run(t)); err == nil {
		t.Fatalf("expected begin failure")
	}
	conn.FailBegin = false

	bad := run(t)
	bad.ID = "nope"
	if err := store.Write(ctx, bad); err == nil {
		t.Fatalf("expected invalid run to be rejected")
	}
}

func TestNewFailsWhenPingFails(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := New(context.Background(), "postgres://example/db"); err == nil {
		t.Fatalf("expected ping failure")
	}
}

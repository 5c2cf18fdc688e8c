// Package postgres stores result catalogs in Postgres through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"blendcore/internal/catalog/core"
	"blendcore/internal/infra/catalog/sqlcat"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/blendcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a Postgres-backed catalog.
type Store struct {
	*sqlcat.Store
}

// New connects to dsn (falling back to a local default), pings the server
// and ensures the catalog tables exist.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlcat.New(ctx, db, sqlcat.Dialect{
		Driver:      core.DriverPostgres,
		Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		PayloadType: "JSONB",
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

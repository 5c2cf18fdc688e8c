// Package sqlite stores result catalogs in a SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"blendcore/internal/catalog/core"
	"blendcore/internal/infra/catalog/sqlcat"
)

const defaultPath = "blendcore-catalog.db"

// Store is a SQLite-backed catalog.
type Store struct {
	*sqlcat.Store
	path string
}

// New opens (creating if needed) the database at path.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single connection: sqlite serialises writers.
	db.SetMaxOpenConns(1)
	inner, err := sqlcat.New(ctx, db, sqlcat.Dialect{
		Driver:      core.DriverSQLite,
		Placeholder: func(int) string { return "?" },
		PayloadType: "BLOB",
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

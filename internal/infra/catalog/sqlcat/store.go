// Package sqlcat implements the result catalog over database/sql. The sqlite
// and postgres drivers supply a connection and a dialect.
package sqlcat

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"blendcore/internal/catalog/core"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Driver core.Driver
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// PayloadType is the column type holding JSON payloads.
	PayloadType string
}

// Store persists runs in two tables: one header row per run and one payload
// row per object.
type Store struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

// New ensures the catalog tables exist and returns the store.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	for _, ddl := range []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_runs (
		id TEXT PRIMARY KEY,
		algorithm TEXT NOT NULL,
		created_at TEXT NOT NULL,
		row_count INTEGER NOT NULL,
		header %s NOT NULL
	)`, dialect.PayloadType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS catalog_rows (
		run_id TEXT NOT NULL,
		object_id TEXT NOT NULL,
		payload %s NOT NULL,
		PRIMARY KEY (run_id, object_id)
	)`, dialect.PayloadType),
	} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("ensure catalog tables: %w", err)
		}
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Driver implements core.Catalog.
func (s *Store) Driver() core.Driver { return s.dialect.Driver }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// header is the run record without its rows.
type header struct {
	core.RunRecord
	Rows []core.Row `json:"rows,omitempty"`
}

func (s *Store) ph(n int) string { return s.dialect.Placeholder(n) }

// Write stores a run and its rows in one transaction.
func (s *Store) Write(ctx context.Context, run core.RunRecord) error {
	if err := run.Validate(); err != nil {
		return err
	}
	head, err := json.Marshal(header{RunRecord: run})
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT id FROM catalog_runs WHERE id = `+s.ph(1), run.ID).Scan(&existing)
	switch {
	case err == nil:
		return fmt.Errorf("run %s: %w", run.ID, core.ErrRunExists)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup run %s: %w", run.ID, err)
	}

	insertRun := fmt.Sprintf(`INSERT INTO catalog_runs(id,algorithm,created_at,row_count,header) VALUES(%s,%s,%s,%s,%s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := tx.ExecContext(ctx, insertRun, run.ID, run.Algorithm, run.CreatedAt.UTC().Format(time.RFC3339Nano), int64(len(run.Rows)), head); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	insertRow := fmt.Sprintf(`INSERT INTO catalog_rows(run_id,object_id,payload) VALUES(%s,%s,%s)`, s.ph(1), s.ph(2), s.ph(3))
	for _, row := range run.Rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode row %s: %w", row.ObjectID, err)
		}
		if _, err := tx.ExecContext(ctx, insertRow, run.ID, string(row.ObjectID), payload); err != nil {
			return fmt.Errorf("insert row %s: %w", row.ObjectID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Read loads a run with its rows ordered by object id.
func (s *Store) Read(ctx context.Context, id string) (core.RunRecord, error) {
	var head []byte
	err := s.db.QueryRowContext(ctx, `SELECT header FROM catalog_runs WHERE id = `+s.ph(1), id).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RunRecord{}, fmt.Errorf("run %s: %w", id, core.ErrRunNotFound)
	}
	if err != nil {
		return core.RunRecord{}, fmt.Errorf("select run %s: %w", id, err)
	}
	var h header
	if err := json.Unmarshal(head, &h); err != nil {
		return core.RunRecord{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	run := h.RunRecord

	rows, err := s.db.QueryContext(ctx, `SELECT object_id, payload FROM catalog_rows WHERE run_id = `+s.ph(1), id)
	if err != nil {
		return core.RunRecord{}, fmt.Errorf("select rows %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var objectID string
		var payload []byte
		if err := rows.Scan(&objectID, &payload); err != nil {
			return core.RunRecord{}, fmt.Errorf("scan row: %w", err)
		}
		var row core.Row
		if err := json.Unmarshal(payload, &row); err != nil {
			return core.RunRecord{}, fmt.Errorf("decode row %s: %w", objectID, err)
		}
		run.Rows = append(run.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return core.RunRecord{}, fmt.Errorf("iterate rows: %w", err)
	}
	sort.Slice(run.Rows, func(i, j int) bool { return run.Rows[i].ObjectID < run.Rows[j].ObjectID })
	return run, nil
}

// List returns run summaries, newest first.
func (s *Store) List(ctx context.Context) ([]core.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, algorithm, created_at, row_count FROM catalog_runs`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.RunSummary
	for rows.Next() {
		var sum core.RunSummary
		var created string
		var count int64
		if err := rows.Scan(&sum.ID, &sum.Algorithm, &created, &count); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(created))
		if err != nil {
			return nil, fmt.Errorf("run %s created_at: %w", sum.ID, err)
		}
		sum.CreatedAt, sum.Rows = at, int(count)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	core.SortSummaries(out)
	return out, nil
}

var _ core.Catalog = (*Store)(nil)

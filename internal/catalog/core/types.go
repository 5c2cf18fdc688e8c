// Package core defines the result catalog contract shared by the drivers
// under internal/infra/catalog.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"blendcore/pkg/domain"
	"blendcore/pkg/resultapi"
)

// Driver identifies a catalog backend.
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

var (
	// ErrRunNotFound is wrapped by Read when no run carries the id.
	ErrRunNotFound = errors.New("catalog: run not found")
	// ErrRunExists is wrapped by Write when the run id is already stored.
	ErrRunExists = errors.New("catalog: run already exists")
)

// Row is one object's result. Values hold the result's AsDict payload.
type Row struct {
	ObjectID domain.ObjectID `json:"object_id"`
	Sky      domain.SkyBox   `json:"sky_region"`
	Values   map[string]any  `json:"values"`
}

// Failure records an object the fitter could not measure in collect mode.
type Failure struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// RunRecord is one fitter run over an aggregation store.
type RunRecord struct {
	ID        string             `json:"id"`
	Algorithm string             `json:"algorithm"`
	Schema    domain.Schema      `json:"schema"`
	Columns   []resultapi.Column `json:"columns"`
	Rows      []Row              `json:"rows"`
	Failures  []Failure          `json:"failures,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	ID        string    `json:"id"`
	Algorithm string    `json:"algorithm"`
	Rows      int       `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

// Catalog persists run records.
type Catalog interface {
	Write(ctx context.Context, run RunRecord) error
	Read(ctx context.Context, id string) (RunRecord, error)
	List(ctx context.Context) ([]RunSummary, error)
	Close() error
	Driver() Driver
}

// NewRunRecord builds a record with a fresh run id from fitted results and
// collected failures. Rows are ordered by object id.
func NewRunRecord(algorithm string, schema domain.Schema, results map[domain.ObjectID]domain.AlgorithmResult, failures []domain.ItemError, now time.Time) (RunRecord, error) {
	run := RunRecord{
		ID:        uuid.NewString(),
		Algorithm: algorithm,
		Schema:    schema,
		Columns:   resultapi.Columns(schema),
		CreatedAt: now.UTC(),
	}
	for id, res := range results {
		if res == nil {
			return RunRecord{}, fmt.Errorf("catalog: nil result for %s", id)
		}
		if !resultapi.SameSchema(res.Schema(), schema) {
			return RunRecord{}, fmt.Errorf("catalog: result %s does not match the %s schema", id, algorithm)
		}
		run.Rows = append(run.Rows, Row{ObjectID: id, Sky: res.SkyRegion(), Values: res.AsDict()})
	}
	sort.Slice(run.Rows, func(i, j int) bool { return run.Rows[i].ObjectID < run.Rows[j].ObjectID })
	for _, f := range failures {
		run.Failures = append(run.Failures, Failure{Item: f.Item, Error: f.Err.Error()})
	}
	return run, run.Validate()
}

// Validate checks identifiers and row uniqueness.
func (r RunRecord) Validate() error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("catalog: run id %q: %w", r.ID, err)
	}
	if strings.TrimSpace(r.Algorithm) == "" {
		return fmt.Errorf("catalog: run %s: algorithm required", r.ID)
	}
	seen := make(map[domain.ObjectID]struct{}, len(r.Rows))
	for _, row := range r.Rows {
		if row.ObjectID == "" {
			return fmt.Errorf("catalog: run %s: row without object id", r.ID)
		}
		if _, dup := seen[row.ObjectID]; dup {
			return fmt.Errorf("catalog: run %s: duplicate row for %s", r.ID, row.ObjectID)
		}
		seen[row.ObjectID] = struct{}{}
	}
	return nil
}

// Summary returns the listing view of the run.
func (r RunRecord) Summary() RunSummary {
	return RunSummary{ID: r.ID, Algorithm: r.Algorithm, Rows: len(r.Rows), CreatedAt: r.CreatedAt}
}

// Results rehydrates the rows as static results, suitable as warm-start
// payloads on object records.
func (r RunRecord) Results() map[domain.ObjectID]domain.AlgorithmResult {
	out := make(map[domain.ObjectID]domain.AlgorithmResult, len(r.Rows))
	for _, row := range r.Rows {
		out[row.ObjectID] = resultapi.Static{
			Base:   resultapi.Base{ID: row.ObjectID, Sky: row.Sky},
			Fields: r.Schema,
			Values: row.Values,
		}
	}
	return out
}

// SortSummaries orders summaries newest first, then by id.
func SortSummaries(out []RunSummary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

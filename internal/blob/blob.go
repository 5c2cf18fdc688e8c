// Package blob exposes the blob storage contract and driver constructors.
// Packages outside internal/blob depend on this package, never on the
// drivers under internal/infra/blob.
package blob

import (
	"context"

	"blendcore/internal/blob/core"
	fsstore "blendcore/internal/infra/blob/fs"
	memorystore "blendcore/internal/infra/blob/memory"
	s3store "blendcore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the S3 driver.
	S3Config = s3store.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// NewFilesystem returns a store rooted at root, creating the directory.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }

// NewS3 returns an S3-backed store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3store.New(ctx, cfg) }

// NewMockS3ForTests returns an S3 store served by an in-process fake.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }

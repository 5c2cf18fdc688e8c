// Package core defines the blob storage contract shared by the drivers under
// internal/infra/blob.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local directory
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // process memory, tests
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
	// Overwrite replaces an existing blob instead of failing with ErrExists.
	Overwrite bool
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a minimal S3-like object store. Implementations are safe for
// concurrent readers.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

var (
	// ErrNotFound is wrapped by every driver when a key is absent.
	ErrNotFound = errors.New("blob: not found")
	// ErrExists is wrapped by Put when the key is taken and Overwrite is unset.
	ErrExists = errors.New("blob: already exists")
)

// CleanKey normalises a key and rejects empty, absolute or escaping keys.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("blob: empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("blob: absolute key %q", key)
	}
	clean := path.Clean(strings.ReplaceAll(key, "\\", "/"))
	if clean == ".." || strings.HasPrefix(clean, "../") || strings.Contains(key, "..") {
		return "", fmt.Errorf("blob: key %q escapes the store", key)
	}
	return clean, nil
}

// CloneMetadata copies a metadata map; nil stays nil.
func CloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Package memory implements an in-memory blob store for tests and dry runs.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"blendcore/internal/blob/core"
)

type entry struct {
	info core.Info
	data []byte
}

// Store keeps blobs in a map guarded by a RWMutex.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New returns an empty store.
func New() *Store { return &Store{entries: make(map[string]entry)} }

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverMemory }

// Put stores a copy of r's content.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return core.Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return core.Info{}, err
	}
	sum := sha256.Sum256(data)
	info := core.Info{
		Key:          clean,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     core.CloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[clean]; exists && !opts.Overwrite {
		return core.Info{}, fmt.Errorf("blob %s: %w", clean, core.ErrExists)
	}
	s.entries[clean] = entry{info: info, data: data}
	return copyInfo(info), nil
}

// Get returns a reader over the stored bytes.
func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	e, err := s.lookup(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	return copyInfo(e.info), io.NopCloser(bytes.NewReader(e.data)), nil
}

// Head returns metadata only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	e, err := s.lookup(key)
	if err != nil {
		return core.Info{}, err
	}
	return copyInfo(e.info), nil
}

func (s *Store) lookup(key string) (entry, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return entry{}, err
	}
	s.mu.RLock()
	e, ok := s.entries[clean]
	s.mu.RUnlock()
	if !ok {
		return entry{}, fmt.Errorf("blob %s: %w", clean, core.ErrNotFound)
	}
	return e, nil
}

// Delete removes the blob, reporting whether it existed.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[clean]
	delete(s.entries, clean)
	return ok, nil
}

// List returns blobs whose key has prefix, ordered by key.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Info, 0, len(s.entries))
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, copyInfo(e.info))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func copyInfo(info core.Info) core.Info {
	info.Metadata = core.CloneMetadata(info.Metadata)
	return info
}

var _ core.Store = (*Store)(nil)

// Package fs implements the blob store on a local directory.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"blendcore/internal/blob/core"
)

const metaSuffix = ".meta"

// Store maps keys to files under root. Each blob has a JSON sidecar
// (<file>.meta) holding content type, metadata and checksum.
type Store struct {
	root string
	mu   sync.Mutex
}

// New returns a store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = "./blobdata"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// Driver implements core.Store.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

func (s *Store) paths(key string) (string, string, string, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return "", "", "", err
	}
	data := filepath.Join(s.root, filepath.FromSlash(clean))
	return clean, data, data + metaSuffix, nil
}

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (m sidecar) info(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.ETag,
		Metadata:     core.CloneMetadata(m.Metadata),
		LastModified: m.UpdatedAt,
	}
}

// Put streams r into a temp file, then renames it into place.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	clean, dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return core.Info{}, err
	}
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return core.Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return core.Info{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := os.Stat(dataPath); err == nil && !opts.Overwrite {
		return core.Info{}, fmt.Errorf("blob %s: %w", clean, core.ErrExists)
	}
	if err := os.Rename(tmp.Name(), dataPath); err != nil {
		return core.Info{}, err
	}
	meta := sidecar{
		ContentType: opts.ContentType,
		Metadata:    core.CloneMetadata(opts.Metadata),
		ETag:        hex.EncodeToString(h.Sum(nil)),
		Size:        size,
		UpdatedAt:   time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return core.Info{}, err
	}
	if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
		return core.Info{}, err
	}
	return meta.info(clean), nil
}

// Get opens the blob for reading.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	_, dataPath, _, _ := s.paths(key)
	file, err := os.Open(dataPath)
	if err != nil {
		return core.Info{}, nil, notFound(info.Key, err)
	}
	return info, file, nil
}

// Head reads the sidecar only.
func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	clean, _, metaPath, err := s.paths(key)
	if err != nil {
		return core.Info{}, err
	}
	meta, err := readSidecar(metaPath)
	if err != nil {
		return core.Info{}, notFound(clean, err)
	}
	return meta.info(clean), nil
}

// Delete removes the blob and its sidecar; (false, nil) when absent.
func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	_, dataPath, metaPath, err := s.paths(key)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(dataPath); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List walks the root collecting sidecars whose key has prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	err := filepath.WalkDir(s.root, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, strings.TrimSuffix(p, metaSuffix))
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		meta, err := readSidecar(p)
		if err != nil {
			return err
		}
		infos = append(infos, meta.info(key))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func readSidecar(p string) (sidecar, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return sidecar{}, err
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return sidecar{}, fmt.Errorf("sidecar %s: %w", p, err)
	}
	return meta, nil
}

func notFound(key string, err error) error {
	if errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return err
}

var _ core.Store = (*Store)(nil)

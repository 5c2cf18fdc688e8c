package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	return map[string]Store{
		"fs":     fs,
		"memory": NewMemory(),
		"s3":     NewMockS3ForTests(),
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			info, err := store.Put(ctx, "exposures/E1.json", strings.NewReader(`{"a":1}`), PutOptions{
				ContentType: "application/json",
				Metadata:    map[string]string{"filter": "r"},
			})
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if info.Key != "exposures/E1.json" || info.Size != 7 || info.ETag == "" {
				t.Fatalf("unexpected info %+v", info)
			}
			if _, err := store.Put(ctx, "exposures/E1.json", strings.NewReader("x"), PutOptions{}); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists, got %v", err)
			}
			if _, err := store.Put(ctx, "exposures/E2.json", bytes.NewReader([]byte("{}")), PutOptions{}); err != nil {
				t.Fatalf("put second: %v", err)
			}

			head, err := store.Head(ctx, "exposures/E1.json")
			if err != nil {
				t.Fatalf("head: %v", err)
			}
			if head.ContentType != "application/json" || head.Metadata["filter"] != "r" {
				t.Fatalf("metadata lost: %+v", head)
			}
			got, rc, err := store.Get(ctx, "exposures/E1.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			body, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(body) != `{"a":1}` || got.ETag != head.ETag {
				t.Fatalf("unexpected get %q %+v", body, got)
			}

			if _, err := store.Put(ctx, "exposures/E1.json", strings.NewReader("{}"), PutOptions{Overwrite: true}); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			if h, _ := store.Head(ctx, "exposures/E1.json"); h.Size != 2 {
				t.Fatalf("overwrite not applied: %+v", h)
			}

			list, err := store.List(ctx, "exposures/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 2 || list[0].Key != "exposures/E1.json" || list[1].Key != "exposures/E2.json" {
				t.Fatalf("unexpected list %+v", list)
			}

			removed, err := store.Delete(ctx, "exposures/E2.json")
			if err != nil || !removed {
				t.Fatalf("delete: %v %v", removed, err)
			}
			removed, err = store.Delete(ctx, "exposures/E2.json")
			if err != nil || removed {
				t.Fatalf("second delete must report absence: %v %v", removed, err)
			}
			if _, _, err := store.Get(ctx, "exposures/E2.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := store.Head(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound from head, got %v", err)
			}
			if _, err := store.Put(ctx, "../escape", strings.NewReader("x"), PutOptions{}); err == nil {
				t.Fatalf("expected escaping key to be rejected")
			}
		})
	}
}

func TestApplyEnvAndOpen(t *testing.T) {
	env := map[string]string{
		"BLENDCORE_BLOB_DRIVER":        "MEMORY",
		"BLENDCORE_BLOB_S3_BUCKET":     "frames",
		"BLENDCORE_BLOB_S3_PATH_STYLE": "true",
	}
	cfg := ApplyEnv(Config{FSRoot: "keep"}, func(k string) string { return env[k] })
	if cfg.Driver != DriverMemory || cfg.FSRoot != "keep" || cfg.S3.Bucket != "frames" || !cfg.S3.PathStyle {
		t.Fatalf("unexpected config %+v", cfg)
	}
	store, err := Open(context.Background(), cfg)
	if err != nil || store.Driver() != DriverMemory {
		t.Fatalf("open memory: %v", err)
	}
	fs, err := Open(context.Background(), Config{FSRoot: t.TempDir()})
	if err != nil || fs.Driver() != DriverFilesystem {
		t.Fatalf("default driver must be fs: %v", err)
	}
	if _, err := Open(context.Background(), Config{Driver: "tape"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(context.Background(), Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"blendcore/internal/blob/core"
)

func TestPutWritesSidecar(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	info, err := store.Put(context.Background(), "a/b.json", strings.NewReader("hello"), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(info.ETag) != 64 {
		t.Fatalf("expected sha256 etag, got %q", info.ETag)
	}
	raw, err := os.ReadFile(filepath.Join(root, "a", "b.json"+metaSuffix))
	if err != nil {
		t.Fatalf("sidecar: %v", err)
	}
	if !strings.Contains(string(raw), "application/json") {
		t.Fatalf("sidecar missing content type: %s", raw)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "a"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestCorruptSidecarFailsList(t *testing.T) {
	root := t.TempDir()
	store, err := New(root)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "bad"+metaSuffix), []byte("{"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.List(context.Background(), ""); err == nil {
		t.Fatalf("expected corrupt sidecar error")
	}
}

func TestCleanKey(t *testing.T) {
	cases := map[string]bool{
		"exposures/E1.json": true,
		"a//b":              true,
		"":                  false,
		"/abs":              false,
		"../up":             false,
		"a/../../b":         false,
	}
	for key, ok := range cases {
		_, err := core.CleanKey(key)
		if (err == nil) != ok {
			t.Fatalf("%q: expected ok=%v, got %v", key, ok, err)
		}
	}
}

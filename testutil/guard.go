// Package testutil provides test helpers that enforce the import boundaries
// between the public contracts, the plugins and the internal runtime.
package testutil

import (
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Predicate reports whether an import path is forbidden.
type Predicate func(path string) bool

// AnyOf matches when any of preds matches.
func AnyOf(preds ...Predicate) Predicate {
	return func(path string) bool {
		for _, p := range preds {
			if p(path) {
				return true
			}
		}
		return false
	}
}

// InternalImport matches this module's internal packages.
func InternalImport(path string) bool {
	return strings.HasPrefix(path, "blendcore/internal/")
}

// HarnessImport matches the command line harness and the runner that
// wires it.
func HarnessImport(path string) bool {
	return strings.HasPrefix(path, "blendcore/cmd/") || path == "blendcore/internal/runner"
}

// ThirdPartyImport matches module paths outside the standard library and
// this module.
func ThirdPartyImport(path string) bool {
	if strings.HasPrefix(path, "blendcore/") {
		return false
	}
	first, _, _ := strings.Cut(path, "/")
	return strings.Contains(first, ".")
}

// AssertNoDirectImports parses the non-test .go files in dir and fails when
// an import matches forbidden.
func AssertNoDirectImports(t testing.TB, dir string, forbidden Predicate, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden direct imports (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

// AssertNoTransitiveDependency runs `go list -deps pattern` and fails when a
// dependency matches forbidden.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden Predicate, reason string) {
	t.Helper()
	out, err := goListDeps(pattern)
	if err != nil {
		t.Fatalf("go list failed: %v\n%s", err, out)
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" && forbidden(line) {
			viols = append(viols, line)
		}
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden transitive dependencies (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

var goListDeps = func(pattern string) ([]byte, error) {
	return exec.Command("go", "list", "-deps", pattern).CombinedOutput()
}

func directImportViolations(dir string, forbidden Predicate) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, spec := range file.Imports {
			path, err := strconv.Unquote(spec.Path.Value)
			if err != nil {
				return nil, err
			}
			if forbidden(path) {
				viols = append(viols, path+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

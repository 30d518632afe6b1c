// Package testutil provides architecture guards for import-boundary tests.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// Predicate matches an import path.
type Predicate func(importPath string) bool

// Under matches each prefix and everything below it.
func Under(prefixes ...string) Predicate {
	return func(path string) bool {
		for _, p := range prefixes {
			if path == p || strings.HasPrefix(path, p+"/") {
				return true
			}
		}
		return false
	}
}

// AnyOf matches when one of preds matches.
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

// Not inverts p.
func Not(p Predicate) Predicate {
	return func(path string) bool { return !p(path) }
}

// Stdlib matches standard library packages: the first path element has no dot.
func Stdlib(path string) bool {
	first, _, _ := strings.Cut(path, "/")
	return !strings.Contains(first, ".")
}

// InternalImportForbidden matches any path containing an internal element.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/") || strings.HasSuffix(path, "/internal")
}

// DirectImports maps each import of the non-test files in dir to the files
// importing it. Build tags are ignored.
func DirectImports(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	out := make(map[string][]string)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out[path] = append(out[path], name)
		}
	}
	return out, nil
}

// AssertNoDirectImports fails when a non-test file in dir imports a path
// matching forbidden.
func AssertNoDirectImports(t testing.TB, dir string, forbidden Predicate, reason string) {
	t.Helper()
	checkDirect(t, dir, forbidden, reason)
}

// AssertOnlyDirectImports fails when a non-test file in dir imports a path
// that allowed does not match.
func AssertOnlyDirectImports(t testing.TB, dir string, allowed Predicate, reason string) {
	t.Helper()
	checkDirect(t, dir, Not(allowed), reason)
}

// Boundary forbids the packages under From, except those under Except, from
// importing anything Forbid matches.
type Boundary struct {
	From   string
	Except []string
	Forbid Predicate
	Reason string
}

// AssertBoundaries loads pattern, test packages included, and checks every
// boundary against the direct imports of each package.
func AssertBoundaries(t testing.TB, pattern string, boundaries ...Boundary) {
	t.Helper()
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	imports := make(map[string][]string, len(pkgs))
	for _, pkg := range pkgs {
		path := strings.TrimSuffix(pkg.PkgPath, "_test")
		for imp := range pkg.Imports {
			imports[path] = append(imports[path], imp)
		}
	}
	report(t, boundaryViolations(imports, boundaries))
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func checkDirect(t fatalLogger, dir string, forbidden Predicate, reason string) {
	imports, err := DirectImports(dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
		return
	}
	var viols []string
	for path, files := range imports {
		if forbidden(path) {
			sort.Strings(files)
			viols = append(viols, fmt.Sprintf("%s (in %s): %s", path, strings.Join(files, ", "), reason))
		}
	}
	report(t, viols)
}

func boundaryViolations(imports map[string][]string, boundaries []Boundary) []string {
	seen := make(map[string]struct{})
	for pkg, deps := range imports {
		for _, b := range boundaries {
			if !Under(b.From)(pkg) || Under(b.Except...)(pkg) {
				continue
			}
			for _, dep := range deps {
				if b.Forbid(dep) {
					seen[fmt.Sprintf("%s imports %s: %s", pkg, dep, b.Reason)] = struct{}{}
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	return out
}

func report(t fatalLogger, viols []string) {
	if len(viols) == 0 {
		return
	}
	sort.Strings(viols)
	t.Fatalf("import boundary violated:\n%s", strings.Join(viols, "\n"))
}

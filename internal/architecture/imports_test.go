package architecture_test

import (
	"bufio"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// layerRule forbids packages under dir from importing any of the listed
// internal prefixes.
type layerRule struct {
	dirs   []string
	forbid []string
}

var layerRules = []layerRule{
	{
		dirs:   []string{"domain"},
		forbid: []string{"data/", "platform/", "modules/", "http", "jobs/", "temporalx", "realtime", "app"},
	},
	{
		dirs:   []string{"platform"},
		forbid: []string{"data/", "modules/", "http", "jobs/", "temporalx", "realtime", "app"},
	},
	{
		dirs:   []string{"data", "realtime"},
		forbid: []string{"modules/", "http", "jobs/", "temporalx", "app"},
	},
	{
		dirs:   []string{"modules"},
		forbid: []string{"http", "temporalx", "app"},
	},
	{
		dirs:   []string{"jobs", "temporalx"},
		forbid: []string{"http", "app"},
	},
}

func TestImportBoundaries(t *testing.T) {
	root := moduleRoot(t)
	modulePath := modulePathOf(t, filepath.Join(root, "go.mod"))
	internal := modulePath + "/internal/"

	imports := internalImports(t, root)
	for _, rule := range layerRules {
		for file, imps := range imports {
			if !inAnyDir(file, rule.dirs) {
				continue
			}
			for _, imp := range imps {
				if !strings.HasPrefix(imp, internal) {
					continue
				}
				target := strings.TrimPrefix(imp, internal)
				for _, bad := range rule.forbid {
					if strings.HasPrefix(target, bad) {
						t.Errorf("%s imports %q (layer %v must not import internal/%s)", file, imp, rule.dirs, bad)
					}
				}
			}
		}
	}
}

func inAnyDir(file string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(file, "internal/"+d+"/") {
			return true
		}
	}
	return false
}

// internalImports maps every .go file under internal/ (relative, slash
// separated) to its import paths.
func internalImports(t *testing.T, root string) map[string][]string {
	t.Helper()
	fset := token.NewFileSet()
	out := map[string][]string{}
	err := filepath.WalkDir(filepath.Join(root, "internal"), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") {
			return nil
		}
		f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		var imps []string
		for _, spec := range f.Imports {
			if imp, err := strconv.Unquote(spec.Path.Value); err == nil {
				imps = append(imps, imp)
			}
		}
		out[filepath.ToSlash(rel)] = imps
		return nil
	})
	if err != nil {
		t.Fatalf("walk internal/: %v", err)
	}
	return out
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("go.mod not found above the test directory")
		}
		dir = parent
	}
}

func modulePathOf(t *testing.T, goMod string) string {
	t.Helper()
	f, err := os.Open(goMod)
	if err != nil {
		t.Fatalf("open go.mod: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if mp, ok := strings.CutPrefix(line, "module "); ok && strings.TrimSpace(mp) != "" {
			return strings.TrimSpace(mp)
		}
	}
	t.Fatalf("module path not found in %s", goMod)
	return ""
}

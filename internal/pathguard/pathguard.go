// Package pathguard confines every file the aggregator writes or reads for
// state to a small set of directories under one base directory. Cache
// snapshots, the first-seen state, the rate-limit counter, reports and the
// feed document all pass through a Guard before any filesystem call.
package pathguard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
)

// DefaultRoots are the directory names writable below the base directory.
var DefaultRoots = []string{"docs", "data", "log"}

// Guard validates paths against an allowlist of roots below a base directory.
type Guard struct {
	base  string
	roots map[string]struct{}
}

// New creates a Guard for baseDir. The base directory must exist; symlinks
// in it are resolved once so later containment checks compare real paths.
func New(baseDir string, roots []string) (*Guard, error) {
	if baseDir == "" {
		baseDir = "."
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, apperr.ConfigError("base directory is not resolvable", err, map[string]interface{}{"base": baseDir})
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, apperr.ConfigError("base directory does not exist", err, map[string]interface{}{"base": baseDir})
	}
	if len(roots) == 0 {
		roots = DefaultRoots
	}
	set := make(map[string]struct{}, len(roots))
	for _, r := range roots {
		r = strings.Trim(strings.TrimSpace(r), "/")
		if r == "" || strings.ContainsRune(r, filepath.Separator) {
			return nil, apperr.ConfigError("invalid allowlist root", nil, map[string]interface{}{"root": r})
		}
		set[r] = struct{}{}
	}
	return &Guard{base: real, roots: set}, nil
}

// Base returns the resolved base directory.
func (g *Guard) Base() string {
	return g.base
}

// Resolve turns p into an absolute path and verifies it lies below one of
// the allowed roots. Relative paths are taken relative to the base
// directory. The target itself may not exist yet; symlinks in the deepest
// existing ancestor are resolved before the containment check.
func (g *Guard) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", apperr.ConfigError("empty path", nil, nil)
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.base, abs)
	}
	abs = filepath.Clean(abs)

	real, err := resolveExistingPrefix(abs)
	if err != nil {
		return "", apperr.ConfigError("path is not resolvable", err, map[string]interface{}{"path": p})
	}
	rel, err := filepath.Rel(g.base, real)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", apperr.ConfigError("path escapes the base directory", nil, map[string]interface{}{"path": p})
	}
	root := rel
	if i := strings.IndexRune(rel, filepath.Separator); i >= 0 {
		root = rel[:i]
	}
	if _, ok := g.roots[root]; !ok {
		return "", apperr.ConfigError(
			fmt.Sprintf("path is outside the allowed directories (%s)", strings.Join(g.rootList(), ", ")),
			nil, map[string]interface{}{"path": p, "root": root})
	}
	return real, nil
}

func (g *Guard) rootList() []string {
	out := make([]string, 0, len(g.roots))
	for r := range g.roots {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// resolveExistingPrefix resolves symlinks in the longest existing ancestor
// of path and rejoins the non-existing remainder.
func resolveExistingPrefix(path string) (string, error) {
	remainder := []string{}
	cur := path
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			for i := len(remainder) - 1; i >= 0; i-- {
				real = filepath.Join(real, remainder[i])
			}
			return real, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		remainder = append(remainder, filepath.Base(cur))
		cur = parent
	}
}

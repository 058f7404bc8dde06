package deps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Cleaner removes dependency checkouts and build artifacts. Every
// removal target is vetted against its containing directory first, so
// neither a crafted dependency name nor a symlinked checkout can direct
// a clean outside the tree it belongs to.
type Cleaner struct {
	// DepsDir is the checkout root, usually <project>/deps.
	DepsDir string
	// BuildDir is the build root, usually <project>/_build, holding one
	// subtree per environment.
	BuildDir string
}

// Clean removes the named dependencies' build artifacts in every
// environment, and their checkouts too unless buildOnly is set. It
// returns the paths removed. Names without a checkout or build output
// are skipped quietly; path dependencies never have either.
func (c *Cleaner) Clean(names []string, buildOnly bool) ([]string, error) {
	var removed []string
	var errs []error
	for _, name := range names {
		targets, err := c.targets(name, buildOnly)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, target := range targets {
			if err := os.RemoveAll(target); err != nil {
				errs = append(errs, fmt.Errorf("removing %s: %w", target, err))
				continue
			}
			removed = append(removed, target)
		}
	}
	return removed, errors.Join(errs...)
}

// Unused returns the checkout directory names under DepsDir absent from
// keep, in directory order. A missing DepsDir means nothing is unused.
func (c *Cleaner) Unused(keep map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(c.DepsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.DepsDir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && !keep[e.Name()] {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (c *Cleaner) targets(name string, buildOnly bool) ([]string, error) {
	builds, err := filepath.Glob(filepath.Join(c.BuildDir, "*", name))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var out []string
	for _, b := range builds {
		if err := confine(c.BuildDir, b); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, b)
	}

	if !buildOnly {
		checkout := filepath.Join(c.DepsDir, name)
		if _, err := os.Stat(checkout); err == nil {
			if err := confine(c.DepsDir, checkout); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			out = append(out, checkout)
		}
	}
	return out, nil
}

// confine verifies that target, with symlinks resolved, still lives
// under base. Removal itself always operates on the unresolved path, so
// passing the check never widens what gets deleted.
func confine(base, target string) error {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", base, err)
	}
	realBase, err := filepath.EvalSymlinks(absBase)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", base, err)
	}

	abs := target
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(realBase, target)
	}
	resolved := resolveExisting(filepath.Clean(abs))

	if resolved != realBase && !strings.HasPrefix(resolved, realBase+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %s: it resolves to %s, outside %s", target, resolved, realBase)
	}
	return nil
}

// resolveExisting resolves symlinks for the longest existing prefix of
// path and reattaches the rest untouched, so paths that do not fully
// exist yet can still be checked.
func resolveExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	dir := filepath.Dir(path)
	if dir == path {
		return path
	}
	return filepath.Join(resolveExisting(dir), filepath.Base(path))
}

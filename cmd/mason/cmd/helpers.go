package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/xiaoqinglee/mason/internal/cache"
	"github.com/xiaoqinglee/mason/internal/deps"
	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/manifest"
	"github.com/xiaoqinglee/mason/internal/scm"
	"github.com/xiaoqinglee/mason/internal/settings"
)

// loadSettings resolves environment-backed settings, with the --env
// flag taking precedence over MASON_ENV.
func loadSettings() *settings.Settings {
	s := settings.Load()
	if envFlag != "" {
		s.Env = envFlag
	}
	return s
}

// loadProject reads and validates the project manifest.
func loadProject() (*manifest.Project, error) {
	p, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("loading manifest %s: %w", manifestPath, err)
	}
	return p, nil
}

// projectRoot returns the directory containing the manifest.
func projectRoot() (string, error) {
	abs, err := filepath.Abs(manifestPath)
	if err != nil {
		return "", fmt.Errorf("resolving manifest path: %w", err)
	}
	return filepath.Dir(abs), nil
}

// loadLock reads the lockfile for read-only commands. A corrupt file
// degrades to an empty lock with a warning; fetch commands handle
// corruption themselves.
func loadLock(ctx context.Context) (lock.Map, error) {
	m, err := lock.Read(lockfilePath)
	if err != nil {
		if !errors.Is(err, lock.ErrCorrupt) {
			return nil, err
		}
		loggerFromContext(ctx).Warnf("%v", err)
		return lock.Map{}, nil
	}
	return m, nil
}

// absIn roots a possibly relative path at the project root.
func absIn(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// newSet builds the source manager set in dispatch order: git and path
// claim their declarations explicitly, the registry adapter is last and
// picks up everything else.
func newSet(s *settings.Settings, root string) (*scm.Set, error) {
	c, err := cache.New(s.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("initializing package cache: %w", err)
	}
	depsDir := absIn(root, s.DepsDir)
	return scm.NewSet(
		scm.NewGit(scm.GitConfig{Bin: s.GitBin, DepsDir: depsDir}),
		scm.NewPath(root),
		scm.NewHex(scm.HexConfig{RegistryURL: s.RegistryURL, DepsDir: depsDir, Cache: c}),
	), nil
}

// newResolver wires the read-only resolve pipeline: converge the graph
// and classify every dependency, touching nothing on disk.
func newResolver(ctx context.Context, s *settings.Settings, root string) (*deps.Resolver, error) {
	set, err := newSet(s, root)
	if err != nil {
		return nil, err
	}
	lockMap, err := loadLock(ctx)
	if err != nil {
		return nil, err
	}
	return &deps.Resolver{
		Set:            set,
		Lock:           lockMap,
		Env:            s.Env,
		BuildDir:       absIn(root, s.BuildDir),
		RuntimeVersion: s.RuntimeVersion,
	}, nil
}

// newFetcher wires the fetch pipeline. Fetch progress goes through the
// context logger, so --quiet silences it and --verbose widens it.
func newFetcher(ctx context.Context, s *settings.Settings, root string) (*deps.Fetcher, error) {
	set, err := newSet(s, root)
	if err != nil {
		return nil, err
	}
	l := loggerFromContext(ctx)
	return &deps.Fetcher{
		Set:            set,
		LockPath:       lockfilePath,
		Env:            s.Env,
		BuildDir:       absIn(root, s.BuildDir),
		RuntimeVersion: s.RuntimeVersion,
		Concurrency:    s.Concurrency,
		Timeout:        s.FetchTimeout,
		Log:            l.Infof,
	}, nil
}

// newCleaner wires checkout and build artifact removal.
func newCleaner(s *settings.Settings, root string) *deps.Cleaner {
	return &deps.Cleaner{
		DepsDir:  absIn(root, s.DepsDir),
		BuildDir: absIn(root, s.BuildDir),
	}
}

func humanSize(bytes int64) string {
	if bytes == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	size := float64(bytes)
	i := 0
	for size >= 1024 && i < len(units)-1 {
		size /= 1024
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return fmt.Sprintf("%.1f %s", size, units[i])
}

// Package mason provides the public Go library API for mason.
//
// mason resolves a project's declared dependencies into a flat,
// deterministically ordered graph, fetches them through pluggable
// source managers, pins the fetched identities in a lockfile, and
// classifies each dependency's staleness against its declaration, the
// lockfile, and the last compiled build. This package exposes a Client
// for embedding those operations in other Go programs.
//
// # Basic Usage
//
//	client, err := mason.New(mason.Options{
//	    Dir: "/path/to/project",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Fetch missing dependencies and write the lockfile.
//	res, err := client.Get(ctx)
//
//	// Inspect the graph without touching checkouts or the lockfile.
//	res, err = client.List(ctx)
//
//	// Move every dependency to its newest acceptable version.
//	res, err = client.Update(ctx, nil)
package mason

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xiaoqinglee/mason/internal/buildmeta"
	"github.com/xiaoqinglee/mason/internal/cache"
	"github.com/xiaoqinglee/mason/internal/deps"
	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/manifest"
	"github.com/xiaoqinglee/mason/internal/scm"
	"github.com/xiaoqinglee/mason/internal/settings"
)

// Options configures a mason Client. Zero-value fields fall back to the
// environment-derived settings, so embedding programs inherit the same
// MASON_* variables the CLI honors unless they override a field here.
type Options struct {
	// Dir is the project root containing mason.yaml. If empty, defaults
	// to the directory containing ManifestPath.
	Dir string

	// ManifestPath is the path to the project manifest. Default:
	// mason.yaml inside Dir.
	ManifestPath string

	// LockfilePath is the path to the lockfile. Default: mason.lock
	// next to the manifest.
	LockfilePath string

	// Env is the active build environment (dev, test, prod, ...).
	Env string

	// DepsDir and BuildDir locate checkouts and compiled artifacts,
	// relative to the project root unless absolute.
	DepsDir  string
	BuildDir string

	// CacheDir holds downloaded registry tarballs, shared across
	// projects.
	CacheDir string

	// RegistryURL is the base URL of the package registry.
	RegistryURL string

	// GitBin is the git executable used for git-backed dependencies.
	GitBin string

	// RuntimeVersion is matched against runtime requirements declared
	// by dependencies.
	RuntimeVersion string

	// Concurrency bounds parallel fetches; Timeout bounds one fetch.
	Concurrency int
	Timeout     time.Duration

	// EnvLookup resolves compile-time environment variables for
	// fingerprinting. Nil means os.Getenv.
	EnvLookup func(string) string

	// Log receives fetch progress lines. Nil means silent.
	Log func(format string, args ...any)
}

// Client is the main entry point for the mason library.
type Client struct {
	set          *scm.Set
	settings     *settings.Settings
	root         string
	manifestPath string
	lockfilePath string
	envLookup    func(string) string
	log          func(format string, args ...any)
}

// New creates a mason Client.
func New(opts Options) (*Client, error) {
	root := opts.Dir
	mpath := opts.ManifestPath
	if root == "" {
		if mpath == "" {
			mpath = manifest.File
		}
		abs, err := filepath.Abs(mpath)
		if err != nil {
			return nil, fmt.Errorf("resolving manifest path: %w", err)
		}
		mpath = abs
		root = filepath.Dir(abs)
	} else if mpath == "" {
		mpath = manifest.Path(root)
	}

	lpath := opts.LockfilePath
	if lpath == "" {
		lpath = filepath.Join(root, lock.File)
	}

	s := settings.Load()
	if opts.Env != "" {
		s.Env = opts.Env
	}
	if opts.DepsDir != "" {
		s.DepsDir = opts.DepsDir
	}
	if opts.BuildDir != "" {
		s.BuildDir = opts.BuildDir
	}
	if opts.CacheDir != "" {
		s.CacheDir = opts.CacheDir
	}
	if opts.RegistryURL != "" {
		s.RegistryURL = opts.RegistryURL
	}
	if opts.GitBin != "" {
		s.GitBin = opts.GitBin
	}
	if opts.RuntimeVersion != "" {
		s.RuntimeVersion = opts.RuntimeVersion
	}
	if opts.Concurrency > 0 {
		s.Concurrency = opts.Concurrency
	}
	if opts.Timeout > 0 {
		s.FetchTimeout = opts.Timeout
	}

	c, err := cache.New(s.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("initializing package cache: %w", err)
	}
	depsDir := absIn(root, s.DepsDir)
	set := scm.NewSet(
		scm.NewGit(scm.GitConfig{Bin: s.GitBin, DepsDir: depsDir}),
		scm.NewPath(root),
		scm.NewHex(scm.HexConfig{RegistryURL: s.RegistryURL, DepsDir: depsDir, Cache: c}),
	)

	return &Client{
		set:          set,
		settings:     s,
		root:         root,
		manifestPath: mpath,
		lockfilePath: lpath,
		envLookup:    opts.EnvLookup,
		log:          opts.Log,
	}, nil
}

func (c *Client) loadProject() (*manifest.Project, error) {
	p, err := manifest.Load(c.manifestPath)
	if err != nil {
		return nil, fmt.Errorf("loading manifest %s: %w", c.manifestPath, err)
	}
	return p, nil
}

// loadLock degrades a corrupt lockfile to an empty one: every write
// path re-locks from scratch, and read paths report the affected
// dependencies as mismatched.
func (c *Client) loadLock() (lock.Map, error) {
	m, err := lock.Read(c.lockfilePath)
	if err != nil {
		if !errors.Is(err, lock.ErrCorrupt) {
			return nil, err
		}
		c.logf("%v", err)
		return lock.Map{}, nil
	}
	return m, nil
}

func (c *Client) fetcher() *deps.Fetcher {
	return &deps.Fetcher{
		Set:            c.set,
		LockPath:       c.lockfilePath,
		Env:            c.settings.Env,
		BuildDir:       absIn(c.root, c.settings.BuildDir),
		RuntimeVersion: c.settings.RuntimeVersion,
		EnvLookup:      c.envLookup,
		Concurrency:    c.settings.Concurrency,
		Timeout:        c.settings.FetchTimeout,
		Log:            c.log,
	}
}

func (c *Client) cleaner() *deps.Cleaner {
	return &deps.Cleaner{
		DepsDir:  absIn(c.root, c.settings.DepsDir),
		BuildDir: absIn(c.root, c.settings.BuildDir),
	}
}

// List converges the dependency graph and classifies every dependency,
// touching neither checkouts nor the lockfile. The returned Result is
// complete even when the error reports conflicts or invalid
// declarations.
func (c *Client) List(ctx context.Context) (*Result, error) {
	project, err := c.loadProject()
	if err != nil {
		return nil, err
	}
	lockMap, err := c.loadLock()
	if err != nil {
		return nil, err
	}

	r := &deps.Resolver{
		Set:            c.set,
		Lock:           lockMap,
		Env:            c.settings.Env,
		BuildDir:       absIn(c.root, c.settings.BuildDir),
		RuntimeVersion: c.settings.RuntimeVersion,
		EnvLookup:      c.envLookup,
	}
	res := r.Resolve(ctx, project, c.root)
	return res, res.Err()
}

// Get fetches every dependency that is missing or does not match the
// lockfile, honoring locked identities, and writes the lockfile once at
// the end.
func (c *Client) Get(ctx context.Context) (*Result, error) {
	project, err := c.loadProject()
	if err != nil {
		return nil, err
	}
	return c.fetcher().Get(ctx, project, c.root)
}

// Update re-resolves the named dependencies against their upstream,
// ignoring their locked identities, and fetches anything else that is
// missing. A nil name list updates everything.
func (c *Client) Update(ctx context.Context, names []string) (*Result, error) {
	project, err := c.loadProject()
	if err != nil {
		return nil, err
	}
	return c.fetcher().Update(ctx, project, c.root, names)
}

// Unlock drops the named entries from the lockfile and returns the
// names actually removed. A nil name list drops every entry.
func (c *Client) Unlock(names []string) ([]string, error) {
	m, err := c.loadLock()
	if err != nil {
		return nil, err
	}

	var removed []string
	if names == nil {
		removed = m.Names()
		m = lock.Map{}
	} else {
		for _, n := range names {
			if _, ok := m[n]; !ok {
				continue
			}
			delete(m, n)
			removed = append(removed, n)
		}
	}

	if err := lock.Write(c.lockfilePath, m); err != nil {
		return nil, err
	}
	return removed, nil
}

// UnlockUnused drops lock entries no resolved dependency references and
// returns their names. The graph is converged first, so entries for
// transitive dependencies stay locked.
func (c *Client) UnlockUnused(ctx context.Context) ([]string, error) {
	res, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	m, err := c.loadLock()
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(res.Deps))
	for _, d := range res.Deps {
		keep[d.Name] = true
	}
	unused := lock.Unused(m, keep)
	if len(unused) == 0 {
		return nil, nil
	}

	for _, n := range unused {
		delete(m, n)
	}
	if err := lock.Write(c.lockfilePath, m); err != nil {
		return nil, err
	}
	return unused, nil
}

// Clean removes the named dependencies' build artifacts in every
// environment, and their checkouts unless buildOnly is set. Lock
// entries stay untouched; the next fetch restores the same identities.
// The removed paths are returned.
func (c *Client) Clean(names []string, buildOnly bool) ([]string, error) {
	return c.cleaner().Clean(names, buildOnly)
}

// CleanUnused removes checkouts no resolved dependency references and
// returns the removed paths.
func (c *Client) CleanUnused(ctx context.Context) ([]string, error) {
	res, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool, len(res.Deps))
	for _, d := range res.Deps {
		keep[d.Name] = true
	}
	cl := c.cleaner()
	names, err := cl.Unused(keep)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	return cl.Clean(names, false)
}

// MarkBuilt records that the named dependency was just compiled under
// the current environment. Build tools driving mason call this after
// compiling a checkout, reporting their own toolchain version; later
// status runs compare the record against the current world.
func (c *Client) MarkBuilt(ctx context.Context, name, toolchain string) error {
	res, err := c.List(ctx)
	if err != nil {
		return err
	}
	d, ok := res.ByName(name)
	if !ok {
		return fmt.Errorf("unknown dependency %s", name)
	}
	if !d.Adapter.CheckedOut(d.Spec) {
		return fmt.Errorf("%s is not checked out", name)
	}

	lookup := c.envLookup
	if lookup == nil {
		lookup = os.Getenv
	}
	rec := buildmeta.Record{
		Schema:    buildmeta.Schema,
		Runtime:   c.settings.RuntimeVersion,
		Toolchain: toolchain,
		SCM:       d.Spec.Kind(),
		Env:       c.settings.Env,
		EnvHash:   buildmeta.EnvHash(d.CompileEnv, lookup),
	}
	path := buildmeta.Path(absIn(c.root, c.settings.BuildDir), c.settings.Env, name)
	return buildmeta.Write(path, rec)
}

func (c *Client) logf(format string, args ...any) {
	if c.log != nil {
		c.log(format, args...)
	}
}

// absIn roots a possibly relative path at the project root.
func absIn(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

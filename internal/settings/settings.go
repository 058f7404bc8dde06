// Package settings resolves tool-wide configuration from the process
// environment, with an optional .env file overlay for local development.
package settings

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultEnv          = "dev"
	DefaultDepsDir      = "deps"
	DefaultBuildDir     = "_build"
	DefaultRegistryURL  = "https://repo.hex.pm"
	DefaultGitBin       = "git"
	DefaultFetchTimeout = 5 * time.Minute
	DefaultConcurrency  = 8

	// DefaultRuntimeVersion stands in when the target runtime cannot be
	// probed from the environment.
	DefaultRuntimeVersion = "1.16.3"
)

// Settings carries every knob the dependency engine reads from the
// environment. Paths are relative to the project root unless absolute.
type Settings struct {
	// Env is the active build environment (dev, test, prod, ...). It
	// selects which only-scoped dependencies participate and which
	// _build subtree is consulted.
	Env string

	// DepsDir is the directory dependencies are checked out into.
	DepsDir string

	// BuildDir is the root of compiled artifacts, one subtree per Env.
	BuildDir string

	// CacheDir holds downloaded registry tarballs, shared across projects.
	CacheDir string

	// RegistryURL is the base URL of the package registry.
	RegistryURL string

	// GitBin is the git executable used for git-backed dependencies.
	GitBin string

	// RuntimeVersion is the version of the target runtime currently in
	// use, matched against runtime requirements declared by dependencies.
	RuntimeVersion string

	// FetchTimeout bounds a single dependency fetch.
	FetchTimeout time.Duration

	// Concurrency is the number of dependencies fetched in parallel.
	Concurrency int
}

// Load reads settings from the environment, after overlaying a .env file
// from the current directory when one exists. Missing variables fall back
// to defaults; malformed numeric values are ignored rather than fatal.
func Load() *Settings {
	_ = godotenv.Load()

	s := &Settings{
		Env:            getenv("MASON_ENV", DefaultEnv),
		DepsDir:        getenv("MASON_DEPS_DIR", DefaultDepsDir),
		BuildDir:       getenv("MASON_BUILD_DIR", DefaultBuildDir),
		CacheDir:       getenv("MASON_CACHE_DIR", defaultCacheDir()),
		RegistryURL:    getenv("MASON_REGISTRY_URL", DefaultRegistryURL),
		GitBin:         getenv("MASON_GIT", DefaultGitBin),
		RuntimeVersion: getenv("MASON_RUNTIME_VERSION", DefaultRuntimeVersion),
		FetchTimeout:   DefaultFetchTimeout,
		Concurrency:    DefaultConcurrency,
	}

	if v := os.Getenv("MASON_FETCH_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			s.FetchTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("MASON_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Concurrency = n
		}
	}
	return s
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultCacheDir() string {
	if base, err := os.UserCacheDir(); err == nil {
		return filepath.Join(base, "mason")
	}
	return filepath.Join(os.TempDir(), "mason-cache")
}

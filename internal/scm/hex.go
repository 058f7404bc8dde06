package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xiaoqinglee/mason/internal/cache"
	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/manifest"
	"github.com/xiaoqinglee/mason/internal/version"
)

// DefaultRepo is the repository assumed when a declaration names none.
const DefaultRepo = "hexpm"

// metaFile records what release a checkout contains. Written after a
// successful unpack; its absence means the checkout is unusable.
const metaFile = ".mason-package.toml"

// HTTPClient abstracts HTTP for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HexSpec addresses a registry-backed dependency.
type HexSpec struct {
	Name        string
	Package     string
	Repo        string
	Requirement string

	dest string
}

func (s *HexSpec) Kind() string       { return "hex" }
func (s *HexSpec) Dest() string       { return s.dest }
func (s *HexSpec) ProjectDir() string { return s.dest }
func (s *HexSpec) Redacted() string   { return s.Repo + "/" + s.Package }

// Release is one published version of a registry package.
type Release struct {
	Version  string `json:"version"`
	Checksum string `json:"checksum"`
}

type packageDoc struct {
	Name     string    `json:"name"`
	Releases []Release `json:"releases"`
}

type checkoutMeta struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Checksum string `toml:"checksum"`
	Repo     string `toml:"repo"`
}

// HexConfig configures the registry source manager.
type HexConfig struct {
	// RegistryURL is the registry base URL.
	RegistryURL string
	// DepsDir is the root directory checkouts are placed under.
	DepsDir string
	// Cache stores downloaded tarballs by checksum. Optional; without
	// it every checkout downloads.
	Cache *cache.Cache
	// Client overrides the HTTP client, mainly for tests.
	Client HTTPClient
}

// Hex is the source manager for registry packages. It claims any
// declaration without a path or git source, so it must be registered
// last in the adapter set.
type Hex struct {
	registryURL string
	depsDir     string
	cache       *cache.Cache
	client      HTTPClient
	releases    *lru.Cache[string, []Release]
}

// NewHex creates the registry manager.
func NewHex(cfg HexConfig) *Hex {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	releases, _ := lru.New[string, []Release](256)
	return &Hex{
		registryURL: cfg.RegistryURL,
		depsDir:     cfg.DepsDir,
		cache:       cfg.Cache,
		client:      client,
		releases:    releases,
	}
}

func (h *Hex) Name() string    { return "hex" }
func (h *Hex) Fetchable() bool { return true }

func (h *Hex) AcceptsOptions(name string, d manifest.Declaration) (Spec, error) {
	if d.Path != "" || d.HasGit() {
		return nil, nil
	}
	pkg := d.Package
	if pkg == "" {
		pkg = name
	}
	repo := d.Repo
	if repo == "" {
		repo = DefaultRepo
	}
	return &HexSpec{
		Name:        name,
		Package:     pkg,
		Repo:        repo,
		Requirement: d.Requirement,
		dest:        filepath.Join(h.depsDir, name),
	}, nil
}

func (h *Hex) Format(s Spec) string {
	hs := s.(*HexSpec)
	out := hs.Redacted()
	if hs.Requirement != "" {
		out += " (" + hs.Requirement + ")"
	}
	return out
}

func (h *Hex) FormatLock(e *lock.Entry) string {
	if e == nil || e.Version == "" {
		return ""
	}
	out := e.Version
	if e.Checksum != "" {
		out += " " + shortRev(e.Checksum)
	}
	return out
}

func (h *Hex) CheckedOut(s Spec) bool {
	_, err := os.Stat(filepath.Join(s.Dest(), metaFile))
	return err == nil
}

func (h *Hex) LockStatus(ctx context.Context, s Spec, e *lock.Entry) LockStatus {
	hs := s.(*HexSpec)
	if e == nil || e.Kind != "hex" || e.Version == "" {
		return LockMismatch
	}
	if e.Package != hs.Package || e.Repo != hs.Repo {
		return LockOutdated
	}
	meta, err := readMeta(hs.dest)
	if err != nil {
		return LockMismatch
	}
	if meta.Version != e.Version {
		return LockMismatch
	}
	if e.Checksum != "" && meta.Checksum != e.Checksum {
		return LockMismatch
	}
	return LockOK
}

func (h *Hex) Checkout(ctx context.Context, s Spec, locked *lock.Entry) (lock.Entry, error) {
	hs := s.(*HexSpec)

	ver, sum := "", ""
	if locked != nil && locked.Kind == "hex" && locked.Package == hs.Package && locked.Repo == hs.Repo && locked.Version != "" {
		ver, sum = locked.Version, locked.Checksum
	}
	if ver == "" {
		rel, err := h.resolve(ctx, hs)
		if err != nil {
			return lock.Entry{}, err
		}
		ver, sum = rel.Version, rel.Checksum
	}

	return h.fetchRelease(ctx, hs, ver, sum)
}

func (h *Hex) Update(ctx context.Context, s Spec, locked *lock.Entry) (lock.Entry, error) {
	hs := s.(*HexSpec)
	rel, err := h.resolve(ctx, hs)
	if err != nil {
		return lock.Entry{}, err
	}
	return h.fetchRelease(ctx, hs, rel.Version, rel.Checksum)
}

func (h *Hex) Equal(a, b Spec) bool {
	ha, ok1 := a.(*HexSpec)
	hb, ok2 := b.(*HexSpec)
	return ok1 && ok2 && ha.Package == hb.Package && ha.Repo == hb.Repo
}

// resolve picks the highest published release satisfying the declared
// requirement. Pre-releases are only considered when the requirement
// itself names one, or when no stable release matches.
func (h *Hex) resolve(ctx context.Context, hs *HexSpec) (Release, error) {
	releases, err := h.releasesFor(ctx, hs)
	if err != nil {
		return Release{}, err
	}
	if len(releases) == 0 {
		return Release{}, &Error{Dep: hs.Name, Op: "resolve", Err: fmt.Errorf("package %s has no releases", hs.Redacted())}
	}

	var req *version.Requirement
	if hs.Requirement != "" {
		req, err = version.ParseRequirement(hs.Requirement)
		if err != nil {
			return Release{}, &Error{Dep: hs.Name, Op: "resolve", Err: err}
		}
	}

	sorted := make([]Release, len(releases))
	copy(sorted, releases)
	sort.Slice(sorted, func(i, j int) bool {
		return version.Compare(sorted[i].Version, sorted[j].Version) > 0
	})

	allowPre := req != nil && req.HasPrerelease()
	for _, pre := range []bool{allowPre, true} {
		for _, rel := range sorted {
			if !version.Valid(rel.Version) {
				continue
			}
			if !pre && version.Prerelease(rel.Version) {
				continue
			}
			if req != nil {
				ok, err := req.Match(rel.Version)
				if err != nil || !ok {
					continue
				}
			}
			return rel, nil
		}
	}

	return Release{}, &Error{
		Dep: hs.Name, Op: "resolve",
		Err:  fmt.Errorf("no release of %s matches %q (latest is %s)", hs.Redacted(), hs.Requirement, sorted[0].Version),
		Hint: "relax the requirement or pick a published version",
	}
}

func (h *Hex) releasesFor(ctx context.Context, hs *HexSpec) ([]Release, error) {
	key := hs.Repo + "/" + hs.Package
	if rs, ok := h.releases.Get(key); ok {
		return rs, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.packageURL(hs.Repo, hs.Package), nil)
	if err != nil {
		return nil, &Error{Dep: hs.Name, Op: "resolve", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &Error{Dep: hs.Name, Op: "resolve", Err: err, Hint: "check network access to the registry"}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, &Error{
			Dep: hs.Name, Op: "resolve",
			Err:  fmt.Errorf("package %s not found in registry", hs.Redacted()),
			Hint: "check the package name and repo",
		}
	default:
		return nil, &Error{Dep: hs.Name, Op: "resolve", Err: fmt.Errorf("registry returned status %d for %s", resp.StatusCode, hs.Redacted())}
	}

	var doc packageDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &Error{Dep: hs.Name, Op: "resolve", Err: fmt.Errorf("decoding registry response: %w", err)}
	}

	h.releases.Add(key, doc.Releases)
	return doc.Releases, nil
}

func (h *Hex) fetchRelease(ctx context.Context, hs *HexSpec, ver, sum string) (lock.Entry, error) {
	var data []byte
	if sum != "" && h.cache != nil {
		cached, ok, err := h.cache.Get(sum)
		if err != nil {
			return lock.Entry{}, &Error{Dep: hs.Name, Op: "cache read", Err: err}
		}
		if ok {
			data = cached
		}
	}

	if data == nil {
		downloaded, err := h.download(ctx, hs, ver)
		if err != nil {
			return lock.Entry{}, err
		}
		computed := cache.Checksum(downloaded)
		if sum != "" && computed != sum {
			return lock.Entry{}, &Error{
				Dep: hs.Name, Op: "verify",
				Err:  fmt.Errorf("checksum mismatch for %s %s: expected %s, got %s", hs.Package, ver, sum, computed),
				Hint: "the registry content changed since it was locked; verify the registry before retrying",
			}
		}
		sum = computed
		if h.cache != nil {
			if err := h.cache.Put(sum, downloaded); err != nil {
				return lock.Entry{}, &Error{Dep: hs.Name, Op: "cache write", Err: err}
			}
		}
		data = downloaded
	}

	if err := os.RemoveAll(hs.dest); err != nil {
		return lock.Entry{}, &Error{Dep: hs.Name, Op: "checkout", Err: err}
	}
	if err := os.MkdirAll(hs.dest, 0755); err != nil {
		return lock.Entry{}, &Error{Dep: hs.Name, Op: "checkout", Err: err}
	}
	if err := unpackTarball(data, hs.dest); err != nil {
		return lock.Entry{}, &Error{Dep: hs.Name, Op: "unpack", Err: err}
	}

	if err := writeMeta(hs.dest, checkoutMeta{
		Name:     hs.Package,
		Version:  ver,
		Checksum: sum,
		Repo:     hs.Repo,
	}); err != nil {
		return lock.Entry{}, &Error{Dep: hs.Name, Op: "checkout", Err: err}
	}

	return lock.Entry{
		Kind:     "hex",
		Repo:     hs.Repo,
		Package:  hs.Package,
		Version:  ver,
		Checksum: sum,
	}, nil
}

func (h *Hex) download(ctx context.Context, hs *HexSpec, ver string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.tarballURL(hs.Repo, hs.Package, ver), nil)
	if err != nil {
		return nil, &Error{Dep: hs.Name, Op: "download", Err: err}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &Error{Dep: hs.Name, Op: "download", Err: err, Hint: "check network access to the registry"}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Dep: hs.Name, Op: "download", Err: fmt.Errorf("registry returned status %d for %s %s", resp.StatusCode, hs.Package, ver)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Dep: hs.Name, Op: "download", Err: err}
	}
	return data, nil
}

func (h *Hex) packageURL(repo, pkg string) string {
	base := trimSlash(h.registryURL)
	if repo != DefaultRepo {
		return base + "/repos/" + repo + "/packages/" + pkg
	}
	return base + "/packages/" + pkg
}

func (h *Hex) tarballURL(repo, pkg, ver string) string {
	base := trimSlash(h.registryURL)
	name := pkg + "-" + ver + ".tar.gz"
	if repo != DefaultRepo {
		return base + "/repos/" + repo + "/tarballs/" + name
	}
	return base + "/tarballs/" + name
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

func readMeta(dest string) (checkoutMeta, error) {
	data, err := os.ReadFile(filepath.Join(dest, metaFile))
	if err != nil {
		return checkoutMeta{}, err
	}
	var meta checkoutMeta
	if err := toml.Unmarshal(data, &meta); err != nil {
		return checkoutMeta{}, err
	}
	return meta, nil
}

func writeMeta(dest string, meta checkoutMeta) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(meta); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, metaFile), buf.Bytes(), 0644)
}

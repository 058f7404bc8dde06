package scm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/xiaoqinglee/mason/internal/cache"
	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/manifest"
)

// hexRegistry is an in-memory registry serving one package.
type hexRegistry struct {
	*httptest.Server
	pkg       string
	tarballs  map[string][]byte
	docHits   atomic.Int32
	downloads atomic.Int32
}

func newHexRegistry(t *testing.T, pkg string, versions []string) *hexRegistry {
	t.Helper()

	reg := &hexRegistry{pkg: pkg, tarballs: make(map[string][]byte)}
	for _, v := range versions {
		reg.tarballs[v] = makeTarball(t, map[string]string{
			"mason.yaml": "name: " + pkg + "\nversion: " + v + "\n",
			"src/lib.ex": "version " + v,
		})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/packages/", func(w http.ResponseWriter, r *http.Request) {
		reg.docHits.Add(1)
		if strings.TrimPrefix(r.URL.Path, "/packages/") != pkg {
			http.NotFound(w, r)
			return
		}
		doc := packageDoc{Name: pkg}
		for v, data := range reg.tarballs {
			doc.Releases = append(doc.Releases, Release{Version: v, Checksum: cache.Checksum(data)})
		}
		_ = json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc("/tarballs/", func(w http.ResponseWriter, r *http.Request) {
		reg.downloads.Add(1)
		name := strings.TrimPrefix(r.URL.Path, "/tarballs/")
		name = strings.TrimSuffix(name, ".tar.gz")
		v := strings.TrimPrefix(name, pkg+"-")
		data, ok := reg.tarballs[v]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})

	reg.Server = httptest.NewServer(mux)
	t.Cleanup(reg.Close)
	return reg
}

func (r *hexRegistry) checksum(version string) string {
	return cache.Checksum(r.tarballs[version])
}

func newHexAdapter(t *testing.T, registryURL string) *Hex {
	t.Helper()
	c, err := cache.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewHex(HexConfig{RegistryURL: registryURL, DepsDir: t.TempDir(), Cache: c})
}

func TestHexAcceptsOptions(t *testing.T) {
	h := NewHex(HexConfig{RegistryURL: "https://registry.invalid", DepsDir: "/deps"})

	if spec, err := h.AcceptsOptions("dep", manifest.Declaration{Path: "../dep"}); spec != nil || err != nil {
		t.Errorf("path declaration should pass through, got %v, %v", spec, err)
	}
	if spec, err := h.AcceptsOptions("dep", manifest.Declaration{Git: "https://example.com/x.git"}); spec != nil || err != nil {
		t.Errorf("git declaration should pass through, got %v, %v", spec, err)
	}

	spec, err := h.AcceptsOptions("dep", manifest.Declaration{Requirement: "~> 1.0"})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	hs := spec.(*HexSpec)
	if hs.Package != "dep" || hs.Repo != DefaultRepo {
		t.Errorf("defaults not applied: %+v", hs)
	}
	if hs.Dest() != filepath.Join("/deps", "dep") {
		t.Errorf("Dest = %q", hs.Dest())
	}

	spec, err = h.AcceptsOptions("dep", manifest.Declaration{Package: "dep_core", Repo: "acme"})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	hs = spec.(*HexSpec)
	if hs.Package != "dep_core" || hs.Repo != "acme" {
		t.Errorf("overrides not applied: %+v", hs)
	}
}

func TestHexCheckoutResolvesHighestMatching(t *testing.T) {
	reg := newHexRegistry(t, "plug", []string{"1.0.0", "1.1.0", "2.0.0"})
	h := newHexAdapter(t, reg.URL)
	ctx := context.Background()

	spec, err := h.AcceptsOptions("plug", manifest.Declaration{Requirement: "~> 1.0"})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}

	entry, err := h.Checkout(ctx, spec, nil)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if entry.Version != "1.1.0" {
		t.Errorf("resolved version = %s, want 1.1.0", entry.Version)
	}
	if entry.Kind != "hex" || entry.Package != "plug" || entry.Repo != DefaultRepo {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Checksum != reg.checksum("1.1.0") {
		t.Error("entry checksum does not match tarball")
	}

	if !h.CheckedOut(spec) {
		t.Error("CheckedOut = false after checkout")
	}
	data, err := os.ReadFile(filepath.Join(spec.Dest(), "src", "lib.ex"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "version 1.1.0" {
		t.Errorf("unpacked content = %q", data)
	}
	if got := h.LockStatus(ctx, spec, &entry); got != LockOK {
		t.Errorf("LockStatus = %v, want ok", got)
	}
}

func TestHexCheckoutHonorsLock(t *testing.T) {
	reg := newHexRegistry(t, "plug", []string{"1.0.0", "1.1.0"})
	h := newHexAdapter(t, reg.URL)

	spec, err := h.AcceptsOptions("plug", manifest.Declaration{Requirement: ">= 1.0.0"})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	locked := &lock.Entry{Kind: "hex", Repo: DefaultRepo, Package: "plug", Version: "1.0.0", Checksum: reg.checksum("1.0.0")}

	entry, err := h.Checkout(context.Background(), spec, locked)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if entry.Version != "1.0.0" {
		t.Errorf("version = %s, want the locked 1.0.0", entry.Version)
	}
	if reg.docHits.Load() != 0 {
		t.Error("locked checkout should not consult the package index")
	}
}

func TestHexUpdateIgnoresLock(t *testing.T) {
	reg := newHexRegistry(t, "plug", []string{"1.0.0", "1.1.0"})
	h := newHexAdapter(t, reg.URL)

	spec, err := h.AcceptsOptions("plug", manifest.Declaration{})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	locked := &lock.Entry{Kind: "hex", Repo: DefaultRepo, Package: "plug", Version: "1.0.0", Checksum: reg.checksum("1.0.0")}

	entry, err := h.Update(context.Background(), spec, locked)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if entry.Version != "1.1.0" {
		t.Errorf("update version = %s, want 1.1.0", entry.Version)
	}
}

func TestHexChecksumMismatch(t *testing.T) {
	reg := newHexRegistry(t, "plug", []string{"1.0.0"})
	h := newHexAdapter(t, reg.URL)

	spec, err := h.AcceptsOptions("plug", manifest.Declaration{})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	locked := &lock.Entry{Kind: "hex", Repo: DefaultRepo, Package: "plug", Version: "1.0.0", Checksum: strings.Repeat("ab", 32)}

	_, err = h.Checkout(context.Background(), spec, locked)
	if err == nil {
		t.Fatal("expected checksum mismatch error")
	}
	if !strings.Contains(err.Error(), "checksum mismatch") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHexPrereleaseResolution(t *testing.T) {
	reg := newHexRegistry(t, "plug", []string{"1.0.0", "1.1.0-rc.1"})
	h := newHexAdapter(t, reg.URL)
	ctx := context.Background()

	// Stable releases win unless the requirement names a pre-release.
	spec, err := h.AcceptsOptions("plug", manifest.Declaration{})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	entry, err := h.Checkout(ctx, spec, nil)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if entry.Version != "1.0.0" {
		t.Errorf("version = %s, want stable 1.0.0", entry.Version)
	}

	spec, err = h.AcceptsOptions("plug", manifest.Declaration{Requirement: "~> 1.1.0-rc"})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	entry, err = h.Update(ctx, spec, nil)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if entry.Version != "1.1.0-rc.1" {
		t.Errorf("version = %s, want 1.1.0-rc.1", entry.Version)
	}
}

func TestHexOnlyPrereleasePublished(t *testing.T) {
	reg := newHexRegistry(t, "plug", []string{"0.1.0-beta.1"})
	h := newHexAdapter(t, reg.URL)

	spec, err := h.AcceptsOptions("plug", manifest.Declaration{})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	entry, err := h.Checkout(context.Background(), spec, nil)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if entry.Version != "0.1.0-beta.1" {
		t.Errorf("version = %s, want 0.1.0-beta.1", entry.Version)
	}
}

func TestHexNoMatchingRelease(t *testing.T) {
	reg := newHexRegistry(t, "plug", []string{"1.0.0"})
	h := newHexAdapter(t, reg.URL)

	spec, err := h.AcceptsOptions("plug", manifest.Declaration{Requirement: "~> 9.0"})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	_, err = h.Checkout(context.Background(), spec, nil)
	if err == nil {
		t.Fatal("expected no-matching-release error")
	}
	if !strings.Contains(err.Error(), "no release") || !strings.Contains(err.Error(), "latest is 1.0.0") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHexPackageNotFound(t *testing.T) {
	reg := newHexRegistry(t, "plug", []string{"1.0.0"})
	h := newHexAdapter(t, reg.URL)

	spec, err := h.AcceptsOptions("unknown_pkg", manifest.Declaration{})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	_, err = h.Checkout(context.Background(), spec, nil)
	if err == nil {
		t.Fatal("expected not-found error")
	}
	if !strings.Contains(err.Error(), "not found in registry") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHexCacheAvoidsRedownload(t *testing.T) {
	reg := newHexRegistry(t, "plug", []string{"1.0.0"})
	h := newHexAdapter(t, reg.URL)
	ctx := context.Background()

	spec, err := h.AcceptsOptions("plug", manifest.Declaration{})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	entry, err := h.Checkout(ctx, spec, nil)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if reg.downloads.Load() != 1 {
		t.Fatalf("downloads = %d, want 1", reg.downloads.Load())
	}

	if err := os.RemoveAll(spec.Dest()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Checkout(ctx, spec, &entry); err != nil {
		t.Fatalf("second Checkout: %v", err)
	}
	if reg.downloads.Load() != 1 {
		t.Errorf("downloads = %d after cached checkout, want 1", reg.downloads.Load())
	}
}

func TestHexLockStatus(t *testing.T) {
	reg := newHexRegistry(t, "plug", []string{"1.0.0"})
	h := newHexAdapter(t, reg.URL)
	ctx := context.Background()

	spec, err := h.AcceptsOptions("plug", manifest.Declaration{})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}

	if got := h.LockStatus(ctx, spec, nil); got != LockMismatch {
		t.Errorf("nil lock: %v, want mismatch", got)
	}

	entry, err := h.Checkout(ctx, spec, nil)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if got := h.LockStatus(ctx, spec, &entry); got != LockOK {
		t.Errorf("fresh checkout: %v, want ok", got)
	}

	other := entry
	other.Package = "other_pkg"
	if got := h.LockStatus(ctx, spec, &other); got != LockOutdated {
		t.Errorf("package drift: %v, want outdated", got)
	}

	drifted := entry
	drifted.Version = "9.9.9"
	if got := h.LockStatus(ctx, spec, &drifted); got != LockMismatch {
		t.Errorf("version drift: %v, want mismatch", got)
	}
}

func TestHexFormat(t *testing.T) {
	h := NewHex(HexConfig{RegistryURL: "https://registry.invalid", DepsDir: "/deps"})

	spec, err := h.AcceptsOptions("plug", manifest.Declaration{Requirement: "~> 1.14"})
	if err != nil {
		t.Fatalf("AcceptsOptions: %v", err)
	}
	if got := h.Format(spec); got != "hexpm/plug (~> 1.14)" {
		t.Errorf("Format = %q", got)
	}

	e := &lock.Entry{Kind: "hex", Version: "1.14.2", Checksum: strings.Repeat("ab", 32)}
	if got := h.FormatLock(e); got != "1.14.2 abababab" {
		t.Errorf("FormatLock = %q", got)
	}
	if got := h.FormatLock(nil); got != "" {
		t.Errorf("FormatLock(nil) = %q", got)
	}
}

func TestHexRepoURLs(t *testing.T) {
	h := NewHex(HexConfig{RegistryURL: "https://registry.example.com/", DepsDir: "/deps"})

	if got := h.packageURL(DefaultRepo, "plug"); got != "https://registry.example.com/packages/plug" {
		t.Errorf("packageURL = %q", got)
	}
	if got := h.packageURL("acme", "plug"); got != "https://registry.example.com/repos/acme/packages/plug" {
		t.Errorf("private packageURL = %q", got)
	}
	if got := h.tarballURL(DefaultRepo, "plug", "1.0.0"); got != "https://registry.example.com/tarballs/plug-1.0.0.tar.gz" {
		t.Errorf("tarballURL = %q", got)
	}
	if got := h.tarballURL("acme", "plug", "1.0.0"); got != "https://registry.example.com/repos/acme/tarballs/plug-1.0.0.tar.gz" {
		t.Errorf("private tarballURL = %q", got)
	}
}

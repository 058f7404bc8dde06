package mason

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xiaoqinglee/mason/internal/buildmeta"
	"github.com/xiaoqinglee/mason/internal/lock"
)

// writeProject writes a minimal project with one path dependency.
func writeProject(t *testing.T, dir string) {
	t.Helper()
	root := `name: app
version: 0.1.0
deps:
  - name: lib
    path: ./lib
`
	if err := os.WriteFile(filepath.Join(dir, "mason.yaml"), []byte(root), 0644); err != nil {
		t.Fatal(err)
	}
	writeDepManifest(t, filepath.Join(dir, "lib"), "name: lib\nversion: 0.1.0\n")
}

func writeDepManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mason.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// newTestClient creates a client with isolated temp paths and a fixed
// environment.
func newTestClient(t *testing.T, dir string) *Client {
	t.Helper()
	client, err := New(Options{
		Dir:            dir,
		Env:            "dev",
		CacheDir:       filepath.Join(dir, "cache"),
		RuntimeVersion: "1.16.0",
		EnvLookup:      func(string) string { return "" },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestNewDefaultPaths(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)

	client, err := New(Options{Dir: dir, CacheDir: filepath.Join(dir, "cache")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client.root != dir {
		t.Errorf("root = %q, want %q", client.root, dir)
	}
	if want := filepath.Join(dir, "mason.yaml"); client.manifestPath != want {
		t.Errorf("manifestPath = %q, want %q", client.manifestPath, want)
	}
	if want := filepath.Join(dir, "mason.lock"); client.lockfilePath != want {
		t.Errorf("lockfilePath = %q, want %q", client.lockfilePath, want)
	}
}

func TestNewDerivesDirFromManifest(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)

	client, err := New(Options{
		ManifestPath: filepath.Join(dir, "mason.yaml"),
		CacheDir:     filepath.Join(dir, "cache"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if client.root != dir {
		t.Errorf("root = %q, want %q", client.root, dir)
	}
}

func TestClientList(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)
	client := newTestClient(t, dir)

	res, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Deps) != 1 {
		t.Fatalf("deps = %d, want 1", len(res.Deps))
	}
	d := res.Deps[0]
	if d.Name != "lib" {
		t.Errorf("name = %q, want lib", d.Name)
	}
	if d.Status != StatusOK {
		t.Errorf("status = %v, want ok", d.Status)
	}
	if d.Version != "0.1.0" {
		t.Errorf("version = %q, want 0.1.0", d.Version)
	}
}

func TestClientListDiscoversTransitives(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)
	writeDepManifest(t, filepath.Join(dir, "lib"),
		"name: lib\nversion: 0.1.0\ndeps:\n  - name: sub\n    path: ./sub\n")
	writeDepManifest(t, filepath.Join(dir, "lib", "sub"), "name: sub\nversion: 0.2.0\n")

	client := newTestClient(t, dir)
	res, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Deps) != 2 {
		t.Fatalf("deps = %d, want 2", len(res.Deps))
	}
	if res.Deps[0].Name != "lib" || res.Deps[1].Name != "sub" {
		t.Errorf("order = [%s %s], want [lib sub]", res.Deps[0].Name, res.Deps[1].Name)
	}
	if res.Deps[1].Version != "0.2.0" {
		t.Errorf("sub version = %q, want 0.2.0", res.Deps[1].Version)
	}
}

func TestClientGetPathOnlyWritesNoLock(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)
	client := newTestClient(t, dir)

	res, err := client.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(res.Deps) != 1 {
		t.Fatalf("deps = %d, want 1", len(res.Deps))
	}
	// Path dependencies are used in place; nothing to lock.
	if _, err := os.Stat(client.lockfilePath); !os.IsNotExist(err) {
		t.Error("expected no lockfile for a path-only project")
	}
}

func TestClientUpdateUnknownName(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)
	client := newTestClient(t, dir)

	_, err := client.Update(context.Background(), []string{"zzz"})
	if err == nil || !strings.Contains(err.Error(), "unknown dependency zzz") {
		t.Fatalf("err = %v, want unknown dependency zzz", err)
	}
}

func TestClientUnlock(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)
	client := newTestClient(t, dir)

	seed := lock.Map{
		"a": {Kind: "git", URL: "https://example.com/a.git", Rev: "r1"},
		"b": {Kind: "git", URL: "https://example.com/b.git", Rev: "r2"},
	}
	if err := lock.Write(client.lockfilePath, seed); err != nil {
		t.Fatal(err)
	}

	removed, err := client.Unlock([]string{"a", "missing"})
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if len(removed) != 1 || removed[0] != "a" {
		t.Errorf("removed = %v, want [a]", removed)
	}

	m, err := lock.Read(client.lockfilePath)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m["a"]; ok {
		t.Error("a should be unlocked")
	}
	if _, ok := m["b"]; !ok {
		t.Error("b should stay locked")
	}

	// nil names drops everything.
	removed, err = client.Unlock(nil)
	if err != nil {
		t.Fatalf("Unlock all: %v", err)
	}
	if len(removed) != 1 || removed[0] != "b" {
		t.Errorf("removed = %v, want [b]", removed)
	}
	m, err = lock.Read(client.lockfilePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(m) != 0 {
		t.Errorf("entries = %d, want 0", len(m))
	}
}

func TestClientUnlockUnused(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)
	client := newTestClient(t, dir)

	seed := lock.Map{
		"lib":   {Kind: "git", URL: "https://example.com/lib.git", Rev: "r1"},
		"ghost": {Kind: "git", URL: "https://example.com/ghost.git", Rev: "r2"},
	}
	if err := lock.Write(client.lockfilePath, seed); err != nil {
		t.Fatal(err)
	}

	removed, err := client.UnlockUnused(context.Background())
	if err != nil {
		t.Fatalf("UnlockUnused: %v", err)
	}
	if len(removed) != 1 || removed[0] != "ghost" {
		t.Errorf("removed = %v, want [ghost]", removed)
	}

	m, err := lock.Read(client.lockfilePath)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m["lib"]; !ok {
		t.Error("lib should stay locked")
	}

	// A second pass finds nothing and leaves the file alone.
	removed, err = client.UnlockUnused(context.Background())
	if err != nil {
		t.Fatalf("UnlockUnused: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("removed = %v, want none", removed)
	}
}

func TestClientMarkBuilt(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)
	client := newTestClient(t, dir)
	ctx := context.Background()

	if err := client.MarkBuilt(ctx, "lib", "0.9.0"); err != nil {
		t.Fatalf("MarkBuilt: %v", err)
	}

	rec, built := buildmeta.Read(buildmeta.Path(filepath.Join(dir, "_build"), "dev", "lib"))
	if !built {
		t.Fatal("expected a build record")
	}
	if rec.SCM != "path" {
		t.Errorf("scm = %q, want path", rec.SCM)
	}
	if rec.Env != "dev" {
		t.Errorf("env = %q, want dev", rec.Env)
	}
	if rec.Runtime != "1.16.0" {
		t.Errorf("runtime = %q, want 1.16.0", rec.Runtime)
	}
	if rec.Toolchain != "0.9.0" {
		t.Errorf("toolchain = %q, want 0.9.0", rec.Toolchain)
	}

	// The record matches the current world, so the dependency stays
	// ready.
	res, err := client.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.Deps[0].Status != StatusOK {
		t.Errorf("status = %v, want ok", res.Deps[0].Status)
	}

	if err := client.MarkBuilt(ctx, "zzz", "0.9.0"); err == nil {
		t.Error("expected error for unknown dependency")
	}
}

func TestClientClean(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)
	client := newTestClient(t, dir)

	checkout := filepath.Join(dir, "deps", "x")
	build := filepath.Join(dir, "_build", "dev", "x")
	for _, d := range []string{checkout, build} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := client.Clean([]string{"x"}, false)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed = %v, want 2 paths", removed)
	}
	for _, d := range []string{checkout, build} {
		if _, err := os.Stat(d); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", d)
		}
	}
}

func TestClientCleanUnused(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir)
	client := newTestClient(t, dir)

	orphan := filepath.Join(dir, "deps", "orphan")
	if err := os.MkdirAll(orphan, 0755); err != nil {
		t.Fatal(err)
	}

	removed, err := client.CleanUnused(context.Background())
	if err != nil {
		t.Fatalf("CleanUnused: %v", err)
	}
	if len(removed) != 1 || removed[0] != orphan {
		t.Errorf("removed = %v, want [%s]", removed, orphan)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("orphan checkout should be removed")
	}
}

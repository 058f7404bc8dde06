package deps

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testCleaner(t *testing.T) (*Cleaner, string) {
	t.Helper()
	root := t.TempDir()
	c := &Cleaner{
		DepsDir:  filepath.Join(root, "deps"),
		BuildDir: filepath.Join(root, "_build"),
	}
	return c, root
}

func mkdirs(t *testing.T, paths ...string) {
	t.Helper()
	for _, p := range paths {
		if err := os.MkdirAll(p, 0755); err != nil {
			t.Fatal(err)
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func TestCleanRemovesBuildAndCheckout(t *testing.T) {
	c, _ := testCleaner(t)
	mkdirs(t,
		filepath.Join(c.DepsDir, "a"),
		filepath.Join(c.DepsDir, "b"),
		filepath.Join(c.BuildDir, "dev", "a"),
		filepath.Join(c.BuildDir, "prod", "a"),
		filepath.Join(c.BuildDir, "dev", "b"),
	)

	removed, err := c.Clean([]string{"a"}, false)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("removed %d paths (%v), want 3", len(removed), removed)
	}

	for _, gone := range []string{
		filepath.Join(c.DepsDir, "a"),
		filepath.Join(c.BuildDir, "dev", "a"),
		filepath.Join(c.BuildDir, "prod", "a"),
	} {
		if exists(gone) {
			t.Errorf("%s still present", gone)
		}
	}
	for _, kept := range []string{
		filepath.Join(c.DepsDir, "b"),
		filepath.Join(c.BuildDir, "dev", "b"),
	} {
		if !exists(kept) {
			t.Errorf("%s removed, but only a was named", kept)
		}
	}
}

func TestCleanBuildOnly(t *testing.T) {
	c, _ := testCleaner(t)
	mkdirs(t,
		filepath.Join(c.DepsDir, "a"),
		filepath.Join(c.BuildDir, "dev", "a"),
	)

	if _, err := c.Clean([]string{"a"}, true); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if exists(filepath.Join(c.BuildDir, "dev", "a")) {
		t.Error("build artifacts survived a build-only clean")
	}
	if !exists(filepath.Join(c.DepsDir, "a")) {
		t.Error("checkout removed by a build-only clean")
	}
}

func TestCleanMissingDepIsQuiet(t *testing.T) {
	c, _ := testCleaner(t)
	mkdirs(t, c.DepsDir)

	removed, err := c.Clean([]string{"ghost"}, false)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("removed %v for a dependency that was never fetched", removed)
	}
}

func TestCleanRefusesPathEscape(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "proj")
	victim := filepath.Join(base, "victim")
	c := &Cleaner{
		DepsDir:  filepath.Join(root, "deps"),
		BuildDir: filepath.Join(root, "_build"),
	}
	mkdirs(t, c.DepsDir, filepath.Join(c.BuildDir, "dev"), victim)

	_, err := c.Clean([]string{"../../victim"}, false)
	if err == nil || !strings.Contains(err.Error(), "outside") {
		t.Fatalf("err = %v, want a containment refusal", err)
	}
	if !exists(victim) {
		t.Fatal("directory outside the project was removed")
	}
}

func TestCleanRefusesSymlinkedCheckout(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "proj")
	outside := filepath.Join(base, "outside")
	c := &Cleaner{
		DepsDir:  filepath.Join(root, "deps"),
		BuildDir: filepath.Join(root, "_build"),
	}
	mkdirs(t, c.DepsDir, outside)
	if err := os.Symlink(outside, filepath.Join(c.DepsDir, "sneaky")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := c.Clean([]string{"sneaky"}, false)
	if err == nil || !strings.Contains(err.Error(), "outside") {
		t.Fatalf("err = %v, want a containment refusal", err)
	}
	if !exists(outside) {
		t.Fatal("symlink target outside the deps dir was removed")
	}
	if !exists(filepath.Join(c.DepsDir, "sneaky")) {
		t.Error("refused clean still removed the link")
	}
}

func TestCleanUnused(t *testing.T) {
	c, _ := testCleaner(t)
	mkdirs(t,
		filepath.Join(c.DepsDir, "a"),
		filepath.Join(c.DepsDir, "b"),
		filepath.Join(c.DepsDir, "c"),
	)
	if err := os.WriteFile(filepath.Join(c.DepsDir, "README"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	names, err := c.Unused(map[string]bool{"a": true})
	if err != nil {
		t.Fatalf("Unused: %v", err)
	}
	if len(names) != 2 || names[0] != "b" || names[1] != "c" {
		t.Errorf("Unused = %v, want [b c]", names)
	}

	// A deps dir that was never created has nothing unused.
	c2 := &Cleaner{DepsDir: filepath.Join(t.TempDir(), "never"), BuildDir: c.BuildDir}
	names, err = c2.Unused(nil)
	if err != nil || names != nil {
		t.Errorf("Unused on missing dir = %v, %v", names, err)
	}
}

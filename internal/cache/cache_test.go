package cache

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := []byte("tarball bytes")
	sum := Checksum(content)

	if err := c.Put(sum, content); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get(sum)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get: entry not found after Put")
	}
	if string(got) != string(content) {
		t.Errorf("Get = %q, want %q", got, content)
	}
}

func TestGetMissing(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, ok, err := c.Get(Checksum([]byte("never stored")))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get reported a hit for an absent entry")
	}
}

func TestPutRejectsChecksumMismatch(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Put(Checksum([]byte("a")), []byte("b")); err == nil {
		t.Error("Put accepted content that does not match its checksum")
	}
}

func TestGetRemovesCorruptEntry(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := []byte("original")
	sum := Checksum(content)
	if err := c.Put(sum, content); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Corrupt the stored entry behind the cache's back.
	path := filepath.Join(dir, "packages", sum[:2], sum)
	if err := os.WriteFile(path, []byte("tampered"), 0644); err != nil {
		t.Fatal(err)
	}

	_, ok, err := c.Get(sum)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get returned corrupt content")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("corrupt entry was not removed")
	}
}

func TestHas(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := []byte("something")
	sum := Checksum(content)
	if c.Has(sum) {
		t.Error("Has reported entry before Put")
	}
	if err := c.Put(sum, content); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !c.Has(sum) {
		t.Error("Has missed entry after Put")
	}
}

func TestPurge(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := []byte("to purge")
	sum := Checksum(content)
	if err := c.Put(sum, content); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := c.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if c.Has(sum) {
		t.Error("entry survived Purge")
	}

	// The cache must stay usable after a purge.
	if err := c.Put(sum, content); err != nil {
		t.Fatalf("Put after Purge: %v", err)
	}
}

func TestSize(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := []byte("1234567890")
	if err := c.Put(Checksum(content), content); err != nil {
		t.Fatalf("Put: %v", err)
	}

	size, err := c.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if size < int64(len(content)) {
		t.Errorf("Size = %d, want at least %d", size, len(content))
	}
}

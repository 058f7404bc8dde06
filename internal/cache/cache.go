// Package cache stores downloaded registry tarballs content-addressed
// by their SHA256 checksum, so a package release is fetched from the
// network at most once per machine.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Cache is a content-addressed tarball store shared across projects.
// Entries are immutable and verified against their checksum on every
// read.
type Cache struct {
	dir string
}

// New creates a Cache rooted at dir, creating it if needed.
func New(dir string) (*Cache, error) {
	pkgDir := filepath.Join(dir, "packages")
	if err := os.MkdirAll(pkgDir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", pkgDir, err)
	}
	return &Cache{dir: dir}, nil
}

// Get retrieves a cached tarball by checksum. It returns the content
// and true when found and verified. A corrupt entry is removed and
// reported as absent, forcing a fresh download.
func (c *Cache) Get(checksum string) ([]byte, bool, error) {
	path := c.entryPath(checksum)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry %s: %w", checksum, err)
	}

	if Checksum(data) != checksum {
		_ = os.Remove(path)
		return nil, false, nil
	}

	return data, true, nil
}

// Put stores a tarball under its checksum, verifying the content first.
// Storing an already-cached checksum is a no-op.
func (c *Cache) Put(checksum string, content []byte) error {
	if actual := Checksum(content); actual != checksum {
		return fmt.Errorf("cache put: content checksum %s does not match declared checksum %s", actual, checksum)
	}

	path := c.entryPath(checksum)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache subdirectory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("writing cache temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming cache temp file: %w", err)
	}

	success = true
	return nil
}

// Has reports whether a checksum is cached, without reading it.
func (c *Cache) Has(checksum string) bool {
	_, err := os.Stat(c.entryPath(checksum))
	return err == nil
}

// Size returns the total bytes stored.
func (c *Cache) Size() (int64, error) {
	var total int64
	err := filepath.Walk(c.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// Purge removes every cached tarball.
func (c *Cache) Purge() error {
	pkgDir := filepath.Join(c.dir, "packages")
	if err := os.RemoveAll(pkgDir); err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	return os.MkdirAll(pkgDir, 0755)
}

// Path returns the cache root directory.
func (c *Cache) Path() string {
	return c.dir
}

func (c *Cache) entryPath(checksum string) string {
	if len(checksum) < 2 {
		return filepath.Join(c.dir, "packages", checksum)
	}
	return filepath.Join(c.dir, "packages", checksum[:2], checksum)
}

// Checksum computes the hex-encoded SHA256 checksum of content.
func Checksum(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// Package buildmeta tracks what each dependency was last compiled
// against: runtime and toolchain versions, the source manager it was
// fetched with, and the compile-time environment fingerprint. The
// staleness classifier compares these records against the current world
// to decide whether a rebuild is needed.
package buildmeta

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// Schema is the record version written by this tool. Readers accept
// older records by falling back to defaults for absent fields.
const Schema = 2

// FileName is the record file inside a dependency's build directory.
const FileName = ".mason-build.toml"

// Record is one dependency's compile-time snapshot.
type Record struct {
	Schema    int    `toml:"schema"`
	Runtime   string `toml:"runtime"`
	Toolchain string `toml:"toolchain"`
	SCM       string `toml:"scm"`
	Env       string `toml:"env"`
	EnvHash   string `toml:"env_hash"`
}

// Defaults returns the record assumed for dependencies compiled before
// records were written, or whose record cannot be interpreted.
func Defaults() Record {
	return Record{
		Schema:    1,
		Runtime:   "1.0.0",
		Toolchain: "unknown",
		SCM:       "unknown",
	}
}

// Path returns the record location for a dependency compiled under the
// given build directory and environment.
func Path(buildDir, env, dep string) string {
	return filepath.Join(buildDir, env, dep, FileName)
}

// Read loads a record. The second return reports whether a record file
// exists at all. Corrupt or unreadable records degrade to Defaults
// rather than failing: an uninterpretable record must never abort a
// status run.
func Read(path string) (Record, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Defaults(), false
	}

	var r Record
	if err := toml.Unmarshal(data, &r); err != nil {
		return Defaults(), true
	}

	d := Defaults()
	if r.Schema == 0 {
		r.Schema = d.Schema
	}
	if r.Runtime == "" {
		r.Runtime = d.Runtime
	}
	if r.Toolchain == "" {
		r.Toolchain = d.Toolchain
	}
	if r.SCM == "" {
		r.SCM = d.SCM
	}
	return r, true
}

// Write saves a record atomically, creating parent directories as
// needed.
func Write(path string, r Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating build directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(r); err != nil {
		return fmt.Errorf("encoding build record: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing temp build record %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp build record to %s: %w", path, err)
	}
	return nil
}

// EnvHash fingerprints the named environment variables through lookup.
// Keys are sorted first, so the hash is stable regardless of declaration
// order. An empty key list hashes to the empty string.
func EnvHash(keys []string, lookup func(string) string) string {
	if len(keys) == 0 {
		return ""
	}
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	h := sha256.New()
	for _, k := range sorted {
		fmt.Fprintf(h, "%s=%s\n", k, lookup(k))
	}
	return hex.EncodeToString(h.Sum(nil))
}

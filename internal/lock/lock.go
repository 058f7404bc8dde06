// Package lock reads and writes mason.lock, the file that pins every
// fetched dependency to an immutable identity: a git revision or a
// registry release with its checksum.
package lock

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// File is the lockfile name in the project root.
const File = "mason.lock"

// Version is the lockfile schema version written by this tool.
const Version = 1

// ErrCorrupt marks a lockfile that exists but cannot be parsed. Callers
// may treat the lock as empty, which forces affected dependencies to be
// re-locked on the next fetch.
var ErrCorrupt = errors.New("lockfile is corrupt")

// Entry records the resolved identity of one dependency. Kind selects
// which field group is meaningful.
type Entry struct {
	Kind string `yaml:"kind"` // "git" or "hex"

	// Git identity: the exact revision plus the declaration options it
	// was resolved under.
	URL        string `yaml:"url,omitempty"`
	Rev        string `yaml:"rev,omitempty"`
	Branch     string `yaml:"branch,omitempty"`
	Tag        string `yaml:"tag,omitempty"`
	Ref        string `yaml:"ref,omitempty"`
	Depth      int    `yaml:"depth,omitempty"`
	Sparse     string `yaml:"sparse,omitempty"`
	Subdir     string `yaml:"subdir,omitempty"`
	Submodules bool   `yaml:"submodules,omitempty"`

	// Registry identity.
	Repo     string `yaml:"repo,omitempty"`
	Package  string `yaml:"package,omitempty"`
	Version  string `yaml:"version,omitempty"`
	Checksum string `yaml:"checksum,omitempty"`
}

// Equal reports whether two entries pin the same identity.
func (e Entry) Equal(other Entry) bool {
	return e == other
}

// Map holds lockfile contents keyed by dependency name.
type Map map[string]Entry

// Names returns the locked dependency names in sorted order.
func (m Map) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unused returns the locked names absent from keep, in sorted order.
func Unused(m Map, keep map[string]bool) []string {
	var unused []string
	for name := range m {
		if !keep[name] {
			unused = append(unused, name)
		}
	}
	sort.Strings(unused)
	return unused
}

// lockfile is the on-disk document. Entries are a sorted list rather
// than a mapping so that writes are byte-for-byte deterministic.
type lockfile struct {
	Version int          `yaml:"version"`
	Deps    []namedEntry `yaml:"deps"`
}

type namedEntry struct {
	Name  string `yaml:"name"`
	Entry `yaml:",inline"`
}

// Read loads a lockfile. A missing file is not an error and yields an
// empty map. A file that cannot be parsed yields an empty map and an
// error wrapping ErrCorrupt; a file written by a newer tool version is
// a plain error, so it is never silently overwritten.
func Read(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Map{}, nil
		}
		return nil, fmt.Errorf("reading lockfile %s: %w", path, err)
	}

	var lf lockfile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return Map{}, fmt.Errorf("%w: parsing %s: %v", ErrCorrupt, path, err)
	}
	if lf.Version > Version {
		return nil, fmt.Errorf("lockfile %s has version %d, this tool supports up to %d", path, lf.Version, Version)
	}

	m := make(Map, len(lf.Deps))
	for _, d := range lf.Deps {
		if d.Name == "" {
			return Map{}, fmt.Errorf("%w: %s has an entry without a name", ErrCorrupt, path)
		}
		m[d.Name] = d.Entry
	}
	return m, nil
}

// Write saves the lockfile atomically via a temp file and rename.
// Entries are sorted by name so identical contents always produce
// identical bytes.
func Write(path string, m Map) error {
	lf := lockfile{Version: Version, Deps: make([]namedEntry, 0, len(m))}
	for _, name := range m.Names() {
		lf.Deps = append(lf.Deps, namedEntry{Name: name, Entry: m[name]})
	}

	data, err := yaml.Marshal(&lf)
	if err != nil {
		return fmt.Errorf("marshaling lockfile: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp lockfile %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming temp lockfile to %s: %w", path, err)
	}

	return nil
}

// Package scm defines the source manager contract behind dependency
// fetching. Each manager (git, path, hex registry) knows how to claim a
// declaration, materialize it on disk, and compare a checkout against
// the lockfile.
package scm

import (
	"context"
	"fmt"
	"strings"

	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/manifest"
)

// LockStatus is the verdict of comparing a checkout with its lock entry.
type LockStatus int

const (
	// LockOK means the checkout matches the lock entry exactly.
	LockOK LockStatus = iota
	// LockMismatch means the lock entry is absent, or the checkout does
	// not correspond to it. Remedied by fetching.
	LockMismatch
	// LockOutdated means the lock entry exists but was written under
	// different declaration options. Remedied by updating.
	LockOutdated
)

func (s LockStatus) String() string {
	switch s {
	case LockOK:
		return "ok"
	case LockMismatch:
		return "mismatch"
	case LockOutdated:
		return "outdated"
	}
	return fmt.Sprintf("LockStatus(%d)", int(s))
}

// Spec is a manager-specific, validated view of one declaration.
type Spec interface {
	// Kind is the owning manager's name.
	Kind() string
	// Dest is the directory the dependency is checked out into.
	Dest() string
	// ProjectDir is where the dependency's own manifest lives, usually
	// Dest but possibly a subdirectory of it.
	ProjectDir() string
	// Redacted is a display form safe for logs, with credentials
	// stripped.
	Redacted() string
}

// Adapter is one source manager. Implementations must be safe for
// concurrent use: the fetcher invokes Checkout and Update from a worker
// pool.
type Adapter interface {
	// Name identifies the manager ("git", "path", "hex").
	Name() string

	// Fetchable reports whether checkouts are produced by fetching.
	// Non-fetchable dependencies (paths) are used in place and never
	// locked.
	Fetchable() bool

	// AcceptsOptions inspects a declaration. It returns (nil, nil) when
	// the declaration is not for this manager, a Spec when claimed, and
	// an error when claimed but invalid.
	AcceptsOptions(name string, d manifest.Declaration) (Spec, error)

	// Format renders the spec for listings.
	Format(s Spec) string

	// FormatLock renders a lock entry for listings. A nil entry renders
	// empty.
	FormatLock(e *lock.Entry) string

	// CheckedOut reports whether the dependency is materialized at its
	// destination.
	CheckedOut(s Spec) bool

	// LockStatus compares the checkout and declaration against a lock
	// entry, nil meaning unlocked.
	LockStatus(ctx context.Context, s Spec, e *lock.Entry) LockStatus

	// Checkout materializes the dependency, honoring the lock entry
	// when it matches the declaration. It returns the immutable
	// identity to be locked.
	Checkout(ctx context.Context, s Spec, locked *lock.Entry) (lock.Entry, error)

	// Update refreshes the checkout to the newest state allowed by the
	// declaration, ignoring the previous lock.
	Update(ctx context.Context, s Spec, locked *lock.Entry) (lock.Entry, error)

	// Equal reports whether two specs of this manager address the same
	// source.
	Equal(a, b Spec) bool
}

// Set dispatches declarations across an ordered list of adapters: the
// first adapter that claims a declaration wins. Order therefore encodes
// precedence, with the registry adapter typically last as the fallback.
type Set struct {
	adapters []Adapter
}

// NewSet builds a Set with the given adapter order.
func NewSet(adapters ...Adapter) *Set {
	return &Set{adapters: adapters}
}

// Select finds the adapter claiming the declaration and returns its
// validated spec.
func (s *Set) Select(name string, d manifest.Declaration) (Adapter, Spec, error) {
	for _, a := range s.adapters {
		spec, err := a.AcceptsOptions(name, d)
		if err != nil {
			return nil, nil, err
		}
		if spec != nil {
			return a, spec, nil
		}
	}
	return nil, nil, fmt.Errorf("no source manager recognizes dependency '%s' (available: %s)", name, strings.Join(s.Names(), ", "))
}

// Get returns the adapter with the given name.
func (s *Set) Get(name string) (Adapter, bool) {
	for _, a := range s.adapters {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// Names lists the registered adapter names in dispatch order.
func (s *Set) Names() []string {
	names := make([]string, len(s.adapters))
	for i, a := range s.adapters {
		names[i] = a.Name()
	}
	return names
}

// Error represents a failure of one source manager operation on one
// dependency.
type Error struct {
	Dep  string
	Op   string
	Err  error
	Hint string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s failed: %s", e.Dep, e.Op, e.Err)
	if e.Hint != "" {
		msg += " — " + e.Hint
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

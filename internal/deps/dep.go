// Package deps resolves a project's declared dependencies into a flat,
// deterministically ordered graph. It loads declarations through the
// source managers, converges duplicate declarations across graph
// levels, classifies each resolved dependency's staleness, and drives
// fetching against the lockfile.
package deps

import (
	"fmt"

	"github.com/xiaoqinglee/mason/internal/manifest"
	"github.com/xiaoqinglee/mason/internal/scm"
)

// Status describes how a resolved dependency relates to its
// declaration, lock entry, checkout, and previous build. Statuses are
// mutually exclusive and assigned in precedence order.
type Status int

const (
	// StatusOK means the dependency is fetched, locked, and current.
	StatusOK Status = iota

	// StatusUnavailable means there is no checkout yet.
	StatusUnavailable

	// StatusDiverged means two declarations name different sources for
	// this dependency and no override resolves them.
	StatusDiverged

	// StatusDivergedReq means two declarations agree on the source but
	// carry incompatible version requirements.
	StatusDivergedReq

	// StatusOverridden means a divergence was resolved by a top-level
	// override. Informational; the dependency is usable.
	StatusOverridden

	// StatusLockMismatch means there is no lock entry, or the checkout
	// does not correspond to it.
	StatusLockMismatch

	// StatusLockOutdated means the declaration options changed since the
	// lock entry was written.
	StatusLockOutdated

	// StatusRuntimeMismatch means the currently running runtime does not
	// satisfy the dependency's own declared runtime requirement.
	StatusRuntimeMismatch

	// StatusSCMChanged means the dependency was last built under a
	// different source manager than the one now configured.
	StatusSCMChanged

	// StatusEnvChanged means the build environment or the compile-time
	// environment fingerprint changed since the last build.
	StatusEnvChanged

	// StatusBadRequirement means the dependency's reported version is
	// invalid or fails the requirement declared by its parents.
	StatusBadRequirement
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUnavailable:
		return "unavailable"
	case StatusDiverged:
		return "diverged"
	case StatusDivergedReq:
		return "diverged requirement"
	case StatusOverridden:
		return "overridden"
	case StatusLockMismatch:
		return "lock mismatch"
	case StatusLockOutdated:
		return "lock outdated"
	case StatusRuntimeMismatch:
		return "runtime mismatch"
	case StatusSCMChanged:
		return "source manager changed"
	case StatusEnvChanged:
		return "build environment changed"
	case StatusBadRequirement:
		return "requirement not met"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Ready reports whether the dependency can be used as is. Overridden is
// informational, everything else demands a fetch, update, or clean.
func (s Status) Ready() bool {
	return s == StatusOK || s == StatusOverridden
}

// Diagnostic carries the expected/actual pair behind a status plus the
// command that remedies it. The reporting layer renders it; nothing in
// this package prints.
type Diagnostic struct {
	Expected string
	Actual   string
	Command  string
}

// Manager identifies the build-system integration a dependency uses,
// probed from its checkout.
type Manager int

const (
	// ManagerNone means no recognized build integration.
	ManagerNone Manager = iota
	// ManagerMason means the dependency carries its own mason.yaml.
	ManagerMason
	// ManagerMake means the dependency builds through a Makefile.
	ManagerMake
)

func (m Manager) String() string {
	switch m {
	case ManagerNone:
		return "none"
	case ManagerMason:
		return "mason"
	case ManagerMake:
		return "make"
	}
	return fmt.Sprintf("Manager(%d)", int(m))
}

// Dep is one resolved node of the dependency graph. Names are globally
// unique in a converged list; the converger enforces that.
type Dep struct {
	Name        string
	Requirement string

	Adapter scm.Adapter
	Spec    scm.Spec

	Status Status
	Diag   Diagnostic

	// From is the manifest that first declared this dependency.
	From string

	// TopLevel is true for direct dependencies of the root project.
	TopLevel bool

	// Override marks a declaration carrying override: true. Overridden
	// marks a dependency whose divergent declarations were resolved by
	// such an override.
	Override   bool
	Overridden bool

	Optional bool
	Only     []string
	Compile  bool
	Runtime  bool
	App      string
	Manager  Manager

	// Version, RuntimeReq and CompileEnv come from the checked-out
	// dependency's own manifest, empty until it is fetched.
	Version    string
	RuntimeReq string
	CompileEnv []string

	// Children are the dependency's own declarations, loaded from its
	// manifest once checked out.
	Children []manifest.Declaration
}

// Label renders the dependency for listings, requirement included.
func (d *Dep) Label() string {
	out := d.Name
	if d.Requirement != "" {
		out += " " + d.Requirement
	}
	return out
}

// OnlyIncludes reports whether the dependency participates in the given
// build environment. An empty scope means all environments.
func (d *Dep) OnlyIncludes(env string) bool {
	if len(d.Only) == 0 {
		return true
	}
	for _, e := range d.Only {
		if e == env {
			return true
		}
	}
	return false
}

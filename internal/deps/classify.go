package deps

import (
	"context"
	"fmt"
	"os"

	"github.com/xiaoqinglee/mason/internal/buildmeta"
	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/scm"
	"github.com/xiaoqinglee/mason/internal/version"
)

// Classifier assigns each resolved dependency a Status by comparing its
// declaration, lock entry, checkout, and the metadata of its previous
// build. Statuses are evaluated in a fixed precedence order and the
// first match wins; see the Status constants for that order.
//
// The classifier returns structured diagnostics and never prints.
type Classifier struct {
	Lock lock.Map

	// BuildDir and Env locate per-dependency build metadata records.
	BuildDir string
	Env      string

	// RuntimeVersion is the currently running runtime version, matched
	// against each dependency's own declared runtime requirement.
	RuntimeVersion string

	// EnvLookup resolves compile-time environment variables for the
	// fingerprint comparison. Nil means os.Getenv.
	EnvLookup func(string) string
}

// ClassifyAll classifies every dependency in list order.
func (c *Classifier) ClassifyAll(ctx context.Context, ds []*Dep) {
	for _, d := range ds {
		c.Classify(ctx, d)
	}
}

// Classify sets d.Status and d.Diag. Absence of lock entries or build
// records is informative, never an error.
func (c *Classifier) Classify(ctx context.Context, d *Dep) {
	// A missing checkout beats everything, divergence included: there
	// is nothing on disk to compare against.
	if !d.Adapter.CheckedOut(d.Spec) {
		d.Status = StatusUnavailable
		d.Diag = Diagnostic{
			Expected: d.Adapter.Format(d.Spec),
			Actual:   "not checked out",
			Command:  "mason get",
		}
		return
	}

	// Divergences recorded during convergence stand.
	if d.Status == StatusDiverged || d.Status == StatusDivergedReq {
		return
	}

	if d.Overridden {
		d.Status = StatusOverridden
		d.Diag = Diagnostic{Actual: "overridden by " + d.From}
		return
	}

	// Lock comparisons. Path dependencies are used in place and are
	// never locked, so they skip straight to the build checks.
	if d.Adapter.Fetchable() {
		var entry *lock.Entry
		if e, ok := c.Lock[d.Name]; ok {
			entry = &e
		}
		switch d.Adapter.LockStatus(ctx, d.Spec, entry) {
		case scm.LockMismatch:
			expected := "(not locked)"
			if entry != nil {
				expected = d.Adapter.FormatLock(entry)
			}
			d.Status = StatusLockMismatch
			d.Diag = Diagnostic{
				Expected: expected,
				Actual:   d.Adapter.Format(d.Spec),
				Command:  "mason get",
			}
			return
		case scm.LockOutdated:
			d.Status = StatusLockOutdated
			d.Diag = Diagnostic{
				Expected: d.Adapter.Format(d.Spec),
				Actual:   d.Adapter.FormatLock(entry),
				Command:  "mason update " + d.Name,
			}
			return
		}
	}

	// Build metadata comparisons only apply once the dependency has
	// been built under this environment.
	if rec, built := buildmeta.Read(buildmeta.Path(c.BuildDir, c.Env, d.Name)); built {
		if status, diag, stale := c.buildStale(d, rec); stale {
			d.Status = status
			d.Diag = diag
			return
		}
	}

	if status, diag, bad := c.badVersion(d); bad {
		d.Status = status
		d.Diag = diag
		return
	}

	d.Status = StatusOK
	d.Diag = Diagnostic{}
}

// buildStale compares a build record against the current world:
// runtime requirement, source manager kind, build environment, and the
// compile-time environment fingerprint.
func (c *Classifier) buildStale(d *Dep, rec buildmeta.Record) (Status, Diagnostic, bool) {
	if d.RuntimeReq != "" && c.RuntimeVersion != "" {
		if req, err := version.ParseRequirement(d.RuntimeReq); err == nil {
			if ok, err := req.Match(c.RuntimeVersion); err == nil && !ok {
				return StatusRuntimeMismatch, Diagnostic{
					Expected: d.RuntimeReq,
					Actual:   fmt.Sprintf("%s (built with %s)", c.RuntimeVersion, rec.Runtime),
					Command:  "mason clean " + d.Name,
				}, true
			}
		}
	}

	if rec.SCM != d.Spec.Kind() {
		return StatusSCMChanged, Diagnostic{
			Expected: d.Spec.Kind(),
			Actual:   rec.SCM,
			Command:  "mason clean " + d.Name,
		}, true
	}

	if rec.Env != c.Env {
		return StatusEnvChanged, Diagnostic{
			Expected: c.Env,
			Actual:   rec.Env,
			Command:  "mason clean " + d.Name,
		}, true
	}

	lookup := c.EnvLookup
	if lookup == nil {
		lookup = os.Getenv
	}
	if hash := buildmeta.EnvHash(d.CompileEnv, lookup); hash != rec.EnvHash {
		return StatusEnvChanged, Diagnostic{
			Expected: hash,
			Actual:   rec.EnvHash,
			Command:  "mason clean " + d.Name,
		}, true
	}

	return StatusOK, Diagnostic{}, false
}

// badVersion checks the version the checkout reports for itself against
// the requirement its parents declared. An unparsable version is a
// status, never a crash.
func (c *Classifier) badVersion(d *Dep) (Status, Diagnostic, bool) {
	if d.Version == "" {
		return StatusOK, Diagnostic{}, false
	}

	if !version.Valid(d.Version) {
		return StatusBadRequirement, Diagnostic{
			Expected: d.Requirement,
			Actual:   fmt.Sprintf("the dependency manifest contains an invalid version %q", d.Version),
			Command:  "mason update " + d.Name,
		}, true
	}

	if d.Requirement == "" {
		return StatusOK, Diagnostic{}, false
	}
	req, err := version.ParseRequirement(d.Requirement)
	if err != nil {
		// Unparsable requirements are reported at declaration time.
		return StatusOK, Diagnostic{}, false
	}
	if ok, err := req.Match(d.Version); err == nil && !ok {
		return StatusBadRequirement, Diagnostic{
			Expected: d.Requirement,
			Actual:   d.Version,
			Command:  "mason update " + d.Name,
		}, true
	}

	return StatusOK, Diagnostic{}, false
}

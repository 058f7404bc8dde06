package mason

import (
	"github.com/xiaoqinglee/mason/internal/deps"
	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/manifest"
)

// Type aliases re-export engine types as the public API. Users import
// "github.com/xiaoqinglee/mason/pkg/mason" and use mason.Result,
// mason.Dep, mason.Status, etc.

type Result = deps.Result
type Dep = deps.Dep
type Status = deps.Status
type Diagnostic = deps.Diagnostic
type Conflict = deps.Conflict
type ConflictError = deps.ConflictError
type FetchError = deps.FetchError
type Project = manifest.Project
type Declaration = manifest.Declaration
type LockEntry = lock.Entry

// Status values, re-exported so callers can switch on Dep.Status.
const (
	StatusOK              = deps.StatusOK
	StatusUnavailable     = deps.StatusUnavailable
	StatusDiverged        = deps.StatusDiverged
	StatusDivergedReq     = deps.StatusDivergedReq
	StatusOverridden      = deps.StatusOverridden
	StatusLockMismatch    = deps.StatusLockMismatch
	StatusLockOutdated    = deps.StatusLockOutdated
	StatusRuntimeMismatch = deps.StatusRuntimeMismatch
	StatusSCMChanged      = deps.StatusSCMChanged
	StatusEnvChanged      = deps.StatusEnvChanged
	StatusBadRequirement  = deps.StatusBadRequirement
)

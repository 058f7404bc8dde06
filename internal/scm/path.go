package scm

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/manifest"
)

// PathSpec addresses a dependency used directly from a local directory.
type PathSpec struct {
	Name string
	// Declared is the path as written in the manifest.
	Declared string
	abs      string
}

func (s *PathSpec) Kind() string       { return "path" }
func (s *PathSpec) Dest() string       { return s.abs }
func (s *PathSpec) ProjectDir() string { return s.abs }
func (s *PathSpec) Redacted() string   { return s.Declared }

// Path is the source manager for local path dependencies. They are used
// in place: never fetched, never locked.
type Path struct {
	root string
}

// NewPath creates the path manager. Relative declared paths resolve
// against root.
func NewPath(root string) *Path {
	return &Path{root: root}
}

func (p *Path) Name() string    { return "path" }
func (p *Path) Fetchable() bool { return false }

func (p *Path) AcceptsOptions(name string, d manifest.Declaration) (Spec, error) {
	if d.Path == "" {
		return nil, nil
	}
	declared := filepath.Clean(d.Path)
	abs := declared
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(p.root, declared)
	}
	return &PathSpec{Name: name, Declared: declared, abs: abs}, nil
}

func (p *Path) Format(s Spec) string {
	return s.Redacted()
}

func (p *Path) FormatLock(e *lock.Entry) string {
	return ""
}

func (p *Path) CheckedOut(s Spec) bool {
	info, err := os.Stat(s.Dest())
	return err == nil && info.IsDir()
}

func (p *Path) LockStatus(ctx context.Context, s Spec, e *lock.Entry) LockStatus {
	return LockOK
}

func (p *Path) Checkout(ctx context.Context, s Spec, locked *lock.Entry) (lock.Entry, error) {
	return lock.Entry{}, &Error{Dep: specName(s), Op: "checkout", Err: errors.New("path dependencies are used in place and cannot be fetched")}
}

func (p *Path) Update(ctx context.Context, s Spec, locked *lock.Entry) (lock.Entry, error) {
	return lock.Entry{}, &Error{Dep: specName(s), Op: "update", Err: errors.New("path dependencies are used in place and cannot be fetched")}
}

func (p *Path) Equal(a, b Spec) bool {
	pa, ok1 := a.(*PathSpec)
	pb, ok2 := b.(*PathSpec)
	return ok1 && ok2 && pa.abs == pb.abs
}

func specName(s Spec) string {
	switch v := s.(type) {
	case *PathSpec:
		return v.Name
	case *GitSpec:
		return v.Name
	case *HexSpec:
		return v.Name
	}
	return ""
}

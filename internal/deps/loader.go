package deps

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xiaoqinglee/mason/internal/manifest"
	"github.com/xiaoqinglee/mason/internal/scm"
)

// Loader turns raw declarations into Dep records by dispatching them
// across the source manager set.
type Loader struct {
	Set *scm.Set
}

// Load normalizes one declaration. Relative path sources are resolved
// against the directory of the declaring manifest, so a transitive path
// dependency points where its declarer meant, not where the root
// project happens to live.
func (l *Loader) Load(decl manifest.Declaration, from string, topLevel bool) (*Dep, error) {
	if decl.Path != "" && !filepath.IsAbs(decl.Path) {
		decl.Path = filepath.Join(filepath.Dir(from), decl.Path)
	}

	adapter, spec, err := l.Set.Select(decl.Name, decl)
	if err != nil {
		return nil, fmt.Errorf("in %s: %w", from, err)
	}

	d := &Dep{
		Name:        decl.Name,
		Requirement: decl.Requirement,
		Adapter:     adapter,
		Spec:        spec,
		From:        from,
		TopLevel:    topLevel,
		Override:    decl.Override,
		Optional:    decl.Optional,
		Only:        append([]string(nil), decl.Only...),
		Compile:     decl.CompileEnabled(),
		Runtime:     decl.RuntimeEnabled(),
		App:         decl.AppName(),
	}
	switch decl.Manager {
	case "mason":
		d.Manager = ManagerMason
	case "make":
		d.Manager = ManagerMake
	}
	return d, nil
}

// LoadManifest reads the checked-out dependency's own manifest, filling
// Version, RuntimeReq, CompileEnv and Children, and probes the build
// manager when the declaration did not pin one. A dependency without a
// checkout is left untouched. A present but unparsable manifest is
// returned as an error for the caller to downgrade; it must not abort
// the walk.
func (l *Loader) LoadManifest(d *Dep) error {
	if !d.Adapter.CheckedOut(d.Spec) {
		return nil
	}

	dir := d.Spec.ProjectDir()
	path := manifest.Path(dir)
	if _, err := os.Stat(path); err != nil {
		if d.Manager == ManagerNone {
			if _, err := os.Stat(filepath.Join(dir, "Makefile")); err == nil {
				d.Manager = ManagerMake
			}
		}
		return nil
	}

	p, err := manifest.Read(path)
	if err != nil {
		return fmt.Errorf("dependency %s: %w", d.Name, err)
	}

	if d.Manager == ManagerNone {
		d.Manager = ManagerMason
	}
	d.Version = p.Version
	d.RuntimeReq = p.Runtime
	d.CompileEnv = append([]string(nil), p.CompileEnv...)
	d.Children = append([]manifest.Declaration(nil), p.Deps...)
	return nil
}

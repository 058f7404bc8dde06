package manifest

import "path/filepath"

// File is the manifest filename looked up in a project directory.
const File = "mason.yaml"

// Path returns the manifest path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, File)
}

// Project represents a mason.yaml project manifest.
type Project struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Runtime is a version requirement on the target runtime, for
	// example ">= 1.14.0".
	Runtime string `yaml:"runtime,omitempty"`

	// CompileEnv lists environment variable names whose values feed the
	// compile-time fingerprint. A change in any of them marks compiled
	// dependencies stale.
	CompileEnv []string `yaml:"compile_env,omitempty"`

	Deps []Declaration `yaml:"deps,omitempty"`
}

// Declaration is a single dependency entry in a manifest. Exactly one
// source applies: a local path, a git repository, or (by default) the
// package registry.
type Declaration struct {
	Name        string `yaml:"name"`
	Requirement string `yaml:"requirement,omitempty"`

	// Path source fields.
	Path string `yaml:"path,omitempty"`

	// Git source fields.
	Git        string `yaml:"git,omitempty"`
	GitHub     string `yaml:"github,omitempty"`
	Branch     string `yaml:"branch,omitempty"`
	Tag        string `yaml:"tag,omitempty"`
	Ref        string `yaml:"ref,omitempty"`
	Submodules bool   `yaml:"submodules,omitempty"`
	Sparse     string `yaml:"sparse,omitempty"`
	Depth      int    `yaml:"depth,omitempty"`
	Subdir     string `yaml:"subdir,omitempty"`

	// Registry source fields.
	Package string `yaml:"package,omitempty"`
	Repo    string `yaml:"repo,omitempty"`

	// Resolution behavior.
	Override bool     `yaml:"override,omitempty"`
	Only     []string `yaml:"only,omitempty"`
	Optional bool     `yaml:"optional,omitempty"`
	Compile  *bool    `yaml:"compile,omitempty"`
	Runtime  *bool    `yaml:"runtime,omitempty"`
	App      string   `yaml:"app,omitempty"`
	Manager  string   `yaml:"manager,omitempty"`
}

// HasGit reports whether the declaration names a git source.
func (d Declaration) HasGit() bool {
	return d.Git != "" || d.GitHub != ""
}

// GitURL returns the effective git URL, expanding the github shorthand
// ("owner/repo") into a full HTTPS URL.
func (d Declaration) GitURL() string {
	if d.Git != "" {
		return d.Git
	}
	if d.GitHub != "" {
		return "https://github.com/" + d.GitHub + ".git"
	}
	return ""
}

// OnlyIncludes reports whether the declaration participates in the given
// build environment. An empty only list means all environments.
func (d Declaration) OnlyIncludes(env string) bool {
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

// CompileEnabled reports whether the dependency should be compiled.
// Unset means yes.
func (d Declaration) CompileEnabled() bool {
	return d.Compile == nil || *d.Compile
}

// RuntimeEnabled reports whether the dependency is part of the runtime
// application set. Unset means yes.
func (d Declaration) RuntimeEnabled() bool {
	return d.Runtime == nil || *d.Runtime
}

// AppName returns the application name the checked-out dependency must
// report, defaulting to the dependency name.
func (d Declaration) AppName() string {
	if d.App != "" {
		return d.App
	}
	return d.Name
}

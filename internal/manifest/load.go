package manifest

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xiaoqinglee/mason/internal/version"
)

// Load reads and validates a mason.yaml manifest file.
func Load(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	if errs := Validate(&p); len(errs) > 0 {
		return nil, &ValidationError{Path: path, Errors: errs}
	}

	return &p, nil
}

// Read parses a manifest without validating it. Dependency manifests go
// through here: a bad field in a fetched dependency must degrade into a
// status on that dependency, not abort the whole resolution.
func Read(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	return &p, nil
}

// ValidationError holds multiple validation failures from one manifest.
type ValidationError struct {
	Path   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest %s is invalid:\n  - %s", e.Path, strings.Join(e.Errors, "\n  - "))
}

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Validate checks a Project for semantic correctness and returns a list
// of validation error messages, empty if valid.
//
// Duplicate dependency names are deliberately not rejected here: the
// resolver decides whether same-level duplicates agree or conflict.
func Validate(p *Project) []string {
	var errs []string

	if p.Name == "" {
		errs = append(errs, "'name' is required")
	} else if !nameRe.MatchString(p.Name) {
		errs = append(errs, fmt.Sprintf("invalid project name '%s': use lowercase letters, digits and underscores", p.Name))
	}

	if p.Version == "" {
		errs = append(errs, "'version' is required")
	} else if !version.Valid(p.Version) {
		errs = append(errs, fmt.Sprintf("invalid project version '%s': expected major.minor.patch", p.Version))
	}

	if p.Runtime != "" {
		if _, err := version.ParseRequirement(p.Runtime); err != nil {
			errs = append(errs, fmt.Sprintf("invalid 'runtime' requirement: %v", err))
		}
	}

	for i, d := range p.Deps {
		prefix := fmt.Sprintf("deps[%d]", i)
		if d.Name != "" {
			prefix = fmt.Sprintf("dependency '%s'", d.Name)
		}
		errs = append(errs, validateDeclaration(d, prefix)...)
	}

	return errs
}

func validateDeclaration(d Declaration, prefix string) []string {
	var errs []string

	if d.Name == "" {
		errs = append(errs, fmt.Sprintf("%s: 'name' is required", prefix))
	} else if !nameRe.MatchString(d.Name) {
		errs = append(errs, fmt.Sprintf("%s: invalid name '%s': use lowercase letters, digits and underscores", prefix, d.Name))
	}

	if d.Git != "" && d.GitHub != "" {
		errs = append(errs, fmt.Sprintf("%s: 'git' and 'github' are mutually exclusive", prefix))
	}
	if d.Path != "" && d.HasGit() {
		errs = append(errs, fmt.Sprintf("%s: 'path' cannot be combined with a git source", prefix))
	}
	if (d.Package != "" || d.Repo != "") && (d.Path != "" || d.HasGit()) {
		errs = append(errs, fmt.Sprintf("%s: registry options 'package' and 'repo' cannot be combined with a path or git source", prefix))
	}

	if !d.HasGit() {
		for _, opt := range []struct {
			name string
			set  bool
		}{
			{"branch", d.Branch != ""},
			{"tag", d.Tag != ""},
			{"ref", d.Ref != ""},
			{"submodules", d.Submodules},
			{"sparse", d.Sparse != ""},
			{"depth", d.Depth != 0},
			{"subdir", d.Subdir != ""},
		} {
			if opt.set {
				errs = append(errs, fmt.Sprintf("%s: '%s' requires a git source", prefix, opt.name))
			}
		}
	}

	if d.Depth < 0 {
		errs = append(errs, fmt.Sprintf("%s: 'depth' must be positive", prefix))
	}

	if d.Requirement != "" {
		if _, err := version.ParseRequirement(d.Requirement); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", prefix, err))
		}
	}

	for _, env := range d.Only {
		if env == "" {
			errs = append(errs, fmt.Sprintf("%s: 'only' entries must be non-empty environment names", prefix))
			break
		}
	}

	switch d.Manager {
	case "", "mason", "make":
	default:
		errs = append(errs, fmt.Sprintf("%s: unknown manager '%s': must be one of: mason, make", prefix, d.Manager))
	}

	if d.App != "" && !nameRe.MatchString(d.App) {
		errs = append(errs, fmt.Sprintf("%s: invalid app name '%s'", prefix, d.App))
	}

	return errs
}

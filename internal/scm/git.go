package scm

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/manifest"
	"github.com/xiaoqinglee/mason/internal/version"
)

// Minimum git versions for optional checkout features.
const (
	minVersionDepth  = "2.5.0"
	minVersionSparse = "2.26.0"
)

var fullRevRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// GitSpec addresses a git-backed dependency: a repository URL plus at
// most one of branch, tag or ref, and optional checkout refinements.
type GitSpec struct {
	Name       string
	URL        string
	Branch     string
	Tag        string
	Ref        string
	Depth      int
	Sparse     string
	Subdir     string
	Submodules bool

	dest string
}

func (s *GitSpec) Kind() string { return "git" }
func (s *GitSpec) Dest() string { return s.dest }

func (s *GitSpec) ProjectDir() string {
	switch {
	case s.Sparse != "":
		return filepath.Join(s.dest, s.Sparse)
	case s.Subdir != "":
		return filepath.Join(s.dest, s.Subdir)
	}
	return s.dest
}

func (s *GitSpec) Redacted() string { return redactURL(s.URL) }

// GitConfig configures the git source manager.
type GitConfig struct {
	// Bin is the git executable. Empty means "git" from PATH.
	Bin string
	// DepsDir is the root directory checkouts are placed under.
	DepsDir string
}

// Git is the source manager for git repositories. It shells out to the
// git binary and is safe for concurrent use.
type Git struct {
	bin      string
	depsDir  string
	versions *lru.Cache[string, string]
}

// NewGit creates the git manager.
func NewGit(cfg GitConfig) *Git {
	bin := cfg.Bin
	if bin == "" {
		bin = "git"
	}
	versions, _ := lru.New[string, string](8)
	return &Git{bin: bin, depsDir: cfg.DepsDir, versions: versions}
}

func (g *Git) Name() string    { return "git" }
func (g *Git) Fetchable() bool { return true }

func (g *Git) AcceptsOptions(name string, d manifest.Declaration) (Spec, error) {
	if !d.HasGit() {
		return nil, nil
	}
	if d.Git != "" && d.GitHub != "" {
		return nil, &Error{Dep: name, Op: "validate", Err: fmt.Errorf("'git' and 'github' are mutually exclusive")}
	}

	var selectors []string
	for _, sel := range []struct{ key, val string }{
		{"branch", d.Branch}, {"tag", d.Tag}, {"ref", d.Ref},
	} {
		if sel.val != "" {
			selectors = append(selectors, sel.key)
		}
	}
	if len(selectors) > 1 {
		return nil, &Error{Dep: name, Op: "validate", Err: fmt.Errorf("only one of branch, tag or ref may be given, got %s", strings.Join(selectors, " and "))}
	}

	if d.Depth < 0 {
		return nil, &Error{Dep: name, Op: "validate", Err: fmt.Errorf("depth must be positive, got %d", d.Depth)}
	}
	if d.Depth > 0 && d.Ref != "" && !fullRevRe.MatchString(d.Ref) {
		return nil, &Error{
			Dep: name, Op: "validate",
			Err:  fmt.Errorf("shallow checkout of a ref requires a full 40-character revision, got '%s'", d.Ref),
			Hint: "use the complete commit hash, or drop the depth option",
		}
	}
	if d.Sparse != "" && d.Subdir != "" {
		return nil, &Error{Dep: name, Op: "validate", Err: fmt.Errorf("'sparse' and 'subdir' are mutually exclusive")}
	}

	return &GitSpec{
		Name:       name,
		URL:        d.GitURL(),
		Branch:     d.Branch,
		Tag:        d.Tag,
		Ref:        d.Ref,
		Depth:      d.Depth,
		Sparse:     d.Sparse,
		Subdir:     d.Subdir,
		Submodules: d.Submodules,
		dest:       filepath.Join(g.depsDir, name),
	}, nil
}

func (g *Git) Format(s Spec) string {
	gs := s.(*GitSpec)
	out := gs.Redacted()
	switch {
	case gs.Ref != "":
		out += " (ref: " + shortRev(gs.Ref) + ")"
	case gs.Tag != "":
		out += " (tag: " + gs.Tag + ")"
	case gs.Branch != "":
		out += " (branch: " + gs.Branch + ")"
	}
	return out
}

func (g *Git) FormatLock(e *lock.Entry) string {
	if e == nil || e.Rev == "" {
		return ""
	}
	out := shortRev(e.Rev)
	switch {
	case e.Ref != "":
		out += " (ref)"
	case e.Tag != "":
		out += " (tag: " + e.Tag + ")"
	case e.Branch != "":
		out += " (branch: " + e.Branch + ")"
	}
	return out
}

func (g *Git) CheckedOut(s Spec) bool {
	_, err := os.Stat(filepath.Join(s.Dest(), ".git"))
	return err == nil
}

func (g *Git) LockStatus(ctx context.Context, s Spec, e *lock.Entry) LockStatus {
	gs := s.(*GitSpec)
	if e == nil || e.Kind != "git" || e.Rev == "" {
		return LockMismatch
	}
	if !optsMatch(gs, e) {
		return LockOutdated
	}
	head, err := g.run(ctx, "-C", gs.dest, "rev-parse", "--verify", "HEAD")
	if err != nil || head != e.Rev {
		return LockMismatch
	}
	return LockOK
}

func (g *Git) Checkout(ctx context.Context, s Spec, locked *lock.Entry) (lock.Entry, error) {
	gs := s.(*GitSpec)
	if err := g.checkFeatures(ctx, gs); err != nil {
		return lock.Entry{}, err
	}

	// An exact revision wins: the locked one when the declaration still
	// matches the lock, otherwise a declared full ref.
	rev := ""
	if locked != nil && locked.Kind == "git" && locked.Rev != "" && optsMatch(gs, locked) {
		rev = locked.Rev
	}
	if rev == "" && gs.Ref != "" {
		rev = gs.Ref
	}
	selector := gs.Tag
	if selector == "" {
		selector = gs.Branch
	}

	if err := os.RemoveAll(gs.dest); err != nil {
		return lock.Entry{}, &Error{Dep: gs.Name, Op: "checkout", Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(gs.dest), 0755); err != nil {
		return lock.Entry{}, &Error{Dep: gs.Name, Op: "checkout", Err: err}
	}

	var err error
	switch {
	case rev != "" && gs.Depth > 0:
		err = g.shallowFetchRev(ctx, gs, rev)
	case rev != "":
		err = g.cloneAtRev(ctx, gs, rev)
	default:
		err = g.clone(ctx, gs, selector)
	}
	if err != nil {
		return lock.Entry{}, &Error{
			Dep: gs.Name, Op: "checkout", Err: err,
			Hint: "check the repository URL, ref and authentication",
		}
	}

	if err := g.finalizeCheckout(ctx, gs); err != nil {
		return lock.Entry{}, err
	}
	return g.lockIdentity(ctx, gs)
}

func (g *Git) Update(ctx context.Context, s Spec, locked *lock.Entry) (lock.Entry, error) {
	gs := s.(*GitSpec)
	if !g.CheckedOut(s) {
		return g.Checkout(ctx, s, nil)
	}
	if err := g.checkFeatures(ctx, gs); err != nil {
		return lock.Entry{}, err
	}

	fetchArgs := []string{"-C", gs.dest, "fetch", "--force", "--quiet"}
	if gs.Depth > 0 {
		fetchArgs = append(fetchArgs, "--depth", strconv.Itoa(gs.Depth))
	}
	if gs.Tag != "" {
		fetchArgs = append(fetchArgs, "--tags")
	}
	fetchArgs = append(fetchArgs, "origin")
	if gs.Ref != "" {
		fetchArgs = append(fetchArgs, gs.Ref)
	}
	if _, err := g.run(ctx, fetchArgs...); err != nil {
		return lock.Entry{}, &Error{Dep: gs.Name, Op: "update", Err: err, Hint: "check the repository URL and authentication"}
	}

	target := g.updateTarget(ctx, gs)
	if _, err := g.run(ctx, "-C", gs.dest, "checkout", "--quiet", target); err != nil {
		return lock.Entry{}, &Error{Dep: gs.Name, Op: "update", Err: err}
	}

	if err := g.finalizeCheckout(ctx, gs); err != nil {
		return lock.Entry{}, err
	}
	return g.lockIdentity(ctx, gs)
}

func (g *Git) Equal(a, b Spec) bool {
	ga, ok1 := a.(*GitSpec)
	gb, ok2 := b.(*GitSpec)
	if !ok1 || !ok2 {
		return false
	}
	return ga.URL == gb.URL &&
		ga.Branch == gb.Branch &&
		ga.Tag == gb.Tag &&
		ga.Ref == gb.Ref &&
		ga.Depth == gb.Depth &&
		ga.Sparse == gb.Sparse &&
		ga.Subdir == gb.Subdir &&
		ga.Submodules == gb.Submodules
}

func (g *Git) clone(ctx context.Context, gs *GitSpec, selector string) error {
	args := []string{"clone", "--quiet"}
	if gs.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(gs.Depth), "--single-branch")
	}
	if selector != "" {
		args = append(args, "--branch", selector)
	}
	args = append(args, gs.URL, gs.dest)
	_, err := g.run(ctx, args...)
	return err
}

func (g *Git) cloneAtRev(ctx context.Context, gs *GitSpec, rev string) error {
	if _, err := g.run(ctx, "clone", "--quiet", "--no-checkout", gs.URL, gs.dest); err != nil {
		return err
	}
	_, err := g.run(ctx, "-C", gs.dest, "checkout", "--quiet", rev)
	return err
}

// shallowFetchRev fetches exactly one revision at the requested depth.
// Requires the declared ref to be a full revision, enforced at
// AcceptsOptions time.
func (g *Git) shallowFetchRev(ctx context.Context, gs *GitSpec, rev string) error {
	if _, err := g.run(ctx, "init", "--quiet", gs.dest); err != nil {
		return err
	}
	if _, err := g.run(ctx, "-C", gs.dest, "remote", "add", "origin", gs.URL); err != nil {
		return err
	}
	if _, err := g.run(ctx, "-C", gs.dest, "fetch", "--quiet", "--depth", strconv.Itoa(gs.Depth), "origin", rev); err != nil {
		return err
	}
	_, err := g.run(ctx, "-C", gs.dest, "checkout", "--quiet", "--detach", "FETCH_HEAD")
	return err
}

func (g *Git) finalizeCheckout(ctx context.Context, gs *GitSpec) error {
	if gs.Sparse != "" {
		if _, err := g.run(ctx, "-C", gs.dest, "sparse-checkout", "set", gs.Sparse); err != nil {
			return &Error{Dep: gs.Name, Op: "sparse checkout", Err: err}
		}
	}
	if gs.Submodules {
		if _, err := g.run(ctx, "-C", gs.dest, "submodule", "update", "--init", "--recursive", "--quiet"); err != nil {
			return &Error{Dep: gs.Name, Op: "submodule update", Err: err}
		}
	}
	return nil
}

func (g *Git) lockIdentity(ctx context.Context, gs *GitSpec) (lock.Entry, error) {
	rev, err := g.run(ctx, "-C", gs.dest, "rev-parse", "--verify", "HEAD")
	if err != nil {
		return lock.Entry{}, &Error{Dep: gs.Name, Op: "rev-parse", Err: err}
	}
	return lock.Entry{
		Kind:       "git",
		URL:        gs.URL,
		Rev:        rev,
		Branch:     gs.Branch,
		Tag:        gs.Tag,
		Ref:        gs.Ref,
		Depth:      gs.Depth,
		Sparse:     gs.Sparse,
		Subdir:     gs.Subdir,
		Submodules: gs.Submodules,
	}, nil
}

// updateTarget picks what to check out after a fetch. Without any
// selector the remote default branch is used when resolvable.
func (g *Git) updateTarget(ctx context.Context, gs *GitSpec) string {
	switch {
	case gs.Ref != "":
		return gs.Ref
	case gs.Tag != "":
		return gs.Tag
	case gs.Branch != "":
		return "origin/" + gs.Branch
	}
	if head, err := g.run(ctx, "-C", gs.dest, "rev-parse", "--abbrev-ref", "origin/HEAD"); err == nil && head != "" {
		return head
	}
	return "FETCH_HEAD"
}

func (g *Git) checkFeatures(ctx context.Context, gs *GitSpec) error {
	if gs.Depth > 0 {
		if err := g.requireVersion(ctx, gs.Name, "shallow checkout (depth)", minVersionDepth); err != nil {
			return err
		}
	}
	if gs.Sparse != "" {
		if err := g.requireVersion(ctx, gs.Name, "sparse checkout", minVersionSparse); err != nil {
			return err
		}
	}
	return nil
}

func (g *Git) requireVersion(ctx context.Context, dep, feature, min string) error {
	v, err := g.gitVersion(ctx)
	if err != nil {
		return &Error{Dep: dep, Op: "version check", Err: err, Hint: "is git installed and on PATH?"}
	}
	if version.Compare(v, min) < 0 {
		return &Error{
			Dep: dep, Op: "version check",
			Err:  fmt.Errorf("%s requires git %s or newer, found %s", feature, min, v),
			Hint: "upgrade git or drop the option",
		}
	}
	return nil
}

// gitVersion reports the git binary version, memoized per binary path.
func (g *Git) gitVersion(ctx context.Context) (string, error) {
	if v, ok := g.versions.Get(g.bin); ok {
		return v, nil
	}
	out, err := g.run(ctx, "version")
	if err != nil {
		return "", err
	}
	v, err := parseGitVersion(out)
	if err != nil {
		return "", err
	}
	g.versions.Add(g.bin, v)
	return v, nil
}

// parseGitVersion extracts "2.39.2" from output like
// "git version 2.39.2 (Apple Git-143)" or "git version 2.41.0.windows.1".
func parseGitVersion(out string) (string, error) {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return "", fmt.Errorf("unexpected git version output %q", out)
	}
	var nums []string
	for _, seg := range strings.Split(fields[2], ".") {
		if _, err := strconv.Atoi(seg); err != nil {
			break
		}
		nums = append(nums, seg)
		if len(nums) == 3 {
			break
		}
	}
	if len(nums) < 2 {
		return "", fmt.Errorf("unexpected git version output %q", out)
	}
	for len(nums) < 3 {
		nums = append(nums, "0")
	}
	return strings.Join(nums, "."), nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.bin, args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		name := args[0]
		if name == "-C" && len(args) > 2 {
			name = args[2]
		}
		return "", fmt.Errorf("git %s: %s: %w", name, strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func optsMatch(gs *GitSpec, e *lock.Entry) bool {
	return gs.URL == e.URL &&
		gs.Branch == e.Branch &&
		gs.Tag == e.Tag &&
		gs.Ref == e.Ref &&
		gs.Depth == e.Depth &&
		gs.Sparse == e.Sparse &&
		gs.Subdir == e.Subdir &&
		gs.Submodules == e.Submodules
}

func shortRev(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// redactURL strips credentials from a URL for display.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

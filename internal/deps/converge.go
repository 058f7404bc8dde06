package deps

import (
	"errors"
	"fmt"

	"github.com/xiaoqinglee/mason/internal/manifest"
)

// Result is the outcome of one convergence pass over the graph.
type Result struct {
	// Deps is the flat resolved list in discovery order: the root's
	// direct dependencies in declared order, then their children, and
	// so on. Downstream build and boot ordering follow this list, so
	// the order is a contract.
	Deps []*Dep

	// Conflicts are irreconcilable declaration pairs. The walk always
	// completes, so every conflict in the graph is reported together.
	Conflicts []Conflict

	// Warnings report benign oddities such as same-level duplicates and
	// divergences settled by an override.
	Warnings []string

	// Errors are invalid declarations. They do not stop discovery of
	// siblings but fail the run.
	Errors []error
}

// Failed reports whether the pass produced conflicts or declaration
// errors. A failed pass must not write any lock state.
func (r *Result) Failed() bool {
	return len(r.Conflicts) > 0 || len(r.Errors) > 0
}

// Err converts a failed result into an error, nil when the pass
// succeeded. Conflicts take precedence over declaration errors.
func (r *Result) Err() error {
	if len(r.Conflicts) > 0 {
		return &ConflictError{Conflicts: r.Conflicts}
	}
	return errors.Join(r.Errors...)
}

// ByName returns the resolved dependency with the given name.
func (r *Result) ByName(name string) (*Dep, bool) {
	for _, d := range r.Deps {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// Converger flattens a project's dependency tree into a Result.
//
// The walk is breadth-first and strictly single-threaded: convergence
// order decides which declaration is seen first and therefore which one
// wins a merge, so it must never depend on scheduling or I/O timing.
type Converger struct {
	Loader *Loader

	// Env filters top-level declarations through their only scope.
	// Transitive only values are merged but never filter: the declaring
	// dependency already chose to ship them.
	Env string
}

// queueItem is one pending declaration in the walk.
type queueItem struct {
	decl     manifest.Declaration
	from     string
	topLevel bool
}

// Converge resolves the project rooted at dir. Discovery stops at
// dependencies that are not checked out yet; the fetcher re-converges
// after fetching until the graph reaches a fixpoint.
func (c *Converger) Converge(project *manifest.Project, dir string) *Result {
	w := &walker{
		loader:   c.Loader,
		res:      &Result{},
		resolved: make(map[string]*Dep),
	}

	from := manifest.Path(dir)
	for _, decl := range project.Deps {
		if !decl.OnlyIncludes(c.Env) {
			continue
		}
		w.queue = append(w.queue, queueItem{decl: decl, from: from, topLevel: true})
	}

	for len(w.queue) > 0 {
		item := w.queue[0]
		w.queue = w.queue[1:]
		w.step(item)
	}

	return w.res
}

type walker struct {
	loader   *Loader
	res      *Result
	resolved map[string]*Dep
	queue    []queueItem
}

func (w *walker) step(item queueItem) {
	name := item.decl.Name
	if name == "" {
		w.res.Errors = append(w.res.Errors,
			fmt.Errorf("in %s: dependency declared without a name", item.from))
		return
	}

	existing, seen := w.resolved[name]
	if seen {
		w.merge(existing, item)
		return
	}

	// An optional dependency declared transitively only loads when some
	// other declaration already pulled the name in.
	if item.decl.Optional && !item.topLevel {
		return
	}

	dep, err := w.loader.Load(item.decl, item.from, item.topLevel)
	if err != nil {
		w.res.Errors = append(w.res.Errors, err)
		return
	}
	if err := w.loader.LoadManifest(dep); err != nil {
		w.res.Warnings = append(w.res.Warnings, err.Error())
	}

	w.resolved[name] = dep
	w.res.Deps = append(w.res.Deps, dep)
	w.enqueueChildren(dep)
}

func (w *walker) enqueueChildren(dep *Dep) {
	from := manifest.Path(dep.Spec.ProjectDir())
	for _, child := range dep.Children {
		w.queue = append(w.queue, queueItem{decl: child, from: from})
	}
}

// merge reconciles a repeated declaration with the already resolved
// entry for the same name.
func (w *walker) merge(existing *Dep, item queueItem) {
	incoming, err := w.loader.Load(item.decl, item.from, item.topLevel)
	if err != nil {
		w.res.Errors = append(w.res.Errors, err)
		return
	}

	sameSource := existing.Adapter.Name() == incoming.Adapter.Name() &&
		existing.Adapter.Equal(existing.Spec, incoming.Spec)
	sameReq := existing.Requirement == incoming.Requirement ||
		existing.Requirement == "" || incoming.Requirement == ""

	if sameSource && sameReq {
		if existing.From == incoming.From {
			w.res.Warnings = append(w.res.Warnings,
				fmt.Sprintf("dependency %s is declared more than once in %s", existing.Name, existing.From))
		}
		absorb(existing, incoming)
		return
	}

	// The declarations diverge. A top-level override settles the
	// divergence in its favor; an override anywhere else is itself a
	// conflict, because only the root project may force a source.
	switch {
	case existing.TopLevel && existing.Override:
		existing.Overridden = true
		absorbScope(existing, incoming)
		w.res.Warnings = append(w.res.Warnings,
			fmt.Sprintf("the declaration of %s in %s is overridden by %s", existing.Name, incoming.From, existing.From))

	case incoming.TopLevel && incoming.Override:
		w.res.Warnings = append(w.res.Warnings,
			fmt.Sprintf("the declaration of %s in %s is overridden by %s", existing.Name, existing.From, incoming.From))
		w.replace(existing, incoming)

	case existing.Override || incoming.Override:
		existing.Status = StatusDiverged
		w.res.Conflicts = append(w.res.Conflicts, Conflict{
			Name:  existing.Name,
			Kind:  ConflictOverride,
			Left:  side(existing),
			Right: side(incoming),
		})

	default:
		kind := ConflictSource
		existing.Status = StatusDiverged
		if sameSource {
			kind = ConflictRequirement
			existing.Status = StatusDivergedReq
		}
		w.res.Conflicts = append(w.res.Conflicts, Conflict{
			Name:  existing.Name,
			Kind:  kind,
			Left:  side(existing),
			Right: side(incoming),
		})
	}
}

// replace adopts the incoming declaration as the resolved entry,
// keeping the discovery position. Used when a later top-level override
// beats an earlier declaration of the same name.
func (w *walker) replace(existing *Dep, incoming *Dep) {
	absorbScope(incoming, existing)

	*existing = *incoming
	existing.Overridden = true
	existing.Version = ""
	existing.RuntimeReq = ""
	existing.CompileEnv = nil
	existing.Children = nil

	if err := w.loader.LoadManifest(existing); err != nil {
		w.res.Warnings = append(w.res.Warnings, err.Error())
	}
	w.enqueueChildren(existing)
}

func side(d *Dep) Side {
	return Side{
		From:        d.From,
		Source:      d.Adapter.Format(d.Spec),
		Requirement: d.Requirement,
		Override:    d.Override,
		TopLevel:    d.TopLevel,
	}
}

// absorb merges an equal declaration into the resolved entry.
func absorb(dst, src *Dep) {
	absorbScope(dst, src)
	if dst.Requirement == "" {
		dst.Requirement = src.Requirement
	}
	if src.TopLevel && src.Override {
		dst.Override = true
	}
}

// absorbScope merges the metadata that widens or narrows where a
// dependency applies: environment scope, compile and runtime
// participation, optionality, and top-level standing.
func absorbScope(dst, src *Dep) {
	// An empty only scope means every environment, so either side being
	// unscoped unscopes the result.
	if len(dst.Only) == 0 || len(src.Only) == 0 {
		dst.Only = nil
	} else {
		for _, env := range src.Only {
			if !contains(dst.Only, env) {
				dst.Only = append(dst.Only, env)
			}
		}
	}

	dst.Compile = dst.Compile || src.Compile
	dst.Runtime = dst.Runtime || src.Runtime
	dst.Optional = dst.Optional && src.Optional
	dst.TopLevel = dst.TopLevel || src.TopLevel
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

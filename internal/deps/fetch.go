package deps

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/manifest"
	"github.com/xiaoqinglee/mason/internal/scm"
)

// maxRounds bounds the converge/fetch loop. Each round only fetches
// dependencies discovered in the previous one, so the bound is only hit
// when checkouts keep changing underneath us.
const maxRounds = 100

// Fetcher materializes the converged graph: it fetches missing or
// out-of-date checkouts through the source managers and records their
// lock identities. Convergence itself stays single-threaded; only the
// fetch operations after each pass run on the worker pool.
type Fetcher struct {
	Set      *scm.Set
	LockPath string
	Env      string

	// BuildDir, RuntimeVersion and EnvLookup feed the classification of
	// the final graph.
	BuildDir       string
	RuntimeVersion string
	EnvLookup      func(string) string

	// Concurrency bounds the worker pool; zero means NumCPU.
	Concurrency int

	// Timeout applies per fetch operation; zero means none.
	Timeout time.Duration

	// Log reports fetch progress. Nil means silent.
	Log func(format string, args ...any)
}

// Get fetches every dependency that is missing or does not match the
// lockfile, honoring locked identities, and writes the lockfile once at
// the end. The returned Result is the final converged, classified
// graph.
func (f *Fetcher) Get(ctx context.Context, project *manifest.Project, dir string) (*Result, error) {
	return f.run(ctx, project, dir, nil, false)
}

// Update re-resolves the named dependencies against their upstream,
// ignoring their locked identities, and fetches anything else that is
// missing. An empty name list updates everything.
func (f *Fetcher) Update(ctx context.Context, project *manifest.Project, dir string, names []string) (*Result, error) {
	return f.run(ctx, project, dir, names, true)
}

func (f *Fetcher) run(ctx context.Context, project *manifest.Project, dir string, names []string, update bool) (*Result, error) {
	lockMap, err := lock.Read(f.LockPath)
	if err != nil {
		if !errors.Is(err, lock.ErrCorrupt) {
			return nil, err
		}
		// A corrupt lockfile forces re-locking from scratch.
		f.logf("%v", err)
	}

	conv := &Converger{Loader: &Loader{Set: f.Set}, Env: f.Env}

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	updated := make(map[string]bool)
	changed := false
	var res *Result

	for round := 0; ; round++ {
		if round == maxRounds {
			return res, fmt.Errorf("dependency graph did not settle after %d fetch rounds", maxRounds)
		}

		res = conv.Converge(project, dir)
		if res.Failed() {
			// Conflicts and declaration errors abort before any fetch;
			// nothing is written.
			return res, res.Err()
		}

		if round == 0 && update {
			for _, n := range names {
				if _, ok := res.ByName(n); !ok {
					return res, fmt.Errorf("unknown dependency %s", n)
				}
			}
		}

		jobs := f.plan(ctx, res, lockMap, update, want, updated)
		if len(jobs) == 0 {
			break
		}

		var failures []error
		for _, out := range f.fetchAll(ctx, jobs) {
			if out.err != nil {
				failures = append(failures, out.err)
				continue
			}
			updated[out.name] = true
			if prev, ok := lockMap[out.name]; !ok || !prev.Equal(out.entry) {
				lockMap[out.name] = out.entry
				changed = true
			}
		}

		if err := ctx.Err(); err != nil {
			// An abandoned run leaves the lockfile untouched.
			return res, err
		}
		if len(failures) > 0 {
			// Identities of the fetches that did succeed are still
			// recorded before reporting the failures together.
			if changed {
				if werr := lock.Write(f.LockPath, lockMap); werr != nil {
					failures = append(failures, werr)
				}
			}
			return res, &FetchError{Failures: failures}
		}
	}

	if changed {
		if err := lock.Write(f.LockPath, lockMap); err != nil {
			return res, err
		}
	}

	cls := &Classifier{
		Lock:           lockMap,
		BuildDir:       f.BuildDir,
		Env:            f.Env,
		RuntimeVersion: f.RuntimeVersion,
		EnvLookup:      f.EnvLookup,
	}
	cls.ClassifyAll(ctx, res.Deps)
	return res, nil
}

// fetchJob is one pending checkout or update, indexed by its position
// in the converged list so reports keep graph order.
type fetchJob struct {
	idx    int
	dep    *Dep
	locked *lock.Entry
	update bool
}

type fetchOutcome struct {
	idx   int
	name  string
	entry lock.Entry
	err   error
}

// plan selects which dependencies this round must touch: everything
// missing or out of sync with the lock, plus the deps named for a
// forced update that have not been updated yet.
func (f *Fetcher) plan(ctx context.Context, res *Result, lockMap lock.Map, update bool, want, updated map[string]bool) []fetchJob {
	all := update && len(want) == 0

	var jobs []fetchJob
	for i, d := range res.Deps {
		if !d.Adapter.Fetchable() {
			continue
		}
		var locked *lock.Entry
		if e, ok := lockMap[d.Name]; ok {
			locked = &e
		}

		force := update && !updated[d.Name] && (all || want[d.Name])
		stale := !d.Adapter.CheckedOut(d.Spec) ||
			d.Adapter.LockStatus(ctx, d.Spec, locked) != scm.LockOK
		if !force && !stale {
			continue
		}
		jobs = append(jobs, fetchJob{idx: i, dep: d, locked: locked, update: force})
	}
	return jobs
}

// fetchAll runs the jobs on a bounded worker pool. Jobs are submitted
// in graph order; outcomes are returned in the same order regardless of
// which worker finished first.
func (f *Fetcher) fetchAll(ctx context.Context, jobs []fetchJob) []fetchOutcome {
	workers := f.Concurrency
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jobCh := make(chan fetchJob)
	outCh := make(chan fetchOutcome, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				outCh <- f.fetchOne(ctx, job)
			}
		}()
	}

submit:
	for _, job := range jobs {
		select {
		case jobCh <- job:
		case <-ctx.Done():
			break submit
		}
	}
	close(jobCh)
	wg.Wait()
	close(outCh)

	outcomes := make([]fetchOutcome, 0, len(jobs))
	for out := range outCh {
		outcomes = append(outcomes, out)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].idx < outcomes[j].idx })
	return outcomes
}

func (f *Fetcher) fetchOne(ctx context.Context, job fetchJob) fetchOutcome {
	d := job.dep
	verb := "fetching"
	if job.update {
		verb = "updating"
	}
	f.logf("%s %s (%s)", verb, d.Name, d.Adapter.Format(d.Spec))

	opCtx := ctx
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	var entry lock.Entry
	var err error
	if job.update {
		entry, err = d.Adapter.Update(opCtx, d.Spec, job.locked)
	} else {
		entry, err = d.Adapter.Checkout(opCtx, d.Spec, job.locked)
	}
	if err != nil {
		return fetchOutcome{idx: job.idx, name: d.Name, err: err}
	}
	return fetchOutcome{idx: job.idx, name: d.Name, entry: entry}
}

func (f *Fetcher) logf(format string, args ...any) {
	if f.Log != nil {
		f.Log(format, args...)
	}
}

// FetchError aggregates the failures of one fetch round, reported
// together after the worker pool drains.
type FetchError struct {
	Failures []error
}

func (e *FetchError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, err := range e.Failures {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("fetching dependencies failed with %d error(s):\n  %s",
		len(e.Failures), strings.Join(msgs, "\n  "))
}

func (e *FetchError) Unwrap() []error {
	return e.Failures
}

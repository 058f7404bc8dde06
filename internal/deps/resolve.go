package deps

import (
	"context"

	"github.com/xiaoqinglee/mason/internal/lock"
	"github.com/xiaoqinglee/mason/internal/manifest"
	"github.com/xiaoqinglee/mason/internal/scm"
)

// Resolver performs a read-only resolution pass: converge, then
// classify against the given lock state. It never fetches and never
// writes, so listing commands can run it on any project state.
type Resolver struct {
	Set  *scm.Set
	Lock lock.Map
	Env  string

	BuildDir       string
	RuntimeVersion string
	EnvLookup      func(string) string
}

// Resolve converges the project rooted at dir and classifies every
// resolved dependency.
func (r *Resolver) Resolve(ctx context.Context, project *manifest.Project, dir string) *Result {
	conv := &Converger{Loader: &Loader{Set: r.Set}, Env: r.Env}
	res := conv.Converge(project, dir)

	cls := &Classifier{
		Lock:           r.Lock,
		BuildDir:       r.BuildDir,
		Env:            r.Env,
		RuntimeVersion: r.RuntimeVersion,
		EnvLookup:      r.EnvLookup,
	}
	cls.ClassifyAll(ctx, res.Deps)
	return res
}

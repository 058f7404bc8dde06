package deps

import (
	"fmt"
	"strings"
)

// ConflictKind classifies why two declarations of the same dependency
// cannot be converged.
type ConflictKind int

const (
	// ConflictSource means the declarations name different sources.
	ConflictSource ConflictKind = iota
	// ConflictRequirement means the sources agree but the version
	// requirements are incompatible.
	ConflictRequirement
	// ConflictOverride means a non-top-level declaration carries an
	// override flag, which only the root project may use.
	ConflictOverride
)

func (k ConflictKind) String() string {
	switch k {
	case ConflictSource:
		return "source"
	case ConflictRequirement:
		return "requirement"
	case ConflictOverride:
		return "override"
	}
	return fmt.Sprintf("ConflictKind(%d)", int(k))
}

// Side is one of the divergent declarations behind a conflict. Source
// is the credential-redacted rendering of the declared source.
type Side struct {
	From        string
	Source      string
	Requirement string
	Override    bool
	TopLevel    bool
}

func (s Side) describe() string {
	out := s.Source
	if s.Requirement != "" {
		out += " (requirement " + s.Requirement + ")"
	}
	if out == "" {
		out = "(no source)"
	}
	return fmt.Sprintf("%s, declared in %s", out, s.From)
}

// Conflict records one irreconcilable pair of declarations. The walk
// collecting conflicts always completes, so a single run reports every
// conflict in the graph.
type Conflict struct {
	Name  string
	Kind  ConflictKind
	Left  Side
	Right Side
}

// Message renders the conflict with both declaring manifests, in a form
// the user can act on by adding a top-level override.
func (c Conflict) Message() string {
	var b strings.Builder
	switch c.Kind {
	case ConflictRequirement:
		fmt.Fprintf(&b, "dependency %s has conflicting requirements:\n", c.Name)
	case ConflictOverride:
		fmt.Fprintf(&b, "dependency %s is overridden outside the top level:\n", c.Name)
	default:
		fmt.Fprintf(&b, "dependency %s diverged:\n", c.Name)
	}
	fmt.Fprintf(&b, "  > %s\n", c.Left.describe())
	fmt.Fprintf(&b, "  > %s\n", c.Right.describe())
	b.WriteString("resolve the divergence, or declare the dependency at the top level with override: true")
	return b.String()
}

// ConflictError aggregates every conflict of a resolution run into one
// failure. Resolution never stops at the first conflict.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	msgs := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		msgs[i] = c.Message()
	}
	return fmt.Sprintf("dependency resolution failed with %d conflict(s):\n%s",
		len(e.Conflicts), strings.Join(msgs, "\n"))
}

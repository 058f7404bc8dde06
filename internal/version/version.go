// Package version implements the version requirement grammar used in
// dependency declarations: comparison operators (==, !=, >, >=, <, <=),
// the pessimistic operator (~>), and requirements combined with "and"
// and "or", where "and" binds tighter.
//
// Versions follow semantic versioning without a leading "v"; comparison
// is delegated to golang.org/x/mod/semver.
package version

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// operators ordered so two-character operators are tried first.
var operators = []string{">=", "<=", "==", "!=", "~>", ">", "<"}

// Requirement is a parsed version requirement. The zero value is not
// usable; obtain one through ParseRequirement.
type Requirement struct {
	raw string
	// groups is a disjunction of conjunctions: the requirement matches
	// when every comparator in at least one group matches.
	groups [][]comparator
}

type comparator struct {
	op string
	// v is the canonical comparison version, with leading "v".
	v string
	// segs is the number of numeric segments written in the source,
	// which decides the upper bound of the pessimistic operator.
	segs int
}

// ParseRequirement parses a requirement such as "~> 1.2", "== 1.0.0",
// or ">= 1.0.0 and < 2.0.0 or ~> 0.9.5". A bare version is shorthand
// for an exact match.
func ParseRequirement(s string) (*Requirement, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("empty version requirement")
	}

	r := &Requirement{raw: raw}
	for _, disj := range strings.Split(raw, " or ") {
		var group []comparator
		for _, conj := range strings.Split(disj, " and ") {
			c, err := parseComparator(strings.TrimSpace(conj))
			if err != nil {
				return nil, fmt.Errorf("invalid requirement %q: %w", raw, err)
			}
			group = append(group, c)
		}
		r.groups = append(r.groups, group)
	}
	return r, nil
}

func parseComparator(token string) (comparator, error) {
	if token == "" {
		return comparator{}, fmt.Errorf("empty clause")
	}

	op := "=="
	rest := token
	for _, candidate := range operators {
		if strings.HasPrefix(token, candidate) {
			op = candidate
			rest = strings.TrimSpace(token[len(candidate):])
			break
		}
	}
	if rest == "" {
		return comparator{}, fmt.Errorf("operator %q without version", op)
	}

	v, segs, err := canonical(rest)
	if err != nil {
		return comparator{}, err
	}
	if op == "~>" && segs < 2 {
		return comparator{}, fmt.Errorf("~> requires at least major.minor, got %q", rest)
	}
	if segs < 2 {
		return comparator{}, fmt.Errorf("version %q must have at least major.minor", rest)
	}
	return comparator{op: op, v: v, segs: segs}, nil
}

// canonical converts a bare version into the "v"-prefixed form semver
// expects and reports how many numeric segments were written.
func canonical(s string) (string, int, error) {
	bare := strings.TrimPrefix(s, "v")
	v := "v" + bare
	if !semver.IsValid(v) {
		return "", 0, fmt.Errorf("invalid version %q", s)
	}
	base := bare
	if i := strings.IndexAny(base, "-+"); i >= 0 {
		base = base[:i]
	}
	return v, len(strings.Split(base, ".")), nil
}

// String returns the requirement as written.
func (r *Requirement) String() string { return r.raw }

// HasPrerelease reports whether any clause of the requirement names a
// pre-release version. Registry resolution only considers pre-release
// candidates when this is true.
func (r *Requirement) HasPrerelease() bool {
	for _, group := range r.groups {
		for _, c := range group {
			if semver.Prerelease(c.v) != "" {
				return true
			}
		}
	}
	return false
}

// Match reports whether the concrete version satisfies the requirement.
// It returns an error when the version itself cannot be parsed.
func (r *Requirement) Match(version string) (bool, error) {
	v, _, err := canonical(version)
	if err != nil {
		return false, err
	}
	for _, group := range r.groups {
		if matchGroup(group, v) {
			return true, nil
		}
	}
	return false, nil
}

func matchGroup(group []comparator, v string) bool {
	for _, c := range group {
		if !c.match(v) {
			return false
		}
	}
	return true
}

func (c comparator) match(v string) bool {
	cmp := semver.Compare(v, c.v)
	switch c.op {
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "~>":
		if cmp < 0 {
			return false
		}
		if c.segs >= 3 {
			return semver.MajorMinor(v) == semver.MajorMinor(c.v)
		}
		return semver.Major(v) == semver.Major(c.v)
	}
	return false
}

// Valid reports whether s is a complete major.minor.patch version, with
// an optional pre-release or build suffix.
func Valid(s string) bool {
	_, segs, err := canonical(s)
	return err == nil && segs == 3
}

// Compare orders two versions like semver.Compare, accepting bare
// version strings. Invalid versions sort before valid ones.
func Compare(a, b string) int {
	av := "v" + strings.TrimPrefix(a, "v")
	bv := "v" + strings.TrimPrefix(b, "v")
	return semver.Compare(av, bv)
}

// Prerelease reports whether the version carries a pre-release suffix.
func Prerelease(s string) bool {
	return semver.Prerelease("v"+strings.TrimPrefix(s, "v")) != ""
}

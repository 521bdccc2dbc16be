// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gemresolve

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"deps.dev/util/semver"
	"github.com/golang/groupcache/lru"

	"deps.dev/util/gemresolve/dep"
)

// DefaultConstraint is the constraint of a dependency declared without one.
const DefaultConstraint = ">= 0"

// Dependency is a dependency declaration, either from a Gemfile or from the
// metadata of a gem.
type Dependency struct {
	PackageName string
	// VersionConstraint is a RubyGems constraint, requirements separated
	// by commas. Empty means any version.
	VersionConstraint string
	Type              dep.Type
	// Source names the source the gem is pinned to, if any.
	Source string
	// Platforms restricts the platforms the dependency applies to. Empty
	// means every platform.
	Platforms []Platform
}

func (d Dependency) Name() string { return d.PackageName }

func (d Dependency) Constraint() string { return NormalizeConstraint(d.VersionConstraint) }

// AppliesTo reports whether the dependency is relevant on p.
func (d Dependency) AppliesTo(p Platform) bool {
	if len(d.Platforms) == 0 {
		return true
	}
	for _, q := range d.Platforms {
		if q == p {
			return true
		}
	}
	return false
}

// Equal reports whether d and o declare the same thing. Platform
// restrictions are compared as written.
func (d Dependency) Equal(o Dependency) bool {
	if d.PackageName != o.PackageName || d.Constraint() != o.Constraint() ||
		d.Type != o.Type || d.Source != o.Source || len(d.Platforms) != len(o.Platforms) {
		return false
	}
	for i := range d.Platforms {
		if d.Platforms[i] != o.Platforms[i] {
			return false
		}
	}
	return true
}

// Two-character operators come first so that prefix matching is greedy.
var operators = []string{"~>", ">=", "<=", "!=", "=", ">", "<"}

// NormalizeConstraint trims and collapses white space in a constraint
// string, mapping the empty constraint to DefaultConstraint. Requirements
// that differ only by spacing share a normalized form.
func NormalizeConstraint(s string) string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p == "" {
			continue
		}
		// "~>2.0" and "~> 2.0" are the same requirement.
		for _, op := range operators {
			if strings.HasPrefix(p, op) {
				p = op + " " + strings.TrimSpace(p[len(op):])
				break
			}
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return DefaultConstraint
	}
	return strings.Join(out, ", ")
}

// MalformedConstraintError reports a constraint that could not be parsed.
type MalformedConstraintError struct {
	Name       string
	Constraint string
	Err        error
}

func (e *MalformedConstraintError) Error() string {
	return fmt.Sprintf("malformed version requirement %q for gem %q: %v", e.Constraint, e.Name, e.Err)
}

func (e *MalformedConstraintError) Unwrap() error { return e.Err }

// constraints memoizes parsed constraints. Gem universes repeat the same few
// constraint strings many times over.
var constraints = struct {
	sync.Mutex
	cache *lru.Cache
}{cache: lru.New(4096)}

// clause is one comma-separated part of a constraint, such as "~> 2.0".
type clause struct {
	op string
	v  *semver.Version
	// upper is the exclusive bound of a "~>" clause.
	upper *semver.Version
}

// constraint is a parsed constraint; a version must meet every clause.
type constraint []clause

// parseConstraint parses a normalized constraint. The semver package checks
// the syntax; the clauses are kept so they can be evaluated with RubyGems
// ordering, under which a constraint naming a prerelease admits the
// prereleases above it.
func parseConstraint(s string) (constraint, error) {
	constraints.Lock()
	defer constraints.Unlock()
	if c, ok := constraints.cache.Get(s); ok {
		return c.(constraint), nil
	}
	if _, err := semver.RubyGems.ParseConstraint(s); err != nil {
		return nil, err
	}
	var c constraint
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		cl := clause{op: "="}
		for _, op := range operators {
			if strings.HasPrefix(part, op) {
				cl.op = op
				part = strings.TrimSpace(part[len(op):])
				break
			}
		}
		v, err := semver.RubyGems.Parse(part)
		if err != nil {
			return nil, err
		}
		cl.v = v
		if cl.op == "~>" {
			if cl.upper, err = semver.RubyGems.Parse(bump(part)); err != nil {
				return nil, err
			}
		}
		c = append(c, cl)
	}
	constraints.cache.Add(s, c)
	return c, nil
}

// bump returns the upper bound of "~> v": the release segments of v with
// the last one dropped, unless it is the only one, and the new last one
// incremented. "2.0.a" bumps to "3", "1.2.3" to "1.3".
func bump(v string) string {
	segs := releaseSegments(v)
	if len(segs) > 1 {
		segs = segs[:len(segs)-1]
	}
	if len(segs) == 0 {
		return "1"
	}
	n, _ := strconv.ParseInt(segs[len(segs)-1], 10, 64)
	segs[len(segs)-1] = strconv.FormatInt(n+1, 10)
	return strings.Join(segs, ".")
}

// releaseSegments returns the numeric segments of v that precede its
// prerelease part.
func releaseSegments(v string) []string {
	var segs []string
	for _, p := range strings.Split(v, ".") {
		i := strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' })
		if i < 0 {
			segs = append(segs, p)
			continue
		}
		if i > 0 {
			segs = append(segs, p[:i])
		}
		break
	}
	return segs
}

// release returns v without its prerelease part.
func release(v *semver.Version) *semver.Version {
	if !v.IsPrerelease() {
		return v
	}
	r, err := semver.RubyGems.Parse(strings.Join(releaseSegments(v.String()), "."))
	if err != nil {
		return v
	}
	return r
}

func (cl clause) match(v *semver.Version) bool {
	n := v.Compare(cl.v)
	switch cl.op {
	case "=":
		return n == 0
	case "!=":
		return n != 0
	case ">":
		return n > 0
	case ">=":
		return n >= 0
	case "<":
		return n < 0
	case "<=":
		return n <= 0
	case "~>":
		// The bound applies to the release, so "~> 2.0" rejects 3.0.a.
		return n >= 0 && release(v).Compare(cl.upper) < 0
	}
	return false
}

// match reports whether v meets every clause. Prereleases are not filtered
// here; see SolutionIndex.Search.
func (c constraint) match(v *semver.Version) bool {
	for _, cl := range c {
		if !cl.match(v) {
			return false
		}
	}
	return true
}

// requestsPrerelease reports whether any version written in the constraint
// is a prerelease. Only the versions as written count: "< 2.0" does not
// request prereleases even though the range it covers contains some.
func requestsPrerelease(s string) bool {
	for _, part := range strings.Split(s, ",") {
		v := strings.TrimLeft(strings.TrimSpace(part), "=!<>~ ")
		if v == "" {
			continue
		}
		if pv, err := semver.RubyGems.Parse(v); err == nil && pv.IsPrerelease() {
			return true
		}
	}
	return false
}

// RequirementKey is the identity of a Requirement. It is comparable and is
// used as a map key wherever requirements are memoized.
type RequirementKey struct {
	Name       string
	Constraint string
	Platform   Platform
}

func (k RequirementKey) String() string {
	return fmt.Sprintf("%s (%s) %s", k.Name, k.Constraint, k.Platform)
}

// Requirement is a Dependency targeted at a Platform. It records the
// requirement that caused it to be expanded, so the chain of requirements
// leading to it can be walked for backjumping and error reporting.
//
// Requirements are immutable; WithParent returns a copy.
type Requirement struct {
	dep        Dependency
	key        RequirementKey
	constraint constraint
	prerelease bool
	parent     *Requirement
}

// NewRequirement wraps d for platform p, parsing its constraint.
func NewRequirement(d Dependency, p Platform) (*Requirement, error) {
	cs := d.Constraint()
	c, err := parseConstraint(cs)
	if err != nil {
		return nil, &MalformedConstraintError{Name: d.PackageName, Constraint: d.VersionConstraint, Err: err}
	}
	return &Requirement{
		dep:        d,
		key:        RequirementKey{Name: d.PackageName, Constraint: cs, Platform: p},
		constraint: c,
		prerelease: requestsPrerelease(cs),
	}, nil
}

// MustRequirement is like NewRequirement but panics on a malformed
// constraint. It is intended for tests and fixed declarations.
func MustRequirement(name, constraint string, p Platform) *Requirement {
	r, err := NewRequirement(Dependency{PackageName: name, VersionConstraint: constraint}, p)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Requirement) Name() string { return r.key.Name }
func (r *Requirement) Constraint() string { return r.key.Constraint }
func (r *Requirement) Platform() Platform { return r.key.Platform }
func (r *Requirement) Key() RequirementKey { return r.key }
func (r *Requirement) Dependency() Dependency { return r.dep }
func (r *Requirement) Source() string { return r.dep.Source }
func (r *Requirement) Type() dep.Type { return r.dep.Type }

// Prerelease reports whether the constraint explicitly asks for a
// prerelease version.
func (r *Requirement) Prerelease() bool { return r.prerelease }

// Parent returns the requirement whose activation introduced r, or nil for
// a top-level requirement.
func (r *Requirement) Parent() *Requirement { return r.parent }

// WithParent returns a copy of r introduced by parent.
func (r *Requirement) WithParent(parent *Requirement) *Requirement {
	c := *r
	c.parent = parent
	return &c
}

// RequiredBy returns the chain of requirements that led to r, outermost
// first. It is empty for a top-level requirement.
func (r *Requirement) RequiredBy() []*Requirement {
	var chain []*Requirement
	for p := r.parent; p != nil; p = p.parent {
		chain = append(chain, p)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// SatisfiedBy reports whether the candidate's version meets the constraint.
// Platforms are not considered.
func (r *Requirement) SatisfiedBy(c *Candidate) bool {
	return r.constraint.match(c.version)
}

// Equal reports whether r and o have the same identity.
func (r *Requirement) Equal(o *Requirement) bool { return r.key == o.key }

func (r *Requirement) String() string { return r.key.String() }

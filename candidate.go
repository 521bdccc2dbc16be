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
	"sort"

	"deps.dev/util/semver"
	mapset "github.com/deckarep/golang-set/v2"
)

// CandidateID uniquely identifies a Candidate.
type CandidateID struct {
	Name     string
	Version  string
	Platform Platform
}

func (id CandidateID) String() string {
	if id.Platform == Ruby {
		return fmt.Sprintf("%s (%s)", id.Name, id.Version)
	}
	return fmt.Sprintf("%s (%s-%s)", id.Name, id.Version, id.Platform)
}

// Candidate is a single concrete gem: one version built for one platform.
type Candidate struct {
	Name     string
	Version  string
	Platform Platform
	// Source names where the gem comes from, for diagnostics and pinning.
	Source       string
	Dependencies []Dependency

	version *semver.Version
}

// NewCandidate creates a Candidate, validating its version and the
// constraints of its dependencies. An empty platform means Ruby.
func NewCandidate(name, version string, p Platform, source string, deps ...Dependency) (*Candidate, error) {
	if name == "" {
		return nil, fmt.Errorf("candidate %s: empty name", version)
	}
	v, err := semver.RubyGems.Parse(version)
	if err != nil {
		return nil, fmt.Errorf("candidate %s: %w", name, err)
	}
	if p == "" {
		p = Ruby
	}
	for _, d := range deps {
		if _, err := parseConstraint(d.Constraint()); err != nil {
			return nil, &MalformedConstraintError{Name: d.PackageName, Constraint: d.VersionConstraint, Err: err}
		}
	}
	return &Candidate{
		Name:         name,
		Version:      version,
		Platform:     p,
		Source:       source,
		Dependencies: deps,
		version:      v,
	}, nil
}

// MustCandidate is like NewCandidate but panics on error. Dependencies are
// given as name/constraint pairs.
func MustCandidate(name, version string, p Platform, deps ...string) *Candidate {
	if len(deps)%2 != 0 {
		panic("MustCandidate: odd number of dependency arguments")
	}
	var ds []Dependency
	for i := 0; i < len(deps); i += 2 {
		ds = append(ds, Dependency{PackageName: deps[i], VersionConstraint: deps[i+1]})
	}
	c, err := NewCandidate(name, version, p, "", ds...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Candidate) ID() CandidateID {
	return CandidateID{Name: c.Name, Version: c.Version, Platform: c.Platform}
}

// SemVer returns the parsed version.
func (c *Candidate) SemVer() *semver.Version { return c.version }

func (c *Candidate) IsPrerelease() bool { return c.version.IsPrerelease() }

// Satisfies reports whether the candidate has the declared name and a
// version meeting its constraint.
func (c *Candidate) Satisfies(d VersionConstrained) bool {
	if c.Name != d.Name() {
		return false
	}
	con, err := parseConstraint(d.Constraint())
	if err != nil {
		return false
	}
	return con.match(c.version)
}

func (c *Candidate) String() string { return c.ID().String() }

// compareCandidates orders candidates by version, then by platform with the
// generic Ruby platform last.
func compareCandidates(a, b *Candidate) int {
	if c := a.version.Compare(b.version); c != 0 {
		return c
	}
	if a.Version != b.Version {
		// Equal by value but spelled differently, e.g. 1.0 and 1.0.0.
		if a.Version < b.Version {
			return -1
		}
		return 1
	}
	if a.Platform == b.Platform {
		return 0
	}
	if a.Platform == Ruby {
		return 1
	}
	if b.Platform == Ruby {
		return -1
	}
	if a.Platform < b.Platform {
		return -1
	}
	return 1
}

// CandidateGroup holds every build of one version of a gem. It is the unit
// of activation: the resolver chooses a group for a name, and then expands
// the group's dependencies for each platform it is activated on.
type CandidateGroup struct {
	candidates []*Candidate
	builds     map[Platform]*Candidate
	activated  mapset.Set[Platform]
	by         *Requirement
	memo       *depsMemo
}

// depsMemo caches the runtime dependency requirements of a group per
// platform. It is shared between clones of a group.
type depsMemo struct {
	deps map[Platform][]*Requirement
}

// NewCandidateGroup groups candidates that share a name and a version. The
// last candidate for a platform wins. It returns nil for an empty list.
func NewCandidateGroup(cs []*Candidate) *CandidateGroup {
	if len(cs) == 0 {
		return nil
	}
	g := &CandidateGroup{
		candidates: cs,
		builds:     make(map[Platform]*Candidate),
		activated:  mapset.NewThreadUnsafeSet[Platform](),
		memo:       &depsMemo{deps: make(map[Platform][]*Requirement)},
	}
	for _, c := range cs {
		g.builds[c.Platform] = c
	}
	return g
}

func (g *CandidateGroup) Name() string { return g.candidates[0].Name }
func (g *CandidateGroup) Version() string { return g.candidates[0].Version }
func (g *CandidateGroup) Source() string { return g.candidates[0].Source }
func (g *CandidateGroup) SemVer() *semver.Version { return g.candidates[0].version }
func (g *CandidateGroup) Representative() *Candidate { return g.candidates[0] }

// ForPlatform returns the build made exactly for p, or nil.
func (g *CandidateGroup) ForPlatform(p Platform) *Candidate {
	return g.builds[p]
}

// Build returns the build to use on p: the exact build if there is one,
// otherwise the generic Ruby build, otherwise nil.
func (g *CandidateGroup) Build(p Platform) *Candidate {
	if c := g.builds[p]; c != nil {
		return c
	}
	return g.builds[Ruby]
}

// Supports reports whether the group can be used on p.
func (g *CandidateGroup) Supports(p Platform) bool { return g.Build(p) != nil }

// ActivatePlatform marks the group as activated on p and returns the
// runtime dependencies of its build for p, introduced by parent. If the
// group was already activated on p, or has no usable build, the result is
// empty.
func (g *CandidateGroup) ActivatePlatform(p Platform, parent *Requirement) ([]*Requirement, error) {
	if g.activated.Contains(p) || !g.Supports(p) {
		return nil, nil
	}
	tmpl, err := g.dependencies(p)
	if err != nil {
		return nil, err
	}
	g.activated.Add(p)
	reqs := make([]*Requirement, len(tmpl))
	for i, r := range tmpl {
		reqs[i] = r.WithParent(parent)
	}
	return reqs, nil
}

func (g *CandidateGroup) dependencies(p Platform) ([]*Requirement, error) {
	if reqs, ok := g.memo.deps[p]; ok {
		return reqs, nil
	}
	var reqs []*Requirement
	for _, d := range g.Build(p).Dependencies {
		if !d.Type.IsRuntime() {
			continue
		}
		r, err := NewRequirement(d, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", g, err)
		}
		reqs = append(reqs, r)
	}
	g.memo.deps[p] = reqs
	return reqs, nil
}

// ActivatedPlatforms returns the platforms the group is activated on, in
// the order of Platforms, unknown platforms last.
func (g *CandidateGroup) ActivatedPlatforms() []Platform {
	ps := g.activated.ToSlice()
	rank := func(p Platform) int {
		for i, q := range Platforms {
			if p == q {
				return i
			}
		}
		return len(Platforms)
	}
	sort.Slice(ps, func(i, j int) bool {
		ri, rj := rank(ps[i]), rank(ps[j])
		if ri != rj {
			return ri < rj
		}
		return ps[i] < ps[j]
	})
	return ps
}

// SetActivatedBy records the requirement the group was chosen for.
func (g *CandidateGroup) SetActivatedBy(r *Requirement) { g.by = r }

// ActivatedBy returns the requirement the group was chosen for, or nil when
// the group did not come from a resolution.
func (g *CandidateGroup) ActivatedBy() *Requirement { return g.by }

// RequiredBy returns the requirement chain that led to the activation of
// the group, ending with the requirement it was activated for.
func (g *CandidateGroup) RequiredBy() []*Requirement {
	if g.by == nil {
		return nil
	}
	return append(g.by.RequiredBy(), g.by)
}

// Candidates returns the builds used by the activated platforms, without
// duplicates.
func (g *CandidateGroup) Candidates() []*Candidate {
	var out []*Candidate
	seen := make(map[CandidateID]bool)
	for _, p := range g.ActivatedPlatforms() {
		c := g.Build(p)
		if c == nil || seen[c.ID()] {
			continue
		}
		seen[c.ID()] = true
		out = append(out, c)
	}
	return out
}

// Clone returns a copy of the group with its own activation state. The
// dependency memo is shared.
func (g *CandidateGroup) Clone() *CandidateGroup {
	c := *g
	c.activated = g.activated.Clone()
	return &c
}

func (g *CandidateGroup) String() string {
	return fmt.Sprintf("%s (%s)", g.Name(), g.Version())
}

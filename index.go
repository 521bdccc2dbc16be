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
	"slices"
	"sort"
	"strings"
)

// SolutionIndex is a collection of candidates, unique by CandidateID. It
// serves as the universe of available gems, as a locked baseline, and as
// the result of a resolution.
//
// A SolutionIndex is not safe for concurrent use.
type SolutionIndex struct {
	// byName holds the candidates of each gem in search order.
	byName map[string][]*Candidate
	ids    map[CandidateID]*Candidate
	cache  map[searchKey][]*Candidate
}

// searchKey identifies a search. Base is the fingerprint of the baseline
// entries that took part in it.
type searchKey struct {
	req  RequirementKey
	base string
}

// NewSolutionIndex creates an index holding the given candidates. Later
// duplicates replace earlier ones.
func NewSolutionIndex(cs ...*Candidate) *SolutionIndex {
	x := &SolutionIndex{
		byName: make(map[string][]*Candidate),
		ids:    make(map[CandidateID]*Candidate),
		cache:  make(map[searchKey][]*Candidate),
	}
	for _, c := range cs {
		x.Add(c)
	}
	return x
}

// Add adds a candidate to the index. A candidate with the same identity is
// replaced; Add reports whether that happened.
func (x *SolutionIndex) Add(c *Candidate) (replaced bool) {
	clear(x.cache)
	id := c.ID()
	cs := x.byName[c.Name]
	if _, ok := x.ids[id]; ok {
		for i, o := range cs {
			if o.ID() == id {
				cs[i] = c
			}
		}
		x.ids[id] = c
		return true
	}
	x.ids[id] = c
	i := sort.Search(len(cs), func(i int) bool { return compareCandidates(cs[i], c) > 0 })
	x.byName[c.Name] = slices.Insert(cs, i, c)
	return false
}

// Remove deletes every candidate of the named gem.
func (x *SolutionIndex) Remove(name string) {
	for _, c := range x.byName[name] {
		delete(x.ids, c.ID())
	}
	delete(x.byName, name)
	clear(x.cache)
}

// Len returns the number of candidates.
func (x *SolutionIndex) Len() int { return len(x.ids) }

// Contains reports whether a candidate with the same identity is present.
func (x *SolutionIndex) Contains(c *Candidate) bool {
	_, ok := x.ids[c.ID()]
	return ok
}

// Get returns the candidate with the given identity, or nil.
func (x *SolutionIndex) Get(id CandidateID) *Candidate { return x.ids[id] }

// Names returns the gem names in the index, sorted.
func (x *SolutionIndex) Names() []string {
	names := make([]string, 0, len(x.byName))
	for n, cs := range x.byName {
		if len(cs) > 0 {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// ByName returns every candidate of the named gem, in search order. The
// returned slice must not be modified.
func (x *SolutionIndex) ByName(name string) []*Candidate { return x.byName[name] }

// Candidates returns every candidate, sorted by name and then search order.
func (x *SolutionIndex) Candidates() []*Candidate {
	out := make([]*Candidate, 0, len(x.ids))
	for _, n := range x.Names() {
		out = append(out, x.byName[n]...)
	}
	return out
}

// Search returns the candidates that satisfy req, in search order: version
// ascending, then platform with the generic platform last.
//
// Candidates must be usable on the requirement's platform, unless base is
// not empty. Base holds baseline entries for the gem; they are considered
// along with the indexed candidates, and every platform is allowed since a
// lockfile may record builds for platforms other than the current one.
//
// Prerelease versions are dropped unless the requirement asks for one or
// every match is a prerelease.
//
// Results are cached until the index is next modified.
func (x *SolutionIndex) Search(req *Requirement, base []*Candidate) []*Candidate {
	key := searchKey{req: req.Key(), base: fingerprint(base)}
	if cs, ok := x.cache[key]; ok {
		return cs
	}
	all := x.byName[req.Name()]
	if len(base) > 0 {
		merged := NewSolutionIndex(all...)
		for _, b := range base {
			if b.Name == req.Name() && !merged.Contains(b) {
				merged.Add(b)
			}
		}
		all = merged.byName[req.Name()]
	}
	var found []*Candidate
	for _, c := range all {
		if !req.SatisfiedBy(c) {
			continue
		}
		if len(base) == 0 && !c.Platform.Supports(req.Platform()) {
			continue
		}
		found = append(found, c)
	}
	if !req.Prerelease() && slices.ContainsFunc(found, func(c *Candidate) bool { return !c.IsPrerelease() }) {
		found = slices.DeleteFunc(found, (*Candidate).IsPrerelease)
	}
	x.cache[key] = found
	return found
}

func fingerprint(base []*Candidate) string {
	if len(base) == 0 {
		return ""
	}
	ids := make([]string, len(base))
	for i, c := range base {
		ids[i] = c.Name + "@" + c.Version + "@" + string(c.Platform)
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// Difference returns the candidates of x whose identity is not in other,
// sorted.
func (x *SolutionIndex) Difference(other *SolutionIndex) []*Candidate {
	var out []*Candidate
	for _, c := range x.Candidates() {
		if other == nil || !other.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

// Merge adds the candidates of other to x. Candidates whose identity is
// already present are kept unless override is set, in which case the ones
// from other win. It returns x.
func (x *SolutionIndex) Merge(other *SolutionIndex, override bool) *SolutionIndex {
	if other == nil {
		return x
	}
	for _, c := range other.Candidates() {
		if override || !x.Contains(c) {
			x.Add(c)
		}
	}
	return x
}

// Clone returns a shallow copy of the index. Candidates are shared.
func (x *SolutionIndex) Clone() *SolutionIndex {
	return NewSolutionIndex(x.Candidates()...)
}

// For returns the subset of x reachable from reqs by following runtime
// dependencies by name, ignoring versions. For each name the first
// candidate usable on the requirement's platform is taken. Names in skip are
// not followed. The candidates of selfName, if any, are always included.
func (x *SolutionIndex) For(reqs []*Requirement, skip []string, selfName string) *SolutionIndex {
	skipped := make(map[string]bool)
	for _, s := range skip {
		skipped[s] = true
	}
	if selfName != "" {
		skipped[selfName] = true
	}
	out := NewSolutionIndex()
	handled := make(map[RequirementKey]bool)
	queue := slices.Clone(reqs)
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		if handled[r.Key()] || skipped[r.Name()] {
			continue
		}
		handled[r.Key()] = true
		var spec *Candidate
		for _, c := range x.byName[r.Name()] {
			if c.Platform.Supports(r.Platform()) {
				spec = c
				break
			}
		}
		if spec == nil {
			continue
		}
		out.Add(spec)
		for _, d := range spec.Dependencies {
			if !d.Type.IsRuntime() {
				continue
			}
			dr, err := NewRequirement(d, r.Platform())
			if err != nil {
				// Candidates validate their dependencies on creation.
				continue
			}
			queue = append(queue, dr)
		}
	}
	if selfName != "" {
		if cs := x.byName[selfName]; len(cs) > 0 {
			out.Add(cs[0])
		}
	}
	return out
}

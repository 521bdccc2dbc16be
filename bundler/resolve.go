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

/*
Package bundler implements dependency resolution the way Bundler does it:
a depth-first search over version groups that, on a conflict, jumps back to
the decision responsible for it instead of the most recent one.

The search keeps a frontier of pending requirements. Each round sorts the
frontier so that requirements on already chosen gems, prerelease
requirements, requirements on gems that recently conflicted and
requirements with few choices come first, and handles the front one. A gem
that has not been chosen yet opens a decision point holding every
acceptable version; the highest version is tried first. A conflict walks the
requirement chains of both sides to find the closest decision point that
still has alternatives.
*/
package bundler

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"deps.dev/util/gemresolve"
)

const (
	// SelfName is the name of the resolver's own gem.
	SelfName = "bundler"
	// SelfVersion is the version of the resolver's own gem.
	SelfVersion = "1.10.6"

	defaultMaxRounds = 200000
	heartbeatEvery   = 1000
)

// Resolver resolves requirements against a CandidatePool. A Resolver may be
// reused, but not for concurrent resolutions over the same pool.
type Resolver struct {
	pool        *gemresolve.CandidatePool
	logger      *zap.Logger
	metrics     *Metrics
	selfName    string
	selfVersion string
	maxRounds   int
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithMetrics sets the collectors updated while resolving.
func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithSelf sets the gem the resolver always includes in a solution. An
// empty name disables self inclusion.
func WithSelf(name, version string) Option {
	return func(r *Resolver) {
		r.selfName = name
		r.selfVersion = version
	}
}

// WithMaxRounds bounds the number of rounds of a resolution.
func WithMaxRounds(n int) Option {
	return func(r *Resolver) { r.maxRounds = n }
}

// NewResolver returns a Resolver over pool.
func NewResolver(pool *gemresolve.CandidatePool, opts ...Option) *Resolver {
	r := &Resolver{
		pool:        pool,
		logger:      zap.NewNop(),
		selfName:    SelfName,
		selfVersion: SelfVersion,
		maxRounds:   defaultMaxRounds,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve finds one version group per gem name satisfying reqs and returns
// the activated candidates. Gems present in base are held at their base
// version when that still satisfies the requirements.
//
// The error is a *CandidateNotFoundError, *VersionConflictError or
// *SelfReferenceNotFoundError when no solution exists.
func (r *Resolver) Resolve(ctx context.Context, reqs []*gemresolve.Requirement, base *gemresolve.SolutionIndex) (*gemresolve.SolutionIndex, error) {
	t0 := time.Now()
	res := &resolution{
		Resolver:  r,
		base:      base,
		conflicts: make(map[string]conflict),
		searches:  make(map[gemresolve.RequirementKey][]*gemresolve.CandidateGroup),
	}
	sol, err := res.resolve(ctx, reqs)
	d := time.Since(t0)
	r.metrics.finish(resultOf(err), d)
	if err != nil {
		r.logger.Debug("resolution failed",
			zap.Error(err),
			zap.Int("rounds", res.rounds),
			zap.Int("backjumps", res.backjumps),
			zap.Duration("elapsed", d))
		return nil, err
	}
	r.logger.Debug("resolution finished",
		zap.Int("gems", sol.Len()),
		zap.Int("rounds", res.rounds),
		zap.Int("backjumps", res.backjumps),
		zap.Duration("elapsed", d))
	return sol, nil
}

func resultOf(err error) string {
	switch err.(type) {
	case nil:
		return resultSuccess
	case *VersionConflictError:
		return resultConflict
	case *CandidateNotFoundError, *SelfReferenceNotFoundError:
		return resultNotFound
	}
	return resultError
}

// resolution holds the state of a single call to Resolve.
type resolution struct {
	*Resolver
	base *gemresolve.SolutionIndex

	// conflicts holds the last conflict seen for each name; an entry is
	// cleared when a requirement on the name is satisfied again.
	conflicts map[string]conflict
	// searches caches the groups matching a requirement. The groups are
	// never activated themselves, only clones of them.
	searches map[gemresolve.RequirementKey][]*gemresolve.CandidateGroup
	// states is the stack of decision points.
	states []*state

	rounds, backjumps int
}

// state is a decision point: the situation when a gem was first chosen,
// and the groups not yet tried for it.
type state struct {
	// frontier and activated are as they were before the choice.
	frontier  []*gemresolve.Requirement
	activated *activation
	// req is the requirement the choice was made for.
	req *gemresolve.Requirement
	// possibles are the remaining groups, best last.
	possibles []*gemresolve.CandidateGroup
	depth     int
	conflicts mapset.Set[string]
}

func (s *state) name() string { return s.req.Name() }

func (s *state) pop() *gemresolve.CandidateGroup {
	g := s.possibles[len(s.possibles)-1]
	s.possibles = s.possibles[:len(s.possibles)-1]
	return g
}

// cursor is the part of the search that a backjump restores.
type cursor struct {
	frontier  []*gemresolve.Requirement
	activated *activation
	depth     int
	conflicts mapset.Set[string]
}

func (res *resolution) resolve(ctx context.Context, reqs []*gemresolve.Requirement) (*gemresolve.SolutionIndex, error) {
	cur := &cursor{
		frontier:  slices.Clone(reqs),
		activated: newActivation(len(reqs)),
		conflicts: mapset.NewThreadUnsafeSet[string](),
	}
	cur.frontier = append(cur.frontier, res.selfRequirements(reqs)...)

	for len(cur.frontier) > 0 {
		if res.rounds >= res.maxRounds {
			return nil, ErrTooManyRounds
		}
		if res.rounds%100 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		res.rounds++
		res.metrics.round()
		if res.rounds%heartbeatEvery == 0 {
			res.logger.Debug("still resolving",
				zap.Int("round", res.rounds),
				zap.Int("depth", cur.depth),
				zap.Int("states", len(res.states)))
		}

		if err := res.sortFrontier(cur); err != nil {
			return nil, err
		}
		current := cur.frontier[0]
		cur.frontier = cur.frontier[1:]

		var err error
		if existing := cur.activated.Get(current.Name()); existing != nil || res.isSelf(current.Name()) {
			cur, err = res.handleActivated(cur, current, existing)
		} else {
			cur, err = res.handleUnactivated(cur, current)
		}
		if err != nil {
			return nil, err
		}
	}

	sol := gemresolve.NewSolutionIndex()
	cur.activated.Iterate(func(g *gemresolve.CandidateGroup) {
		for _, c := range g.Candidates() {
			sol.Add(c)
		}
	})
	return sol, nil
}

func (res *resolution) isSelf(name string) bool {
	return res.selfName != "" && name == res.selfName
}

// selfRequirements returns a requirement on the resolver's own gem for each
// platform the top-level requirements target, unless one is already there.
func (res *resolution) selfRequirements(reqs []*gemresolve.Requirement) []*gemresolve.Requirement {
	if res.selfName == "" {
		return nil
	}
	var platforms []gemresolve.Platform
	have := make(map[gemresolve.Platform]bool)
	for _, r := range reqs {
		if r.Name() == res.selfName {
			have[r.Platform()] = true
		}
	}
	for _, r := range reqs {
		if p := r.Platform(); !have[p] {
			have[p] = true
			platforms = append(platforms, p)
		}
	}
	if len(reqs) == 0 {
		platforms = append(platforms, gemresolve.Ruby)
	}
	out := make([]*gemresolve.Requirement, 0, len(platforms))
	for _, p := range platforms {
		out = append(out, gemresolve.MustRequirement(res.selfName, gemresolve.DefaultConstraint, p))
	}
	return out
}

// priority orders the frontier. Smaller sorts first.
type priority struct {
	unactivated, stable, unconflicted, choices int
}

func (p priority) less(q priority) bool {
	if p.unactivated != q.unactivated {
		return p.unactivated < q.unactivated
	}
	if p.stable != q.stable {
		return p.stable < q.stable
	}
	if p.unconflicted != q.unconflicted {
		return p.unconflicted < q.unconflicted
	}
	return p.choices < q.choices
}

func flag(b bool) int {
	if b {
		return 0
	}
	return 1
}

func (res *resolution) sortFrontier(cur *cursor) error {
	type entry struct {
		req *gemresolve.Requirement
		pri priority
	}
	entries := make([]entry, len(cur.frontier))
	for i, r := range cur.frontier {
		activated := cur.activated.Get(r.Name()) != nil
		_, conflicted := res.conflicts[r.Name()]
		p := priority{
			unactivated:  flag(activated),
			stable:       flag(r.Prerelease()),
			unconflicted: flag(conflicted),
		}
		if !activated {
			gs, err := res.search(r)
			if err != nil {
				return err
			}
			p.choices = len(gs)
		}
		entries[i] = entry{r, p}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].pri.less(entries[j].pri) })
	for i, e := range entries {
		cur.frontier[i] = e.req
	}
	return nil
}

// handleActivated deals with a requirement on a gem that has already been
// chosen.
func (res *resolution) handleActivated(cur *cursor, current *gemresolve.Requirement, existing *gemresolve.CandidateGroup) (*cursor, error) {
	if existing == nil {
		g, err := res.activateSelf(current.Platform())
		if err != nil {
			return nil, err
		}
		cur.activated.Set(g)
		existing = g
	}
	if current.SatisfiedBy(existing.Representative()) {
		delete(res.conflicts, existing.Name())
		deps, err := existing.ActivatePlatform(current.Platform(), current)
		if err != nil {
			return nil, err
		}
		cur.frontier = append(cur.frontier, deps...)
		cur.depth++
		return cur, nil
	}

	res.logger.Debug("conflict",
		zap.Stringer("requirement", current),
		zap.Stringer("activated", existing))
	res.conflicts[existing.Name()] = conflict{
		origin: existing,
		locked: res.isLocked(existing),
		req:    current,
	}
	cur.conflicts.Add(current.Name())

	target := current.Parent()
	if !res.otherPossible(target) {
		var other *gemresolve.Requirement
		if by := existing.ActivatedBy(); by != nil {
			other = by.Parent()
		}
		target = res.handleConflict(current, other)
	}
	if target == nil && cur.conflicts.Cardinality() > 0 {
		for i := len(res.states) - 1; i >= 0; i-- {
			if st := res.states[i]; cur.conflicts.Contains(st.name()) && len(st.possibles) > 0 {
				target = st.req
				break
			}
		}
	}
	if target == nil || res.isSelf(target.Name()) {
		return nil, res.versionConflict()
	}
	return res.backjump(target)
}

// handleUnactivated opens a decision point for a gem not chosen yet.
func (res *resolution) handleUnactivated(cur *cursor, current *gemresolve.Requirement) (*cursor, error) {
	matching, err := res.search(current)
	if err != nil {
		return nil, err
	}
	if len(matching) == 0 {
		if current.Parent() == nil {
			return nil, res.notFound(current)
		}
		res.logger.Debug("no candidates", zap.Stringer("requirement", current))
		res.conflicts[current.Name()] = conflict{req: current}
		target := res.handleConflict(current, nil)
		if target == nil {
			return nil, res.versionConflict()
		}
		return res.backjump(target)
	}

	st := &state{
		frontier:  slices.Clone(cur.frontier),
		activated: cur.activated.Clone(),
		req:       current,
		possibles: slices.Clone(matching),
		depth:     cur.depth,
		conflicts: cur.conflicts.Clone(),
	}
	res.states = append(res.states, st)
	if err := res.activate(cur, st.pop(), current); err != nil {
		return nil, err
	}
	return cur, nil
}

// activate chooses g for req.
func (res *resolution) activate(cur *cursor, g *gemresolve.CandidateGroup, req *gemresolve.Requirement) error {
	g = g.Clone()
	g.SetActivatedBy(req)
	cur.activated.Set(g)
	res.logger.Debug("activate", zap.Stringer("group", g), zap.Stringer("requirement", req))
	deps, err := g.ActivatePlatform(req.Platform(), req)
	if err != nil {
		return err
	}
	cur.frontier = append(cur.frontier, deps...)
	return nil
}

// activateSelf finds the resolver's own gem. Only the first matching group
// is ever considered.
func (res *resolution) activateSelf(p gemresolve.Platform) (*gemresolve.CandidateGroup, error) {
	req, err := gemresolve.NewRequirement(gemresolve.Dependency{
		PackageName:       res.selfName,
		VersionConstraint: "= " + res.selfVersion,
	}, p)
	if err != nil {
		return nil, err
	}
	idx := res.pool.Lookup(res.selfName)
	groups := groupByVersion(idx.Search(req, nil), idx.ByName(res.selfName), p)
	if len(groups) == 0 {
		return nil, &SelfReferenceNotFoundError{Name: res.selfName, Version: res.selfVersion}
	}
	g := groups[0].Clone()
	g.SetActivatedBy(req)
	return g, nil
}

// findState returns the oldest decision point for name.
func (res *resolution) findState(name string) *state {
	for _, st := range res.states {
		if st.name() == name {
			return st
		}
	}
	return nil
}

// otherPossible reports whether the decision point for r's gem still has
// alternatives.
func (res *resolution) otherPossible(r *gemresolve.Requirement) bool {
	if r == nil {
		return false
	}
	st := res.findState(r.Name())
	return st != nil && len(st.possibles) > 0
}

// handleConflict walks up the requirement chains of both sides of a
// conflict, one step at a time, and returns the first requirement whose
// decision point still has alternatives.
func (res *resolution) handleConflict(current, existing *gemresolve.Requirement) *gemresolve.Requirement {
	for current != nil || existing != nil {
		if res.otherPossible(current) {
			return current
		}
		if res.otherPossible(existing) {
			return existing
		}
		if existing != nil {
			existing = existing.Parent()
		}
		if current != nil {
			current = current.Parent()
		}
	}
	return nil
}

// backjump rewinds to the latest decision point for target's gem and tries
// its next alternative. Decision points made after it are dropped.
func (res *resolution) backjump(target *gemresolve.Requirement) (*cursor, error) {
	var st *state
	for len(res.states) > 0 {
		top := res.states[len(res.states)-1]
		res.states = res.states[:len(res.states)-1]
		if top.name() == target.Name() {
			st = top
			break
		}
	}
	if st == nil || len(st.possibles) == 0 {
		return nil, res.versionConflict()
	}
	res.backjumps++
	res.metrics.backjump()
	res.logger.Debug("backjump",
		zap.Stringer("to", st.req),
		zap.Int("depth", st.depth),
		zap.Int("alternatives", len(st.possibles)))

	cur := &cursor{
		frontier:  slices.Clone(st.frontier),
		activated: st.activated.Clone(),
		depth:     st.depth,
		conflicts: st.conflicts.Clone(),
	}
	if err := res.activate(cur, st.pop(), st.req); err != nil {
		return nil, err
	}
	if len(st.possibles) > 0 {
		res.states = append(res.states, st)
	}
	return cur, nil
}

// search returns the version groups that may be chosen for req, best
// last. When the baseline holds the gem, only its baseline version is
// acceptable.
func (res *resolution) search(req *gemresolve.Requirement) ([]*gemresolve.CandidateGroup, error) {
	if gs, ok := res.searches[req.Key()]; ok {
		return gs, nil
	}
	q := req
	var base []*gemresolve.Candidate
	if res.base != nil {
		base = res.base.ByName(req.Name())
	}
	if len(base) > 0 {
		d := req.Dependency()
		d.VersionConstraint = req.Constraint() + ", = " + base[0].Version
		var err error
		if q, err = gemresolve.NewRequirement(d, req.Platform()); err != nil {
			return nil, fmt.Errorf("pinning %s to its locked version: %w", req.Name(), err)
		}
	}
	idx := res.pool.Lookup(req.Name())
	all := idx.ByName(req.Name())
	if len(base) > 0 {
		all = gemresolve.NewSolutionIndex(append(slices.Clone(all), base...)...).ByName(req.Name())
	}
	gs := groupByVersion(idx.Search(q, base), all, req.Platform())
	res.searches[req.Key()] = gs
	return gs, nil
}

// groupByVersion turns search results into version groups usable on p. A
// group holds every build of its version found in all, not only the builds
// that matched.
func groupByVersion(found, all []*gemresolve.Candidate, p gemresolve.Platform) []*gemresolve.CandidateGroup {
	var groups []*gemresolve.CandidateGroup
	for i, c := range found {
		if i > 0 && found[i-1].Version == c.Version {
			continue
		}
		var builds []*gemresolve.Candidate
		for _, b := range all {
			if b.Version == c.Version {
				builds = append(builds, b)
			}
		}
		if g := gemresolve.NewCandidateGroup(builds); g != nil && g.Supports(p) {
			groups = append(groups, g)
		}
	}
	return groups
}

// isLocked reports whether the baseline holds g's version.
func (res *resolution) isLocked(g *gemresolve.CandidateGroup) bool {
	if res.base == nil {
		return false
	}
	for _, c := range res.base.ByName(g.Name()) {
		if c.Version == g.Version() {
			return true
		}
	}
	return false
}

func (res *resolution) notFound(req *gemresolve.Requirement) error {
	err := &CandidateNotFoundError{Requirement: req}
	if res.base != nil {
		if locked := res.base.ByName(req.Name()); len(locked) > 0 {
			err.LockedVersion = locked[0].Version
			return err
		}
	}
	if src, ok := res.pool.PinnedSource(req.Name()); ok {
		err.Source = src
		for _, c := range res.pool.Lookup(req.Name()).ByName(req.Name()) {
			if !slices.Contains(err.SourceVersions, c.Version) {
				err.SourceVersions = append(err.SourceVersions, c.Version)
			}
		}
	}
	return err
}

func (res *resolution) versionConflict() error {
	cs := make(map[string]conflict, len(res.conflicts))
	for n, c := range res.conflicts {
		cs[n] = c
	}
	return &VersionConflictError{conflicts: cs, self: res.selfName}
}

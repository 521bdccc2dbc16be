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

// Package definition combines the declared dependencies of a bundle with
// its lock. It decides which locked gems may be kept, runs the resolver
// when something changed, and reports what a resolution changed.
package definition

import (
	"context"
	"fmt"
	"slices"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"deps.dev/util/gemresolve"
	"deps.dev/util/gemresolve/bundler"
)

// Lock is a previously persisted resolution.
type Lock struct {
	// Dependencies are the declared dependencies the lock was made for.
	Dependencies []gemresolve.Dependency
	Specs        *gemresolve.SolutionIndex
	Platforms    []gemresolve.Platform
}

// Unlock says which locked gems may change.
type Unlock struct {
	// All discards the lock entirely.
	All bool
	// Gems may move away from their locked versions, along with every
	// locked gem they depend on.
	Gems []string
}

// Sources maps source names to the candidates they offer.
type Sources map[string]*gemresolve.SolutionIndex

// Definition is a bundle: declared dependencies, a lock, and what may be
// unlocked. It caches its resolution and is not safe for concurrent use.
type Definition struct {
	deps        []gemresolve.Dependency
	lockedDeps  []gemresolve.Dependency
	lockedSpecs *gemresolve.SolutionIndex
	platforms   []gemresolve.Platform
	unlockGems  mapset.Set[string]
	unlocking   bool
	newPlatform bool

	logger      *zap.Logger
	resolverOps []bundler.Option
	selfName    string
	selfVersion string

	resolved *gemresolve.SolutionIndex
	specs    *gemresolve.SolutionIndex
}

// Option configures a Definition.
type Option func(*Definition)

// WithLogger sets the logger of the definition and of its resolver.
func WithLogger(l *zap.Logger) Option {
	return func(d *Definition) {
		d.logger = l
		d.resolverOps = append(d.resolverOps, bundler.WithLogger(l))
	}
}

// WithResolverOptions passes options to the resolver.
func WithResolverOptions(opts ...bundler.Option) Option {
	return func(d *Definition) { d.resolverOps = append(d.resolverOps, opts...) }
}

// WithSelf sets the gem that is always part of the bundle. An empty name
// disables it.
func WithSelf(name, version string) Option {
	return func(d *Definition) {
		d.selfName, d.selfVersion = name, version
		d.resolverOps = append(d.resolverOps, bundler.WithSelf(name, version))
	}
}

// New creates a Definition for deps targeting platforms (the generic
// platform when empty). lock may be nil.
func New(deps []gemresolve.Dependency, lock *Lock, unlock Unlock, platforms []gemresolve.Platform, opts ...Option) *Definition {
	d := &Definition{
		deps:        slices.Clone(deps),
		lockedSpecs: gemresolve.NewSolutionIndex(),
		unlockGems:  mapset.NewThreadUnsafeSet[string](),
		unlocking:   unlock.All || len(unlock.Gems) > 0,
		logger:      zap.NewNop(),
		selfName:    bundler.SelfName,
		selfVersion: bundler.SelfVersion,
	}
	for _, o := range opts {
		o(d)
	}
	if len(platforms) == 0 {
		platforms = []gemresolve.Platform{gemresolve.Ruby}
	}

	if lock != nil {
		d.platforms = slices.Clone(lock.Platforms)
		if !unlock.All {
			d.lockedDeps = slices.Clone(lock.Dependencies)
			if lock.Specs != nil {
				d.lockedSpecs = lock.Specs.Clone()
			}
		}
	}
	for _, p := range platforms {
		if !slices.Contains(d.platforms, p) {
			d.platforms = append(d.platforms, p)
			d.newPlatform = true
		}
	}

	if !unlock.All && len(unlock.Gems) > 0 {
		var eager []*gemresolve.Requirement
		for _, name := range unlock.Gems {
			for _, p := range d.platforms {
				eager = append(eager, gemresolve.MustRequirement(name, gemresolve.DefaultConstraint, p))
			}
		}
		for _, c := range d.lockedSpecs.For(eager, nil, d.selfName).Candidates() {
			d.unlockGems.Add(c.Name)
		}
		// Gems that are not locked are unlocked too, trivially.
		d.unlockGems.Append(unlock.Gems...)
		d.logger.Debug("unlocking", zap.Strings("gems", d.UnlockedGems()))
	}
	return d
}

// Platforms returns the platforms of the bundle: the locked ones followed
// by newly requested ones.
func (d *Definition) Platforms() []gemresolve.Platform { return slices.Clone(d.platforms) }

// UnlockedGems returns the names that may move away from their locked
// versions, sorted.
func (d *Definition) UnlockedGems() []string {
	gems := d.unlockGems.ToSlice()
	sort.Strings(gems)
	return gems
}

// ExpandDependencies returns one requirement per dependency and platform
// the dependency applies to.
func (d *Definition) ExpandDependencies(deps []gemresolve.Dependency) ([]*gemresolve.Requirement, error) {
	var reqs []*gemresolve.Requirement
	for _, dp := range deps {
		for _, p := range d.platforms {
			if !dp.AppliesTo(p) {
				continue
			}
			r, err := gemresolve.NewRequirement(dp, p)
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, r)
		}
	}
	return reqs, nil
}

func containsDep(deps []gemresolve.Dependency, dp gemresolve.Dependency) bool {
	return slices.ContainsFunc(deps, dp.Equal)
}

// NothingChanged reports whether the declared dependencies are those of
// the lock and no platform was added.
func (d *Definition) NothingChanged() bool {
	if d.newPlatform {
		return false
	}
	for _, dp := range d.deps {
		if !containsDep(d.lockedDeps, dp) {
			return false
		}
	}
	for _, dp := range d.lockedDeps {
		if !containsDep(d.deps, dp) {
			return false
		}
	}
	return true
}

// satisfiesLockedSpec reports whether a locked gem from the right source
// meets dp.
func (d *Definition) satisfiesLockedSpec(dp gemresolve.Dependency) bool {
	for _, c := range d.lockedSpecs.ByName(dp.Name()) {
		if c.Satisfies(dp) && (dp.Source == "" || c.Source == dp.Source) {
			return true
		}
	}
	return false
}

// ConvergeLockedSpecs returns the locked gems that can be kept: those
// reachable from dependencies that are unchanged, or still met by the lock,
// minus the unlocked gems.
func (d *Definition) ConvergeLockedSpecs() (*gemresolve.SolutionIndex, error) {
	var keep []gemresolve.Dependency
	for _, dp := range d.deps {
		if containsDep(d.lockedDeps, dp) || d.satisfiesLockedSpec(dp) {
			keep = append(keep, dp)
		}
	}
	reqs, err := d.ExpandDependencies(keep)
	if err != nil {
		return nil, err
	}
	return d.lockedSpecs.For(reqs, d.unlockGems.ToSlice(), d.selfName), nil
}

// Pool builds the candidate pool for the bundle from srcs. Every source
// contributes to the primary index; gems declared with a source are
// pinned to it.
func (d *Definition) Pool(srcs Sources) (*gemresolve.CandidatePool, error) {
	names := make([]string, 0, len(srcs))
	for n := range srcs {
		names = append(names, n)
	}
	sort.Strings(names)
	primary := gemresolve.NewSolutionIndex()
	for _, n := range names {
		primary.Merge(srcs[n], false)
	}
	pool := gemresolve.NewCandidatePool(primary)
	for _, dp := range d.deps {
		if dp.Source == "" {
			continue
		}
		idx, ok := srcs[dp.Source]
		if !ok {
			return nil, fmt.Errorf("gem %s: unknown source %q", dp.Name(), dp.Source)
		}
		pool.Pin(dp.Name(), dp.Source, idx)
	}
	return pool, nil
}

// Resolve returns the resolution of the bundle. The convergent part of the
// lock is used as is when nothing changed and nothing is unlocked, which
// drops lock entries no dependency reaches any more; otherwise the resolver
// runs with it as its baseline.
func (d *Definition) Resolve(ctx context.Context, pool *gemresolve.CandidatePool) (*gemresolve.SolutionIndex, error) {
	if d.resolved != nil {
		return d.resolved, nil
	}
	last, err := d.ConvergeLockedSpecs()
	if err != nil {
		return nil, err
	}
	if !d.unlocking && d.NothingChanged() {
		d.logger.Debug("nothing changed, using the lock", zap.Int("kept", last.Len()))
		d.resolved = last
		return d.resolved, nil
	}
	reqs, err := d.ExpandDependencies(d.deps)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("resolving",
		zap.Int("requirements", len(reqs)),
		zap.Int("kept", last.Len()))
	sol, err := bundler.NewResolver(pool, d.resolverOps...).Resolve(ctx, reqs, last)
	if err != nil {
		return nil, err
	}
	d.resolved = last.Clone().Merge(sol, false)
	return d.resolved, nil
}

// Specs returns the resolution, with the resolver's own gem added from the
// pool when it is missing.
func (d *Definition) Specs(ctx context.Context, pool *gemresolve.CandidatePool) (*gemresolve.SolutionIndex, error) {
	if d.specs != nil {
		return d.specs, nil
	}
	res, err := d.Resolve(ctx, pool)
	if err != nil {
		return nil, err
	}
	specs := res.Clone()
	if d.selfName != "" && len(specs.ByName(d.selfName)) == 0 {
		req, err := gemresolve.NewRequirement(gemresolve.Dependency{
			PackageName:       d.selfName,
			VersionConstraint: "= " + d.selfVersion,
		}, gemresolve.Ruby)
		if err != nil {
			return nil, err
		}
		if found := pool.Lookup(d.selfName).Search(req, nil); len(found) > 0 {
			specs.Add(found[len(found)-1])
		}
	}
	d.specs = specs
	return specs, nil
}

// Changes returns the gems added and removed relative to the lock.
func (d *Definition) Changes(ctx context.Context, pool *gemresolve.CandidatePool) (gemresolve.Changes, error) {
	specs, err := d.Specs(ctx, pool)
	if err != nil {
		return gemresolve.Changes{}, err
	}
	return gemresolve.Diff(d.lockedSpecs, specs), nil
}

// NewSpecs returns the gems of the bundle that are not locked.
func (d *Definition) NewSpecs(ctx context.Context, pool *gemresolve.CandidatePool) ([]*gemresolve.Candidate, error) {
	ch, err := d.Changes(ctx, pool)
	return ch.Added, err
}

// RemovedSpecs returns the locked gems that are no longer in the bundle.
func (d *Definition) RemovedSpecs(ctx context.Context, pool *gemresolve.CandidatePool) ([]*gemresolve.Candidate, error) {
	ch, err := d.Changes(ctx, pool)
	return ch.Removed, err
}

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

package definition

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"deps.dev/util/gemresolve"
	"deps.dev/util/gemresolve/bundler"
)

var ruby = gemresolve.Ruby

func libDep(c string) gemresolve.Dependency {
	return gemresolve.Dependency{PackageName: "lib", VersionConstraint: c}
}

func libPool() *gemresolve.CandidatePool {
	return gemresolve.NewCandidatePool(gemresolve.NewSolutionIndex(
		gemresolve.MustCandidate("lib", "2.0", ruby),
		gemresolve.MustCandidate("lib", "2.3", ruby),
		gemresolve.MustCandidate("rack", "1.6.0", ruby),
		gemresolve.MustCandidate(bundler.SelfName, bundler.SelfVersion, ruby),
	))
}

func libLock() *Lock {
	return &Lock{
		Dependencies: []gemresolve.Dependency{libDep("~> 2.0")},
		Specs:        gemresolve.NewSolutionIndex(gemresolve.MustCandidate("lib", "2.0", ruby)),
		Platforms:    []gemresolve.Platform{ruby},
	}
}

func ids(cs []*gemresolve.Candidate) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.String())
	}
	return out
}

func TestLockedVersionKept(t *testing.T) {
	ctx := context.Background()
	d := New([]gemresolve.Dependency{libDep("~>2.0")}, libLock(), Unlock{}, nil, WithLogger(zaptest.NewLogger(t)))
	assert.True(t, d.NothingChanged())

	specs, err := d.Specs(ctx, libPool())
	require.NoError(t, err)
	assert.Equal(t, []string{"bundler (1.10.6)", "lib (2.0)"}, ids(specs.Candidates()))

	added, err := d.NewSpecs(ctx, libPool())
	require.NoError(t, err)
	assert.Equal(t, []string{"bundler (1.10.6)"}, ids(added))
	removed, err := d.RemovedSpecs(ctx, libPool())
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestOrphanLockEntryDropped(t *testing.T) {
	ctx := context.Background()
	lock := libLock()
	lock.Specs.Add(gemresolve.MustCandidate("orphan", "0.1", ruby))
	d := New([]gemresolve.Dependency{libDep("~> 2.0")}, lock, Unlock{}, nil, WithSelf("", ""))
	require.True(t, d.NothingChanged())

	res, err := d.Resolve(ctx, libPool())
	require.NoError(t, err)
	assert.Equal(t, []string{"lib (2.0)"}, ids(res.Candidates()))

	removed, err := d.RemovedSpecs(ctx, libPool())
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan (0.1)"}, ids(removed))
}

func TestUnlockedGemMovesOn(t *testing.T) {
	ctx := context.Background()
	d := New([]gemresolve.Dependency{libDep("~> 2.0")}, libLock(), Unlock{Gems: []string{"lib"}}, nil)
	assert.Equal(t, []string{"lib"}, d.UnlockedGems())

	ch, err := d.Changes(ctx, libPool())
	require.NoError(t, err)
	assert.Equal(t, []string{"bundler (1.10.6)", "lib (2.3)"}, ids(ch.Added))
	assert.Equal(t, []string{"lib (2.0)"}, ids(ch.Removed))
}

func TestUnlockAll(t *testing.T) {
	d := New([]gemresolve.Dependency{libDep("~> 2.0")}, libLock(), Unlock{All: true}, nil, WithSelf("", ""))
	assert.False(t, d.NothingChanged())
	res, err := d.Resolve(context.Background(), libPool())
	require.NoError(t, err)
	assert.Equal(t, []string{"lib (2.3)"}, ids(res.Candidates()))
}

func TestChangedDependenciesKeepLock(t *testing.T) {
	deps := []gemresolve.Dependency{libDep("~> 2.0"), {PackageName: "rack"}}
	d := New(deps, libLock(), Unlock{}, nil)
	assert.False(t, d.NothingChanged())

	converged, err := d.ConvergeLockedSpecs()
	require.NoError(t, err)
	assert.Equal(t, []string{"lib (2.0)"}, ids(converged.Candidates()))

	res, err := d.Resolve(context.Background(), libPool())
	require.NoError(t, err)
	assert.Equal(t, []string{"bundler (1.10.6)", "lib (2.0)", "rack (1.6.0)"}, ids(res.Candidates()))

	// The resolution is cached.
	again, err := d.Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, res, again)
}

func TestConvergeLockedSpecs(t *testing.T) {
	for _, test := range []struct {
		constraint string
		want       []string
	}{
		{"~> 2.0", []string{"lib (2.0)"}},
		// Changed, but the locked version still satisfies it.
		{">= 2.0", []string{"lib (2.0)"}},
		// Changed and no longer satisfied.
		{"~> 3.0", nil},
	} {
		d := New([]gemresolve.Dependency{libDep(test.constraint)}, libLock(), Unlock{}, nil)
		got, err := d.ConvergeLockedSpecs()
		require.NoError(t, err)
		assert.Equal(t, test.want, ids(got.Candidates()), "constraint %q", test.constraint)
	}
}

func TestEagerUnlock(t *testing.T) {
	lock := &Lock{
		Dependencies: []gemresolve.Dependency{{PackageName: "rails"}, {PackageName: "thor"}},
		Specs: gemresolve.NewSolutionIndex(
			gemresolve.MustCandidate("rails", "4.2.0", ruby, "actionpack", "= 4.2.0"),
			gemresolve.MustCandidate("actionpack", "4.2.0", ruby, "rack", "~> 1.6"),
			gemresolve.MustCandidate("rack", "1.6.0", ruby),
			gemresolve.MustCandidate("thor", "0.19.1", ruby),
		),
		Platforms: []gemresolve.Platform{ruby},
	}
	d := New(lock.Dependencies, lock, Unlock{Gems: []string{"rails"}}, nil)
	assert.Equal(t, []string{"actionpack", "rack", "rails"}, d.UnlockedGems())

	converged, err := d.ConvergeLockedSpecs()
	require.NoError(t, err)
	assert.Equal(t, []string{"thor (0.19.1)"}, ids(converged.Candidates()))
}

func TestNewPlatform(t *testing.T) {
	d := New([]gemresolve.Dependency{libDep("~> 2.0")}, libLock(), Unlock{}, []gemresolve.Platform{ruby, gemresolve.Java})
	assert.False(t, d.NothingChanged())
	assert.Equal(t, []gemresolve.Platform{ruby, gemresolve.Java}, d.Platforms())

	// Without a lock every platform is new.
	d = New([]gemresolve.Dependency{libDep("~> 2.0")}, nil, Unlock{}, nil)
	assert.False(t, d.NothingChanged())
}

func TestExpandDependencies(t *testing.T) {
	deps := []gemresolve.Dependency{
		{PackageName: "a"},
		{PackageName: "b", Platforms: []gemresolve.Platform{gemresolve.Java}},
	}
	d := New(deps, nil, Unlock{}, []gemresolve.Platform{ruby, gemresolve.Java})
	reqs, err := d.ExpandDependencies(deps)
	require.NoError(t, err)
	var got []string
	for _, r := range reqs {
		got = append(got, r.String())
	}
	assert.Equal(t, []string{"a (>= 0) ruby", "a (>= 0) java", "b (>= 0) java"}, got)

	_, err = d.ExpandDependencies([]gemresolve.Dependency{{PackageName: "c", VersionConstraint: ">= 1 2"}})
	var mce *gemresolve.MalformedConstraintError
	assert.True(t, errors.As(err, &mce))
}

func TestPool(t *testing.T) {
	srcs := Sources{
		"rubygems": gemresolve.NewSolutionIndex(
			gemresolve.MustCandidate("lib", "2.0", ruby),
			gemresolve.MustCandidate("secret", "9.0", ruby),
		),
		"private": gemresolve.NewSolutionIndex(gemresolve.MustCandidate("secret", "0.1", ruby)),
	}
	deps := []gemresolve.Dependency{libDep(""), {PackageName: "secret", Source: "private"}}
	d := New(deps, nil, Unlock{}, nil, WithSelf("", ""))
	pool, err := d.Pool(srcs)
	require.NoError(t, err)

	src, ok := pool.PinnedSource("secret")
	assert.True(t, ok)
	assert.Equal(t, "private", src)
	assert.Equal(t, 1, pool.Lookup("secret").Len())
	assert.Equal(t, 3, pool.Primary().Len())

	res, err := d.Resolve(context.Background(), pool)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib (2.0)", "secret (0.1)"}, ids(res.Candidates()))

	d = New([]gemresolve.Dependency{{PackageName: "x", Source: "nowhere"}}, nil, Unlock{}, nil)
	_, err = d.Pool(srcs)
	assert.ErrorContains(t, err, `unknown source "nowhere"`)
}

func TestEnsureEquivalent(t *testing.T) {
	lock := &Lock{
		Dependencies: []gemresolve.Dependency{
			libDep("~> 2.0"),
			{PackageName: "secret", Source: "gems.example.com"},
		},
		Specs: gemresolve.NewSolutionIndex(),
	}
	same := New(lock.Dependencies, lock, Unlock{}, nil)
	assert.NoError(t, same.EnsureEquivalent(false))

	deps := []gemresolve.Dependency{
		{PackageName: "rack", VersionConstraint: "~>1.6"},
		{PackageName: "secret", Source: "private"},
	}
	err := New(deps, lock, Unlock{}, nil).EnsureEquivalent(true)
	var pe *ProductionError
	require.True(t, errors.As(err, &pe))
	want := "You are trying to install in deployment mode after changing\n" +
		"your Gemfile. Run `bundle install` elsewhere and add the\n" +
		"updated Gemfile.lock to version control.\n" +
		"\n" +
		"You have added to the Gemfile:\n" +
		"* rack (~> 1.6)\n" +
		"* secret\n" +
		"\n" +
		"You have deleted from the Gemfile:\n" +
		"* lib (~> 2.0)\n" +
		"* secret\n" +
		"\n" +
		"You have changed in the Gemfile:\n" +
		"* secret from `private` to `gems.example.com`\n"
	assert.Equal(t, want, err.Error())

	pe.Explicit = false
	assert.Contains(t, pe.Error(), "--no-deployment")
}

func TestPrettyDependency(t *testing.T) {
	assert.Equal(t, "rack", PrettyDependency(gemresolve.Dependency{PackageName: "rack"}, true))
	assert.Equal(t, "rack (~> 1.6) from the `private` source",
		PrettyDependency(gemresolve.Dependency{PackageName: "rack", VersionConstraint: "~> 1.6", Source: "private"}, true))
	assert.Equal(t, "rack (~> 1.6)",
		PrettyDependency(gemresolve.Dependency{PackageName: "rack", VersionConstraint: "~> 1.6", Source: "private"}, false))
}

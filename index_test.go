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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func ids(cs []*Candidate) []string {
	var out []string
	for _, c := range cs {
		out = append(out, c.String())
	}
	return out
}

func TestSearchOrder(t *testing.T) {
	x := NewSolutionIndex(
		MustCandidate("nokogiri", "1.6.6", Ruby),
		MustCandidate("nokogiri", "1.6.5", Ruby),
		MustCandidate("nokogiri", "1.6.6", X64MinGW),
		MustCandidate("nokogiri", "1.6.6", Java),
		MustCandidate("nokogiri", "1.6.6", MinGW),
	)
	got := ids(x.ByName("nokogiri"))
	want := []string{
		"nokogiri (1.6.5)",
		"nokogiri (1.6.6-java)",
		"nokogiri (1.6.6-x64-mingw32)",
		"nokogiri (1.6.6-x86-mingw32)",
		"nokogiri (1.6.6)",
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("ByName:\n(-got, +want):\n%s", diff)
	}

	got = ids(x.Search(MustRequirement("nokogiri", "~> 1.6.6", Java), nil))
	want = []string{"nokogiri (1.6.6-java)", "nokogiri (1.6.6)"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Search(java):\n(-got, +want):\n%s", diff)
	}
}

func TestSearchPrerelease(t *testing.T) {
	mixed := NewSolutionIndex(
		MustCandidate("rails", "4.1.0", Ruby),
		MustCandidate("rails", "4.2.0.rc1", Ruby),
		MustCandidate("rails", "4.2.0", Ruby),
		MustCandidate("rails", "5.0.0.beta1", Ruby),
	)
	onlyPre := NewSolutionIndex(
		MustCandidate("edge", "0.1.0.alpha", Ruby),
		MustCandidate("edge", "0.2.0.beta", Ruby),
	)
	for _, test := range []struct {
		x    *SolutionIndex
		req  *Requirement
		want []string
	}{{
		x:    mixed,
		req:  MustRequirement("rails", ">= 4.0", Ruby),
		want: []string{"rails (4.1.0)", "rails (4.2.0)"},
	}, {
		x:    mixed,
		req:  MustRequirement("rails", ">= 5.0.0.a", Ruby),
		want: []string{"rails (5.0.0.beta1)"},
	}, {
		x:    mixed,
		req:  MustRequirement("rails", ">= 4.2.0.rc1", Ruby),
		want: []string{"rails (4.2.0.rc1)", "rails (4.2.0)", "rails (5.0.0.beta1)"},
	}, {
		// Only prereleases exist, so they are kept.
		x:    onlyPre,
		req:  MustRequirement("edge", ">= 0", Ruby),
		want: []string{"edge (0.1.0.alpha)", "edge (0.2.0.beta)"},
	}, {
		// Stable versions exist, but none match.
		x:    mixed,
		req:  MustRequirement("rails", "> 4.2", Ruby),
		want: []string{"rails (5.0.0.beta1)"},
	}, {
		x:    NewSolutionIndex(MustCandidate("x", "1.0", Ruby), MustCandidate("x", "3.0.pre", Ruby)),
		req:  MustRequirement("x", ">= 2", Ruby),
		want: []string{"x (3.0.pre)"},
	}, {
		x:    mixed,
		req:  MustRequirement("rails", "~> 6.0", Ruby),
		want: nil,
	}} {
		got := ids(test.x.Search(test.req, nil))
		if diff := cmp.Diff(got, test.want); diff != "" {
			t.Errorf("Search(%v):\n(-got, +want):\n%s", test.req, diff)
		}
	}
}

func TestSearchBase(t *testing.T) {
	x := NewSolutionIndex(
		MustCandidate("pg", "0.18.1", Ruby),
		MustCandidate("pg", "0.18.1", MinGW),
	)
	req := MustRequirement("pg", "= 0.18.1", Java)
	if got := x.Search(req, nil); len(got) != 1 || got[0].Platform != Ruby {
		t.Errorf("Search without base: got %v, want only the ruby build", ids(got))
	}
	locked := []*Candidate{MustCandidate("pg", "0.18.1", X64MinGW)}
	got := ids(x.Search(req, locked))
	want := []string{"pg (0.18.1-x64-mingw32)", "pg (0.18.1-x86-mingw32)", "pg (0.18.1)"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Search with base:\n(-got, +want):\n%s", diff)
	}
	// The cache must not return the based result for an unbased search.
	if got := x.Search(req, nil); len(got) != 1 {
		t.Errorf("Search without base after based search: got %v", ids(got))
	}
}

func TestSearchCacheInvalidation(t *testing.T) {
	x := NewSolutionIndex(MustCandidate("rake", "10.4.0", Ruby))
	req := MustRequirement("rake", ">= 10", Ruby)
	if got := len(x.Search(req, nil)); got != 1 {
		t.Fatalf("Search: got %d results, want 1", got)
	}
	x.Add(MustCandidate("rake", "10.4.2", Ruby))
	if got := len(x.Search(req, nil)); got != 2 {
		t.Errorf("Search after Add: got %d results, want 2", got)
	}
}

func TestAddReplaces(t *testing.T) {
	x := NewSolutionIndex()
	if x.Add(MustCandidate("rack", "1.6.0", Ruby)) {
		t.Errorf("first Add reported a replacement")
	}
	if !x.Add(MustCandidate("rack", "1.6.0", Ruby, "rack-test", ">= 0")) {
		t.Errorf("second Add did not report a replacement")
	}
	if x.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", x.Len())
	}
	if got := x.ByName("rack")[0]; len(got.Dependencies) != 1 {
		t.Errorf("the last writer should win, got %v", got.Dependencies)
	}
}

func TestDifferenceAndMerge(t *testing.T) {
	a := NewSolutionIndex(
		MustCandidate("rack", "1.6.0", Ruby),
		MustCandidate("thor", "0.19.1", Ruby),
	)
	b := NewSolutionIndex(
		MustCandidate("rack", "1.6.0", Ruby, "x", ">= 0"),
		MustCandidate("rake", "10.4.2", Ruby),
	)
	if diff := cmp.Diff(ids(a.Difference(b)), []string{"thor (0.19.1)"}); diff != "" {
		t.Errorf("a - b:\n(-got, +want):\n%s", diff)
	}
	if diff := cmp.Diff(ids(b.Difference(a)), []string{"rake (10.4.2)"}); diff != "" {
		t.Errorf("b - a:\n(-got, +want):\n%s", diff)
	}

	kept := a.Clone().Merge(b, false)
	if diff := cmp.Diff(ids(kept.Candidates()), []string{"rack (1.6.0)", "rake (10.4.2)", "thor (0.19.1)"}); diff != "" {
		t.Errorf("Merge:\n(-got, +want):\n%s", diff)
	}
	if deps := kept.ByName("rack")[0].Dependencies; len(deps) != 0 {
		t.Errorf("Merge without override replaced rack: %v", deps)
	}
	overridden := a.Clone().Merge(b, true)
	if deps := overridden.ByName("rack")[0].Dependencies; len(deps) != 1 {
		t.Errorf("Merge with override kept the old rack: %v", deps)
	}
	if a.Len() != 2 {
		t.Errorf("Merge into a clone modified the original")
	}
}

func TestFor(t *testing.T) {
	lock := NewSolutionIndex(
		MustCandidate("rails", "4.2.0", Ruby, "actionpack", "= 4.2.0", "railties", "= 4.2.0"),
		MustCandidate("actionpack", "4.2.0", Ruby, "rack", "~> 1.6"),
		MustCandidate("railties", "4.2.0", Ruby, "rake", ">= 0.8.7", "thor", ">= 0.18.1"),
		MustCandidate("rack", "1.6.0", Ruby),
		MustCandidate("rake", "10.4.2", Ruby),
		MustCandidate("thor", "0.19.1", Ruby),
		MustCandidate("sinatra", "1.4.5", Ruby, "rack", "~> 1.4"),
		MustCandidate("bundler", "1.10.6", Ruby),
	)
	reqs := []*Requirement{MustRequirement("rails", "", Ruby)}

	got := ids(lock.For(reqs, nil, "bundler").Candidates())
	want := []string{
		"actionpack (4.2.0)",
		"bundler (1.10.6)",
		"rack (1.6.0)",
		"rails (4.2.0)",
		"railties (4.2.0)",
		"rake (10.4.2)",
		"thor (0.19.1)",
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("For(rails):\n(-got, +want):\n%s", diff)
	}

	got = ids(lock.For(reqs, []string{"railties"}, "").Candidates())
	want = []string{"actionpack (4.2.0)", "rack (1.6.0)", "rails (4.2.0)"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("For(rails) skipping railties:\n(-got, +want):\n%s", diff)
	}
}

func TestDiff(t *testing.T) {
	base := NewSolutionIndex(MustCandidate("lib", "2.0", Ruby), MustCandidate("app", "1.0", Ruby))
	sol := NewSolutionIndex(MustCandidate("lib", "2.3", Ruby), MustCandidate("app", "1.0", Ruby))
	ch := Diff(base, sol)
	if diff := cmp.Diff(ids(ch.Added), []string{"lib (2.3)"}); diff != "" {
		t.Errorf("Added:\n(-got, +want):\n%s", diff)
	}
	if diff := cmp.Diff(ids(ch.Removed), []string{"lib (2.0)"}); diff != "" {
		t.Errorf("Removed:\n(-got, +want):\n%s", diff)
	}
	if got, want := ch.String(), "+ lib (2.3)\n- lib (2.0)\n"; got != want {
		t.Errorf("String: got %q, want %q", got, want)
	}
	if !Diff(sol, sol).Empty() {
		t.Errorf("Diff of a solution with itself is not empty")
	}
	if got := Diff(nil, sol); len(got.Added) != 2 || len(got.Removed) != 0 {
		t.Errorf("Diff against nothing: got %+v", got)
	}
}

func TestCandidatePool(t *testing.T) {
	primary := NewSolutionIndex(MustCandidate("rack", "1.6.0", Ruby), MustCandidate("thor", "0.19.1", Ruby))
	pool := NewCandidatePool(primary)
	git := NewSolutionIndex(MustCandidate("rack", "2.0.0.alpha", Ruby))
	pool.Pin("rack", "git://github.com/rack/rack", git)

	if got := pool.Lookup("rack"); got != git {
		t.Errorf("Lookup(rack): got the primary index, want the pinned one")
	}
	if got := pool.Lookup("thor"); got != primary {
		t.Errorf("Lookup(thor): got a pinned index, want the primary one")
	}
	if src, ok := pool.PinnedSource("rack"); !ok || src != "git://github.com/rack/rack" {
		t.Errorf("PinnedSource(rack): got %q, %v", src, ok)
	}
	if _, ok := pool.PinnedSource("thor"); ok {
		t.Errorf("PinnedSource(thor): got pinned")
	}
}

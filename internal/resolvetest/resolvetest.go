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
Package resolvetest provides a way to define test data for the resolver.

Test data follows a simple format that describes universes (every gem
known to a source) and test cases.

	Below is the definition of a universe named sample, in the format of
	package schema.

	-- Universe sample
	app
		1.0
			lib@~> 2.0
	lib
		1.9
		2.1
	-- END

	Below is the definition of a test. It links a universe, lists the
	top-level requirements and the expected solution.

	-- Test simple
	Universe sample
	Require app
	Want app 1.0
	Want lib 2.1
	-- END

Other test lines are:

	Platform java ruby            platforms of every Require line (default ruby)
	Lock lib 2.0 [platform]       baseline entry, taken from the universe if present
	Unlock lib                    drop lib from the baseline
	Pin name source universe      resolve name only against another universe
	Self bundler 1.10.6           include the resolver's own gem
	Error conflict x [y...]       expect a version conflict on the given names
	Error notfound                expect a missing top-level gem
	Error self                    expect the resolver's own gem to be missing
	Flag name...                  free-form flags for the test driver
*/
package resolvetest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"strings"

	"deps.dev/util/gemresolve"
	"deps.dev/util/gemresolve/internal/schema"
)

const (
	startBlockUniverse = "-- universe "
	startBlockTest     = "-- test "
	endBlock           = "-- end"
)

// Expected error kinds.
const (
	ErrorConflict = "conflict"
	ErrorNotFound = "notfound"
	ErrorSelf     = "self"
)

// Artifact describes the parsed content from a test data file.
type Artifact struct {
	// Universe holds the defined universes, indexed by name.
	Universe map[string]*gemresolve.SolutionIndex
	// Test holds the defined tests in the order in which they were defined.
	Test []*Test
}

// Pin restricts a gem to the candidates of another universe.
type Pin struct {
	Name, Source string
	Index        *gemresolve.SolutionIndex
}

// Test describes a parsed test.
type Test struct {
	Name     string
	Universe *gemresolve.SolutionIndex
	Pins     []Pin
	// Requirements holds one requirement per Require line and platform.
	Requirements []*gemresolve.Requirement
	// Lock is the baseline, or nil.
	Lock *gemresolve.SolutionIndex
	// SelfName and SelfVersion are empty unless the test has a Self line.
	SelfName, SelfVersion string
	// Want is the expected solution, sorted.
	Want []gemresolve.CandidateID
	// Error is the expected error kind, and ErrorNames the expected
	// conflicting names.
	Error      string
	ErrorNames []string
	Flags      map[string]bool
}

// Pool returns a fresh CandidatePool for the test.
func (t *Test) Pool() *gemresolve.CandidatePool {
	p := gemresolve.NewCandidatePool(t.Universe.Clone())
	for _, pn := range t.Pins {
		p.Pin(pn.Name, pn.Source, pn.Index.Clone())
	}
	return p
}

// parsedTest describes a test during the parsing phase of the data.
type parsedTest struct {
	name      string
	universe  string
	requires  []gemresolve.Dependency
	platforms []gemresolve.Platform
	locks     [][]string
	unlock    []string
	pins      [][]string
	self      []string
	want      [][]string
	errKind   string
	errNames  []string
	flags     map[string]bool
}

// ParseFiles parses the data from the given files.
func ParseFiles(files ...string) (*Artifact, error) {
	var b bytes.Buffer
	for _, file := range files {
		p, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		b.Write(p)
		b.WriteRune('\n')
	}
	return Parse(&b)
}

// Parse parses the data from the given reader.
func Parse(r io.Reader) (*Artifact, error) {
	a := &Artifact{
		Universe: make(map[string]*gemresolve.SolutionIndex),
	}
	sc := bufio.NewScanner(r)
	var parsedTests []*parsedTest
	seenTest := make(map[string]bool)
	for line := 1; sc.Scan(); line++ {
		curLine := line
		l := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(strings.ToLower(l), startBlockUniverse):
			name, err := parseName(l[len(startBlockUniverse):])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", curLine, err)
			}
			if a.Universe[name] != nil {
				return nil, fmt.Errorf("line %d: duplicate universe name: %q", curLine, name)
			}
			a.Universe[name], err = parseUniverse(sc, &line, name)
			if err != nil {
				return nil, fmt.Errorf("line %d: parsing universe: %w", curLine, err)
			}

		case strings.HasPrefix(strings.ToLower(l), startBlockTest):
			name, err := parseName(l[len(startBlockTest):])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", curLine, err)
			}
			if seenTest[name] {
				return nil, fmt.Errorf("line %d: duplicate test name: %q", curLine, name)
			}
			t, err := parseTest(sc, &line, name)
			if err != nil {
				return nil, fmt.Errorf("line %d: cannot parse test: %w", curLine, err)
			}
			parsedTests = append(parsedTests, t)
			seenTest[name] = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	a.Test = make([]*Test, len(parsedTests))
	for i, pt := range parsedTests {
		t, err := a.build(pt)
		if err != nil {
			return nil, fmt.Errorf("test %s: %w", pt.name, err)
		}
		a.Test[i] = t
	}
	return a, nil
}

// build converts a parsed test, resolving universe names.
func (a *Artifact) build(pt *parsedTest) (*Test, error) {
	u := a.Universe[pt.universe]
	if u == nil {
		return nil, fmt.Errorf("unknown universe %q", pt.universe)
	}
	t := &Test{
		Name:       pt.name,
		Universe:   u,
		Error:      pt.errKind,
		ErrorNames: pt.errNames,
		Flags:      pt.flags,
	}
	platforms := pt.platforms
	if len(platforms) == 0 {
		platforms = []gemresolve.Platform{gemresolve.Ruby}
	}
	for _, d := range pt.requires {
		for _, p := range platforms {
			r, err := gemresolve.NewRequirement(d, p)
			if err != nil {
				return nil, err
			}
			t.Requirements = append(t.Requirements, r)
		}
	}
	for _, f := range pt.pins {
		idx := a.Universe[f[2]]
		if idx == nil {
			return nil, fmt.Errorf("pin %s: unknown universe %q", f[0], f[2])
		}
		t.Pins = append(t.Pins, Pin{Name: f[0], Source: f[1], Index: idx})
	}
	if len(pt.locks) > 0 {
		t.Lock = gemresolve.NewSolutionIndex()
		for _, f := range pt.locks {
			c, err := lookup(u, f)
			if err != nil {
				return nil, fmt.Errorf("lock: %w", err)
			}
			t.Lock.Add(c)
		}
		for _, n := range pt.unlock {
			t.Lock.Remove(n)
		}
	}
	if len(pt.self) == 2 {
		t.SelfName, t.SelfVersion = pt.self[0], pt.self[1]
	}
	for _, f := range pt.want {
		id := gemresolve.CandidateID{Name: f[0], Version: f[1], Platform: gemresolve.Ruby}
		if len(f) == 3 {
			id.Platform = gemresolve.Platform(f[2])
		}
		t.Want = append(t.Want, id)
	}
	SortIDs(t.Want)
	return t, nil
}

// lookup returns the universe candidate with the identity given by
// fields, or a bare candidate when the universe has none.
func lookup(u *gemresolve.SolutionIndex, fields []string) (*gemresolve.Candidate, error) {
	id := gemresolve.CandidateID{Name: fields[0], Version: fields[1], Platform: gemresolve.Ruby}
	if len(fields) == 3 {
		id.Platform = gemresolve.Platform(fields[2])
	}
	if c := u.Get(id); c != nil {
		return c, nil
	}
	return gemresolve.NewCandidate(id.Name, id.Version, id.Platform, "")
}

// SortIDs sorts candidate identities by name, version and platform.
func SortIDs(ids []gemresolve.CandidateID) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.Platform < b.Platform
	})
}

// IDs returns the sorted identities of the candidates of x.
func IDs(x *gemresolve.SolutionIndex) []gemresolve.CandidateID {
	var ids []gemresolve.CandidateID
	for _, c := range x.Candidates() {
		ids = append(ids, c.ID())
	}
	SortIDs(ids)
	return ids
}

func parseName(s string) (string, error) {
	ts := strings.TrimSpace(s)
	if ts == "" {
		return "", fmt.Errorf("name cannot be empty")
	}
	return ts, nil
}

func parseUniverse(sc *bufio.Scanner, line *int, source string) (*gemresolve.SolutionIndex, error) {
	var lines []string
	for sc.Scan() {
		*line++
		l := sc.Text()
		if strings.TrimSpace(strings.ToLower(l)) == endBlock {
			s, err := schema.New(strings.Join(lines, "\n"), source)
			if err != nil {
				return nil, fmt.Errorf("parsing schema: %w", err)
			}
			return s.Index(), nil
		}
		lines = append(lines, l)
	}
	return nil, fmt.Errorf("%w, want %q", io.ErrUnexpectedEOF, endBlock)
}

func parseTest(sc *bufio.Scanner, line *int, name string) (*parsedTest, error) {
	t := &parsedTest{name: name}
	for sc.Scan() {
		*line++
		l := strings.TrimSpace(sc.Text())
		if strings.ToLower(l) == endBlock {
			return t, nil
		}
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		keyword, rest, _ := strings.Cut(l, " ")
		rest = strings.TrimSpace(rest)
		fields := strings.Fields(rest)
		switch strings.ToLower(keyword) {
		case "universe":
			t.universe = rest
		case "require":
			if len(fields) == 0 {
				return nil, fmt.Errorf("line %d: Require needs a gem name", *line)
			}
			t.requires = append(t.requires, gemresolve.Dependency{
				PackageName:       fields[0],
				VersionConstraint: strings.TrimSpace(strings.TrimPrefix(rest, fields[0])),
			})
		case "platform":
			for _, f := range fields {
				t.platforms = append(t.platforms, gemresolve.Platform(f))
			}
		case "lock", "want":
			if len(fields) != 2 && len(fields) != 3 {
				return nil, fmt.Errorf("line %d: want name, version and optional platform: %q", *line, l)
			}
			if strings.EqualFold(keyword, "lock") {
				t.locks = append(t.locks, fields)
			} else {
				t.want = append(t.want, fields)
			}
		case "unlock":
			t.unlock = append(t.unlock, fields...)
		case "pin":
			if len(fields) != 3 {
				return nil, fmt.Errorf("line %d: want gem, source and universe: %q", *line, l)
			}
			t.pins = append(t.pins, fields)
		case "self":
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: want name and version: %q", *line, l)
			}
			t.self = fields
		case "error":
			if len(fields) == 0 {
				return nil, fmt.Errorf("line %d: Error needs a kind", *line)
			}
			t.errKind = strings.ToLower(fields[0])
			if !slices.Contains([]string{ErrorConflict, ErrorNotFound, ErrorSelf}, t.errKind) {
				return nil, fmt.Errorf("line %d: unknown error kind %q", *line, fields[0])
			}
			t.errNames = fields[1:]
		case "flag":
			for _, flag := range fields {
				if t.flags == nil {
					t.flags = make(map[string]bool)
				}
				t.flags[flag] = true
			}
		default:
			return nil, fmt.Errorf("line %d: unknown keyword %q", *line, keyword)
		}
	}
	return nil, fmt.Errorf("%w, want %q", io.ErrUnexpectedEOF, endBlock)
}

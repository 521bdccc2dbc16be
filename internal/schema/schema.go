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
Package schema parses a compact text description of a gem universe.

The text is indentation sensitive. A tab, or two spaces, make one level.
Lines are trimmed, and empty lines or lines starting with a `#` are
skipped.

	# Gem name at level 0.
	rails
		# Version, and optionally platform, at level 1.
		4.2.0
			# Dependencies at level 2: name@constraint. The constraint
			# may contain spaces and defaults to ">= 0".
			actionpack@= 4.2.0
			Dev|rspec@~> 3.0
			thor
	nokogiri
		1.6.6
		1.6.6 java
*/
package schema

import (
	"fmt"
	"strings"

	"deps.dev/util/gemresolve"
	"deps.dev/util/gemresolve/dep"
)

// Schema is a parsed universe.
type Schema struct {
	// Candidates holds the parsed candidates in the order they appear.
	Candidates []*gemresolve.Candidate
	byName     map[string][]*gemresolve.Candidate
}

type row struct {
	line  int
	depth int
	text  string
}

// New parses text. Every candidate gets source as its Source.
func New(text, source string) (*Schema, error) {
	rows, err := split(text)
	if err != nil {
		return nil, err
	}
	s := &Schema{byName: make(map[string][]*gemresolve.Candidate)}

	var name string
	// pending is the version line being read and its dependencies.
	var pending *row
	var deps []gemresolve.Dependency
	flush := func() error {
		if pending == nil {
			return nil
		}
		fields := strings.Fields(pending.text)
		if len(fields) > 2 {
			return fmt.Errorf("line %d: want version and optional platform, got %q", pending.line, pending.text)
		}
		var p gemresolve.Platform
		if len(fields) == 2 {
			p = gemresolve.Platform(fields[1])
		}
		c, err := gemresolve.NewCandidate(name, fields[0], p, source, deps...)
		if err != nil {
			return fmt.Errorf("line %d: %w", pending.line, err)
		}
		s.Candidates = append(s.Candidates, c)
		s.byName[name] = append(s.byName[name], c)
		pending, deps = nil, nil
		return nil
	}

	for i := range rows {
		r := &rows[i]
		switch r.depth {
		case 0:
			if err := flush(); err != nil {
				return nil, err
			}
			if strings.ContainsAny(r.text, " \t") {
				return nil, fmt.Errorf("line %d: gem name must not contain spaces: %q", r.line, r.text)
			}
			name = r.text
		case 1:
			if name == "" {
				return nil, fmt.Errorf("line %d: version outside of a gem", r.line)
			}
			if err := flush(); err != nil {
				return nil, err
			}
			pending = r
		case 2:
			if pending == nil {
				return nil, fmt.Errorf("line %d: dependency outside of a version", r.line)
			}
			d, err := ParseDependency(r.text)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", r.line, err)
			}
			deps = append(deps, d)
		default:
			return nil, fmt.Errorf("line %d: too deeply indented", r.line)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseDependency parses `[Type|]name[@constraint]`.
func ParseDependency(s string) (gemresolve.Dependency, error) {
	var d gemresolve.Dependency
	if t, rest, ok := strings.Cut(s, "|"); ok {
		dt, err := dep.ParseType(t)
		if err != nil {
			return d, err
		}
		d.Type = dt
		s = rest
	}
	name, con, _ := strings.Cut(s, "@")
	d.PackageName = strings.TrimSpace(name)
	d.VersionConstraint = strings.TrimSpace(con)
	if d.PackageName == "" || strings.ContainsAny(d.PackageName, " \t") {
		return d, fmt.Errorf("invalid dependency name in %q", s)
	}
	return d, nil
}

func split(text string) ([]row, error) {
	var rows []row
	for i, l := range strings.Split(text, "\n") {
		t := strings.TrimSpace(l)
		if t == "" || strings.HasPrefix(t, "#") {
			continue
		}
		indent := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		depth := strings.Count(indent, "\t") + strings.Count(indent, "  ")
		if n := len(rows); n > 0 && depth > rows[n-1].depth+1 {
			return nil, fmt.Errorf("line %d: indentation increases by more than one level", i+1)
		}
		if len(rows) == 0 && depth != 0 {
			return nil, fmt.Errorf("line %d: first line must not be indented", i+1)
		}
		rows = append(rows, row{line: i + 1, depth: depth, text: t})
	}
	return rows, nil
}

// Package returns the candidates of the named gem in the order they appear.
func (s *Schema) Package(name string) []*gemresolve.Candidate {
	return s.byName[name]
}

// Index returns a SolutionIndex holding every candidate.
func (s *Schema) Index() *gemresolve.SolutionIndex {
	return gemresolve.NewSolutionIndex(s.Candidates...)
}

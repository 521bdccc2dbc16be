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

package bundler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"deps.dev/util/gemresolve"
)

// ErrTooManyRounds is returned when a resolution gives up after the
// configured number of rounds.
var ErrTooManyRounds = errors.New("resolution aborted after too many rounds")

// CandidateNotFoundError is returned when a top-level requirement matches
// no candidate at all.
type CandidateNotFoundError struct {
	Requirement *gemresolve.Requirement
	// LockedVersion is the baseline version of the gem, if any.
	LockedVersion string
	// Source is the source the gem is pinned to, if any, and SourceVersions
	// the versions that source offers.
	Source         string
	SourceVersions []string
}

func (e *CandidateNotFoundError) Error() string {
	r := e.Requirement
	var sb strings.Builder
	switch {
	case e.LockedVersion != "":
		fmt.Fprintf(&sb, "You have requested:\n  %s %s\n\n", r.Name(), r.Constraint())
		fmt.Fprintf(&sb, "The bundle currently has %s locked at %s.\n", r.Name(), e.LockedVersion)
		fmt.Fprintf(&sb, "Try running `bundle update %s`", r.Name())
	case e.Source != "":
		fmt.Fprintf(&sb, "Could not find gem '%s' in %s.\n", describe(r), e.Source)
		if len(e.SourceVersions) > 0 {
			fmt.Fprintf(&sb, "Source contains '%s' at: %s", r.Name(), strings.Join(e.SourceVersions, ", "))
		} else {
			fmt.Fprintf(&sb, "Source does not contain any versions of '%s'", describe(r))
		}
	default:
		fmt.Fprintf(&sb, "Could not find gem '%s' in any of the gem sources listed in your Gemfile.", describe(r))
	}
	return sb.String()
}

// SelfReferenceNotFoundError is returned when the resolver's own gem cannot
// be found in the pool.
type SelfReferenceNotFoundError struct {
	Name, Version string
}

func (e *SelfReferenceNotFoundError) Error() string {
	return fmt.Sprintf("Could not find gem '%s (%s)' in any of the sources, and it is needed to run the bundle", e.Name, e.Version)
}

// conflict records why a name could not be activated: the group already
// activated for it (nil if there was nothing to choose from) and the
// requirement that it failed.
type conflict struct {
	origin *gemresolve.CandidateGroup
	// locked is set when the origin was pinned by the baseline.
	locked bool
	req    *gemresolve.Requirement
}

// VersionConflictError is returned when no combination of candidates
// satisfies every requirement. It explains each conflicting name.
type VersionConflictError struct {
	conflicts map[string]conflict
	self      string
}

// Names returns the conflicting gem names, sorted.
func (e *VersionConflictError) Names() []string {
	names := make([]string, 0, len(e.conflicts))
	for n := range e.conflicts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (e *VersionConflictError) Error() string {
	var sb strings.Builder
	for i, name := range e.Names() {
		if i > 0 {
			sb.WriteString("\n")
		}
		c := e.conflicts[name]
		fmt.Fprintf(&sb, "Bundler could not find compatible versions for gem %q:\n", name)
		sb.WriteString("  In Gemfile:\n")
		writeChain(&sb, describe(c.req), c.req.RequiredBy(), c.req.Name())
		sb.WriteString("\n")
		if c.origin == nil {
			parent := c.req.Parent()
			if parent == nil {
				fmt.Fprintf(&sb, "Could not find gem '%s' in any of the sources.\n", describe(c.req))
			} else {
				fmt.Fprintf(&sb, "Could not find gem '%s', which is required by gem '%s', in any of the sources.\n", describe(c.req), describe(parent))
			}
			continue
		}
		isSelf := c.origin.Name() == e.self
		switch {
		case isSelf:
			sb.WriteString("  Current Bundler version:\n")
		case c.locked || c.origin.ActivatedBy() == nil:
			sb.WriteString("  In snapshot (Gemfile.lock):\n")
		}
		var chain []*gemresolve.Requirement
		if by := c.origin.ActivatedBy(); by != nil && !isSelf {
			chain = by.RequiredBy()
		}
		writeChain(&sb, c.origin.String(), chain, c.origin.Name())
		sb.WriteString("\n")
		if isSelf {
			sb.WriteString("This Gemfile requires a different version of Bundler.\n")
			sb.WriteString("Perhaps you need to update Bundler by running `gem install bundler`?\n")
		}
	}
	return sb.String()
}

// writeChain writes leaf, indented under the requirements that led to it.
// A chain that starts at the gem itself is not a tree worth printing.
func writeChain(sb *strings.Builder, leaf string, chain []*gemresolve.Requirement, name string) {
	if len(chain) == 0 || chain[0].Name() == name {
		fmt.Fprintf(sb, "    %s\n", leaf)
		return
	}
	for i, r := range chain {
		fmt.Fprintf(sb, "    %s%s depends on\n", strings.Repeat("  ", i), describe(r))
	}
	fmt.Fprintf(sb, "    %s%s\n", strings.Repeat("  ", len(chain)), leaf)
}

// describe renders a requirement for humans, leaving out the default
// constraint.
func describe(r *gemresolve.Requirement) string {
	if r.Constraint() == gemresolve.DefaultConstraint {
		return r.Name()
	}
	return fmt.Sprintf("%s (%s)", r.Name(), r.Constraint())
}

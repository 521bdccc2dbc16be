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
Package gemresolve holds the data model shared by the RubyGems dependency
resolver.

A Dependency is a declaration as written in a Gemfile or a gemspec. Wrapping
it with a target Platform yields a Requirement, the unit the resolver works
on. Concrete packages are Candidates; Candidates that share a name and a
version form a CandidateGroup, which is what the resolver activates.
Candidates are kept in a SolutionIndex, which is used both for the
universe of available gems and for resolved or locked solutions. A
CandidatePool layers per-gem source pinning over a primary index.

The search itself lives in the bundler package.
*/
package gemresolve

import (
	"context"
	"errors"
)

// Platform names a gem platform. Candidates built for the generic Ruby
// platform can be used on every platform.
type Platform string

const (
	Ruby     Platform = "ruby"
	Java     Platform = "java"
	MSWin    Platform = "x86-mswin32"
	MinGW    Platform = "x86-mingw32"
	X64MinGW Platform = "x64-mingw32"
)

// Platforms lists the platforms known to the resolver, generic first.
var Platforms = []Platform{Ruby, Java, MSWin, MinGW, X64MinGW}

// Supports reports whether a candidate built for p can be used on target.
func (p Platform) Supports(target Platform) bool {
	return p == target || p == Ruby
}

// Named is implemented by everything that refers to a gem by name.
type Named interface {
	Name() string
}

// VersionConstrained is implemented by declarations that restrict the
// versions of a named gem.
type VersionConstrained interface {
	Named
	// Constraint returns the normalized RubyGems constraint string.
	Constraint() string
}

// Source supplies candidate gems. Implementations may fetch them from
// anywhere; the resolver only ever sees the populated SolutionIndex.
type Source interface {
	// SpecsFor returns an index holding every known version of the
	// named gems. Unknown names are not an error.
	SpecsFor(ctx context.Context, names []string) (*SolutionIndex, error)
}

// ErrNotFound is returned by Sources to indicate the requested data could
// not be located.
var ErrNotFound = errors.New("not found")

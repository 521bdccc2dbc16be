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
	"strings"
)

// Changes describes how a solution differs from its baseline.
type Changes struct {
	// Added holds the candidates of the solution missing from the baseline.
	Added []*Candidate
	// Removed holds the candidates of the baseline missing from the
	// solution.
	Removed []*Candidate
}

// Diff compares a solution against a baseline by candidate identity. Either
// may be nil.
func Diff(baseline, solution *SolutionIndex) Changes {
	var ch Changes
	if solution != nil {
		ch.Added = solution.Difference(baseline)
	}
	if baseline != nil {
		ch.Removed = baseline.Difference(solution)
	}
	return ch
}

// Empty reports whether nothing changed.
func (ch Changes) Empty() bool { return len(ch.Added) == 0 && len(ch.Removed) == 0 }

func (ch Changes) String() string {
	var sb strings.Builder
	for _, c := range ch.Added {
		fmt.Fprintf(&sb, "+ %s\n", c)
	}
	for _, c := range ch.Removed {
		fmt.Fprintf(&sb, "- %s\n", c)
	}
	return sb.String()
}

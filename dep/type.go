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
Package dep provides data structures for representing dependency types.
*/
package dep

import (
	"fmt"
	"strings"
)

// Type indicates the type of a dependency edge.
//
// The zero value of Type is a runtime dependency, the only kind the resolver
// ever expands. Development dependencies are recorded so they can be carried
// through manifests and lockfiles, but they never pull in candidates.
type Type uint8

const (
	Runtime Type = iota
	Development
)

// ParseType parses the lockfile/manifest spelling of a dependency type. The
// empty string is a runtime dependency.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "runtime", "reg":
		return Runtime, nil
	case "development", "dev":
		return Development, nil
	}
	return Runtime, fmt.Errorf("unknown dependency type %q", s)
}

// IsRuntime reports whether dependencies of this type take part in
// resolution.
func (t Type) IsRuntime() bool { return t == Runtime }

func (t Type) String() string {
	switch t {
	case Runtime:
		return "runtime"
	case Development:
		return "development"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

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
	"fmt"
	"strings"

	"deps.dev/util/gemresolve"
)

// ProductionError is returned by EnsureEquivalent when the declared
// dependencies no longer match the lock.
type ProductionError struct {
	Added, Deleted, Changed []string
	// Explicit is set when deployment mode was asked for explicitly
	// rather than inferred from a frozen setting.
	Explicit bool
}

func (e *ProductionError) Error() string {
	var sb strings.Builder
	sb.WriteString("You are trying to install in deployment mode after changing\n")
	sb.WriteString("your Gemfile. Run `bundle install` elsewhere and add the\n")
	sb.WriteString("updated Gemfile.lock to version control.")
	if !e.Explicit {
		sb.WriteString("\n\nIf this is a development machine, remove the Gemfile freeze\n")
		sb.WriteString("by running `bundle install --no-deployment`.")
	}
	section := func(title string, lines []string) {
		if len(lines) > 0 {
			fmt.Fprintf(&sb, "\n\n%s:\n%s", title, strings.Join(lines, "\n"))
		}
	}
	section("You have added to the Gemfile", e.Added)
	section("You have deleted from the Gemfile", e.Deleted)
	section("You have changed in the Gemfile", e.Changed)
	sb.WriteString("\n")
	return sb.String()
}

// PrettyDependency renders a dependency for humans: its name, its
// constraint unless it is the default one, and with withSource its pinned
// source.
func PrettyDependency(dp gemresolve.Dependency, withSource bool) string {
	s := dp.Name()
	if c := dp.Constraint(); c != gemresolve.DefaultConstraint {
		s += " (" + c + ")"
	}
	if withSource && dp.Source != "" {
		s += " from the `" + dp.Source + "` source"
	}
	return s
}

// EnsureEquivalent checks that the declared dependencies are the locked
// ones, as required when installing in deployment mode. It returns a
// *ProductionError describing every difference.
func (d *Definition) EnsureEquivalent(explicit bool) error {
	e := &ProductionError{Explicit: explicit}
	for _, dp := range d.deps {
		if !containsDep(d.lockedDeps, dp) {
			e.Added = append(e.Added, "* "+PrettyDependency(dp, false))
		}
	}
	for _, dp := range d.lockedDeps {
		if !containsDep(d.deps, dp) {
			e.Deleted = append(e.Deleted, "* "+PrettyDependency(dp, false))
		}
	}

	// Compare sources by name, declared gems first.
	type pair struct {
		dep        *gemresolve.Dependency
		lockSource string
	}
	var order []string
	both := make(map[string]*pair)
	get := func(name string) *pair {
		p, ok := both[name]
		if !ok {
			p = &pair{}
			both[name] = p
			order = append(order, name)
		}
		return p
	}
	for i := range d.deps {
		get(d.deps[i].Name()).dep = &d.deps[i]
	}
	for _, dp := range d.lockedDeps {
		get(dp.Name()).lockSource = dp.Source
	}
	for _, name := range order {
		p := both[name]
		if p.lockSource == "" || (p.dep != nil && p.dep.Source == p.lockSource) {
			continue
		}
		from := "no specified source"
		if p.dep != nil && p.dep.Source != "" {
			from = p.dep.Source
		}
		e.Changed = append(e.Changed, fmt.Sprintf("* %s from `%s` to `%s`", name, from, p.lockSource))
	}

	if len(e.Added) == 0 && len(e.Deleted) == 0 && len(e.Changed) == 0 {
		return nil
	}
	return e
}

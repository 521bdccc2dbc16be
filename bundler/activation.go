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

import "deps.dev/util/gemresolve"

// activation maps gem names to the activated CandidateGroup and remembers
// the order in which names were activated, so results and debug output
// are deterministic.
type activation struct {
	m     map[string]*gemresolve.CandidateGroup
	order []string
}

func newActivation(capacity int) *activation {
	return &activation{
		m:     make(map[string]*gemresolve.CandidateGroup, capacity),
		order: make([]string, 0, capacity),
	}
}

// Len returns the number of activated names.
func (a *activation) Len() int {
	return len(a.m)
}

// Get returns the group activated for name, or nil.
func (a *activation) Get(name string) *gemresolve.CandidateGroup {
	return a.m[name]
}

// Set activates g for its name. Re-activating a name moves it to the end of
// the order.
func (a *activation) Set(g *gemresolve.CandidateGroup) {
	name := g.Name()
	if _, ok := a.m[name]; ok {
		for i, n := range a.order {
			if n == name {
				a.order = append(a.order[:i], a.order[i+1:]...)
				break
			}
		}
	}
	a.m[name] = g
	a.order = append(a.order, name)
}

// Iterate applies f to every activated group in activation order.
func (a *activation) Iterate(f func(*gemresolve.CandidateGroup)) {
	for _, name := range a.order {
		f(a.m[name])
	}
}

// Clone makes a copy of the activation whose groups can be activated on
// further platforms without affecting a.
func (a *activation) Clone() *activation {
	b := &activation{
		m:     make(map[string]*gemresolve.CandidateGroup, a.Len()),
		order: append([]string(nil), a.order...),
	}
	for name, g := range a.m {
		b.m[name] = g.Clone()
	}
	return b
}

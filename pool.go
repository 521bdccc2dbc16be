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

// CandidatePool is the lookup used by the resolver. Gems pinned to a source
// are only ever looked up in that source's index; all other gems come from
// the primary index.
type CandidatePool struct {
	primary *SolutionIndex
	pinned  map[string]pin
}

type pin struct {
	source string
	index  *SolutionIndex
}

// NewCandidatePool returns a pool backed by primary.
func NewCandidatePool(primary *SolutionIndex) *CandidatePool {
	if primary == nil {
		primary = NewSolutionIndex()
	}
	return &CandidatePool{
		primary: primary,
		pinned:  make(map[string]pin),
	}
}

// Pin restricts lookups of the named gem to idx, which holds the
// candidates of the named source. Pinning the same name again replaces the
// previous pin.
func (p *CandidatePool) Pin(name, source string, idx *SolutionIndex) {
	if idx == nil {
		idx = NewSolutionIndex()
	}
	p.pinned[name] = pin{source: source, index: idx}
}

// Lookup returns the index to search for the named gem.
func (p *CandidatePool) Lookup(name string) *SolutionIndex {
	if pn, ok := p.pinned[name]; ok {
		return pn.index
	}
	return p.primary
}

// PinnedSource returns the source the named gem is pinned to.
func (p *CandidatePool) PinnedSource(name string) (string, bool) {
	pn, ok := p.pinned[name]
	return pn.source, ok
}

// Primary returns the primary index.
func (p *CandidatePool) Primary() *SolutionIndex { return p.primary }

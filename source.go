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
	"context"
	"errors"
	"fmt"
	"sort"
)

// SpecsFor implements Source, returning the candidates of the named gems.
func (x *SolutionIndex) SpecsFor(ctx context.Context, names []string) (*SolutionIndex, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := NewSolutionIndex()
	for _, n := range names {
		for _, c := range x.byName[n] {
			out.Add(c)
		}
	}
	return out, nil
}

// Fetch collects from src every version of the named gems and of the gems
// they depend on at runtime, transitively. Names the source reports as
// ErrNotFound are skipped; when a batch fails that way its names are asked
// for one at a time so the ones the source knows are still fetched.
func Fetch(ctx context.Context, src Source, names []string) (*SolutionIndex, error) {
	out := NewSolutionIndex()
	seen := make(map[string]bool)
	var pending []string
	enqueue := func(n string) {
		if !seen[n] {
			seen[n] = true
			pending = append(pending, n)
		}
	}
	for _, n := range names {
		enqueue(n)
	}
	for len(pending) > 0 {
		batch := pending
		pending = nil
		sort.Strings(batch)
		got, err := fetchBatch(ctx, src, batch)
		if err != nil {
			return nil, err
		}
		for _, c := range got.Candidates() {
			out.Add(c)
			for _, d := range c.Dependencies {
				if d.Type.IsRuntime() {
					enqueue(d.Name())
				}
			}
		}
	}
	return out, nil
}

func fetchBatch(ctx context.Context, src Source, batch []string) (*SolutionIndex, error) {
	got, err := src.SpecsFor(ctx, batch)
	if err == nil {
		return got, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("fetching %d gems: %w", len(batch), err)
	}
	out := NewSolutionIndex()
	if len(batch) == 1 {
		return out, nil
	}
	for _, n := range batch {
		got, err := src.SpecsFor(ctx, []string{n})
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", n, err)
		}
		out.Merge(got, false)
	}
	return out, nil
}

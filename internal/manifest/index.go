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

package manifest

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/multierr"

	"deps.dev/util/gemresolve"
)

// IndexFile is a gem index read from a TOML file. It implements
// gemresolve.Source.
type IndexFile struct {
	// Source names the source; it defaults to the file name.
	Source string `toml:"source"`
	Gems   []Spec `toml:"gem"`

	index *gemresolve.SolutionIndex
}

var _ gemresolve.Source = (*IndexFile)(nil)

// ParseIndex decodes an index and checks every gem in it.
func ParseIndex(data []byte, defaultSource string) (*IndexFile, error) {
	f := &IndexFile{}
	if err := decode(data, f); err != nil {
		return nil, fmt.Errorf("parsing index: %w", err)
	}
	if f.Source == "" {
		f.Source = defaultSource
	}
	f.index = gemresolve.NewSolutionIndex()
	var errs error
	for _, s := range f.Gems {
		c, err := s.Candidate(f.Source)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		f.index.Add(c)
	}
	if errs != nil {
		return nil, fmt.Errorf("invalid index: %w", errs)
	}
	return f, nil
}

// LoadIndex reads an index file.
func LoadIndex(path string) (*IndexFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := ParseIndex(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Index returns every gem of the file.
func (f *IndexFile) Index() *gemresolve.SolutionIndex { return f.index }

// SpecsFor returns the gems of the file with the given names.
func (f *IndexFile) SpecsFor(ctx context.Context, names []string) (*gemresolve.SolutionIndex, error) {
	return f.index.SpecsFor(ctx, names)
}

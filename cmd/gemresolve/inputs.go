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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"deps.dev/util/gemresolve"
	"deps.dev/util/gemresolve/definition"
	"deps.dev/util/gemresolve/internal/manifest"
	"deps.dev/util/gemresolve/internal/schema"
)

// inputs is everything a command reads before resolving.
type inputs struct {
	manifest *manifest.Manifest
	deps     []gemresolve.Dependency
	lock     *definition.Lock
	sources  definition.Sources
}

type namedSource struct {
	name string
	src  gemresolve.Source
}

// load reads the manifest, the lock and every index concurrently, then
// fetches from each source the gems the bundle can reach.
func load(ctx context.Context, o *options) (*inputs, error) {
	in := &inputs{}
	srcs := make([]namedSource, len(o.indexes)+len(o.universes))

	var g errgroup.Group
	g.Go(func() error {
		m, err := manifest.LoadManifest(o.gemfile)
		in.manifest = m
		return err
	})
	g.Go(func() error {
		l, err := manifest.LoadLock(o.lock)
		in.lock = l
		return err
	})
	for i, path := range o.indexes {
		g.Go(func() error {
			f, err := manifest.LoadIndex(path)
			if err != nil {
				return err
			}
			srcs[i] = namedSource{f.Source, f}
			return nil
		})
	}
	for j, path := range o.universes {
		g.Go(func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			s, err := schema.New(string(data), name)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			srcs[len(o.indexes)+j] = namedSource{name, s.Index()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	deps, err := in.manifest.Dependencies()
	if err != nil {
		return nil, err
	}
	in.deps = deps

	roots := make([]string, 0, len(deps)+1)
	for _, d := range deps {
		roots = append(roots, d.Name())
	}
	if o.selfName != "" {
		roots = append(roots, o.selfName)
	}
	if in.lock != nil {
		roots = append(roots, in.lock.Specs.Names()...)
	}

	in.sources = make(definition.Sources, len(srcs))
	for _, ns := range srcs {
		if _, ok := in.sources[ns.name]; ok {
			return nil, fmt.Errorf("duplicate source %q", ns.name)
		}
		in.sources[ns.name] = nil
	}
	fetched := make([]*gemresolve.SolutionIndex, len(srcs))
	fg, gctx := errgroup.WithContext(ctx)
	for i, ns := range srcs {
		fg.Go(func() error {
			idx, err := gemresolve.Fetch(gctx, ns.src, roots)
			if err != nil {
				return fmt.Errorf("source %s: %w", ns.name, err)
			}
			fetched[i] = idx
			return nil
		})
	}
	if err := fg.Wait(); err != nil {
		return nil, err
	}
	for i, ns := range srcs {
		in.sources[ns.name] = fetched[i]
		o.logger.Debug("fetched", zap.String("source", ns.name), zap.Int("gems", fetched[i].Len()))
	}
	return in, nil
}

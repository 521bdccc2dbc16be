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
Package manifest reads the TOML files the command line works with: the
declared dependencies of a bundle, its lock, and gem indexes.

A manifest declares gems and the platforms to resolve for:

	platforms = ["ruby", "java"]

	[[gem]]
	name = "rails"
	version = "~> 4.2"

	[[gem]]
	name = "secret"
	source = "private"
	platforms = ["java"]

A lock records the declared gems it was made for and the chosen specs:

	platforms = ["ruby"]

	[[dependency]]
	name = "rails"
	version = "~> 4.2"

	[[spec]]
	name = "rails"
	version = "4.2.0"

	[[spec.dependency]]
	name = "actionpack"
	version = "= 4.2.0"

An index lists every gem a source offers, in the same shape as lock specs:

	source = "rubygems"

	[[gem]]
	name = "rails"
	version = "4.2.0"
	platform = "ruby"
*/
package manifest

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"

	"deps.dev/util/gemresolve"
	"deps.dev/util/gemresolve/dep"
	"deps.dev/util/gemresolve/definition"
)

// Gem is a declared dependency.
type Gem struct {
	Name      string   `toml:"name"`
	Version   string   `toml:"version,omitempty"`
	Type      string   `toml:"type,omitempty"`
	Source    string   `toml:"source,omitempty"`
	Platforms []string `toml:"platforms,omitempty"`
}

// Dependency converts g.
func (g Gem) Dependency() (gemresolve.Dependency, error) {
	t, err := dep.ParseType(g.Type)
	if err != nil {
		return gemresolve.Dependency{}, fmt.Errorf("gem %s: %w", g.Name, err)
	}
	d := gemresolve.Dependency{
		PackageName:       g.Name,
		VersionConstraint: g.Version,
		Type:              t,
		Source:            g.Source,
	}
	for _, p := range g.Platforms {
		d.Platforms = append(d.Platforms, gemresolve.Platform(p))
	}
	// Checks the constraint.
	if _, err := gemresolve.NewRequirement(d, gemresolve.Ruby); err != nil {
		return gemresolve.Dependency{}, err
	}
	return d, nil
}

func fromDependency(d gemresolve.Dependency) Gem {
	g := Gem{Name: d.PackageName, Source: d.Source}
	if c := d.Constraint(); c != gemresolve.DefaultConstraint {
		g.Version = c
	}
	if !d.Type.IsRuntime() {
		g.Type = d.Type.String()
	}
	for _, p := range d.Platforms {
		g.Platforms = append(g.Platforms, string(p))
	}
	return g
}

// Spec is a concrete gem in a lock or an index.
type Spec struct {
	Name         string `toml:"name"`
	Version      string `toml:"version"`
	Platform     string `toml:"platform,omitempty"`
	Source       string `toml:"source,omitempty"`
	Dependencies []Gem  `toml:"dependency,omitempty"`
}

// Candidate converts s. A spec without a source gets source.
func (s Spec) Candidate(source string) (*gemresolve.Candidate, error) {
	var deps []gemresolve.Dependency
	for _, g := range s.Dependencies {
		d, err := g.Dependency()
		if err != nil {
			return nil, fmt.Errorf("spec %s %s: %w", s.Name, s.Version, err)
		}
		deps = append(deps, d)
	}
	if s.Source != "" {
		source = s.Source
	}
	return gemresolve.NewCandidate(s.Name, s.Version, gemresolve.Platform(s.Platform), source, deps...)
}

func fromCandidate(c *gemresolve.Candidate) Spec {
	s := Spec{Name: c.Name, Version: c.Version, Source: c.Source}
	if c.Platform != gemresolve.Ruby {
		s.Platform = string(c.Platform)
	}
	for _, d := range c.Dependencies {
		s.Dependencies = append(s.Dependencies, fromDependency(d))
	}
	return s
}

// Manifest is the declared dependencies of a bundle.
type Manifest struct {
	Platforms []string `toml:"platforms,omitempty"`
	Gems      []Gem    `toml:"gem"`
}

// ParseManifest decodes and validates a manifest. Every problem is
// reported, not only the first.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := decode(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	var errs error
	seen := make(map[string]bool)
	for i, g := range m.Gems {
		if g.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("gem #%d: missing name", i+1))
			continue
		}
		if seen[g.Name] {
			errs = multierr.Append(errs, fmt.Errorf("gem %s: declared more than once", g.Name))
		}
		seen[g.Name] = true
		if _, err := g.Dependency(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for _, p := range m.Platforms {
		if p == "" {
			errs = multierr.Append(errs, fmt.Errorf("empty platform"))
		}
	}
	return errs
}

// Dependencies returns the declared gems.
func (m *Manifest) Dependencies() ([]gemresolve.Dependency, error) {
	deps := make([]gemresolve.Dependency, 0, len(m.Gems))
	for _, g := range m.Gems {
		d, err := g.Dependency()
		if err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, nil
}

// PlatformList returns the declared platforms.
func (m *Manifest) PlatformList() []gemresolve.Platform {
	return platforms(m.Platforms)
}

func platforms(ss []string) []gemresolve.Platform {
	var ps []gemresolve.Platform
	for _, s := range ss {
		ps = append(ps, gemresolve.Platform(s))
	}
	return ps
}

// lockFile is the TOML shape of a lock.
type lockFile struct {
	Platforms    []string `toml:"platforms"`
	Dependencies []Gem    `toml:"dependency"`
	Specs        []Spec   `toml:"spec"`
}

// ParseLock decodes a lock.
func ParseLock(data []byte) (*definition.Lock, error) {
	var lf lockFile
	if err := decode(data, &lf); err != nil {
		return nil, fmt.Errorf("parsing lock: %w", err)
	}
	lock := &definition.Lock{
		Specs:     gemresolve.NewSolutionIndex(),
		Platforms: platforms(lf.Platforms),
	}
	var errs error
	for _, g := range lf.Dependencies {
		d, err := g.Dependency()
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		lock.Dependencies = append(lock.Dependencies, d)
	}
	for _, s := range lf.Specs {
		c, err := s.Candidate("")
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		lock.Specs.Add(c)
	}
	if errs != nil {
		return nil, fmt.Errorf("invalid lock: %w", errs)
	}
	return lock, nil
}

// EncodeLock encodes a lock in the form ParseLock reads. Specs are
// written sorted.
func EncodeLock(lock *definition.Lock) ([]byte, error) {
	lf := lockFile{}
	for _, p := range lock.Platforms {
		lf.Platforms = append(lf.Platforms, string(p))
	}
	for _, d := range lock.Dependencies {
		lf.Dependencies = append(lf.Dependencies, fromDependency(d))
	}
	if lock.Specs != nil {
		for _, c := range lock.Specs.Candidates() {
			lf.Specs = append(lf.Specs, fromCandidate(c))
		}
	}
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(lf); err != nil {
		return nil, fmt.Errorf("encoding lock: %w", err)
	}
	return buf.Bytes(), nil
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadLock reads a lock file. A missing file is not an error: the result
// is nil.
func LoadLock(path string) (*definition.Lock, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lock, err := ParseLock(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lock, nil
}

// decode decodes TOML, rejecting unknown keys.
func decode(data []byte, v any) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

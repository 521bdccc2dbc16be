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
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"deps.dev/util/gemresolve/bundler"
	"deps.dev/util/gemresolve/definition"
	"deps.dev/util/gemresolve/internal/manifest"
)

const index = `
source = "rubygems"

[[gem]]
name = "app"
version = "1.0"

[[gem.dependency]]
name = "lib"
version = ">= 1.0"

[[gem]]
name = "lib"
version = "1.0"

[[gem]]
name = "lib"
version = "2.1"

[[gem]]
name = "bundler"
version = "1.10.6"
`

const newLib = `
[[gem]]
name = "lib"
version = "2.2"
`

type workspace struct {
	t       *testing.T
	gemfile string
	lock    string
	index   string
}

func newWorkspace(t *testing.T, gemfile string) *workspace {
	dir := t.TempDir()
	w := &workspace{
		t:       t,
		gemfile: filepath.Join(dir, "Gemfile.toml"),
		lock:    filepath.Join(dir, "Gemfile.lock.toml"),
		index:   filepath.Join(dir, "rubygems.toml"),
	}
	w.write(w.gemfile, gemfile)
	w.write(w.index, index)
	return w
}

func (w *workspace) write(path, content string) {
	w.t.Helper()
	require.NoError(w.t, os.WriteFile(path, []byte(content), 0o644))
}

// writeLock stores the printed resolution as the lock.
func (w *workspace) writeLock() {
	w.t.Helper()
	out, err := w.run("resolve", "--print-lock")
	require.NoError(w.t, err)
	w.write(w.lock, out)
}

func (w *workspace) run(args ...string) (string, error) {
	w.t.Helper()
	cmd := newRootCmd(zaptest.NewLogger(w.t))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--gemfile", w.gemfile, "--lock", w.lock, "--index", w.index))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestResolvePrintLockAndCheck(t *testing.T) {
	w := newWorkspace(t, "[[gem]]\nname = \"app\"\n")

	out, err := w.run("resolve")
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^GEM\s+VERSION\s+PLATFORM\s+SOURCE$`, out)
	assert.Regexp(t, `(?m)^app\s+1\.0\s+ruby\s+rubygems$`, out)
	assert.Regexp(t, `(?m)^lib\s+2\.1\s+ruby\s+rubygems$`, out)
	assert.Regexp(t, `(?m)^bundler\s+1\.10\.6\s+ruby\s+rubygems$`, out)
	assert.Contains(t, out, "+ lib (2.1)\n")
	_, err = os.Stat(w.lock)
	assert.True(t, os.IsNotExist(err), "resolve wrote a lock")

	w.writeLock()
	lock, err := manifest.LoadLock(w.lock)
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, []string{"app", "bundler", "lib"}, lock.Specs.Names())

	out, err = w.run("check")
	require.NoError(t, err)
	assert.Equal(t, "The Gemfile's dependencies are satisfied\n", out)

	out, err = w.run("diff")
	require.NoError(t, err)
	assert.Equal(t, "no changes\n", out)
}

func TestPrintLockAddsSelf(t *testing.T) {
	w := newWorkspace(t, "[[gem]]\nname = \"app\"\n")
	w.writeLock()
	lock, err := manifest.LoadLock(w.lock)
	require.NoError(t, err)
	lock.Specs.Remove("bundler")
	data, err := manifest.EncodeLock(lock)
	require.NoError(t, err)
	w.write(w.lock, string(data))

	// Nothing changed, so the lock is reused, but the bundle still holds
	// the resolver's own gem.
	out, err := w.run("resolve", "--print-lock")
	require.NoError(t, err)
	printed, err := manifest.ParseLock([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, []string{"app", "bundler", "lib"}, printed.Specs.Names())

	out, err = w.run("resolve")
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^bundler\s+1\.10\.6\s+ruby\s+rubygems$`, out)
}

func TestUpdate(t *testing.T) {
	w := newWorkspace(t, "[[gem]]\nname = \"app\"\n")
	w.writeLock()
	w.write(w.index, index+newLib)

	// The lock holds lib back until it is unlocked.
	out, err := w.run("diff")
	require.NoError(t, err)
	assert.Equal(t, "no changes\n", out)

	out, err = w.run("diff", "--update", "lib")
	require.NoError(t, err)
	assert.Equal(t, "+ lib (2.2)\n- lib (2.1)\n", out)

	out, err = w.run("resolve", "--update-all")
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^lib\s+2\.2\s+ruby\s+rubygems$`, out)
}

func TestCheckChangedManifest(t *testing.T) {
	w := newWorkspace(t, "[[gem]]\nname = \"app\"\n")
	_, err := w.run("check")
	assert.ErrorContains(t, err, "no lock at")

	w.writeLock()
	w.write(w.gemfile, "[[gem]]\nname = \"app\"\n\n[[gem]]\nname = \"lib\"\nversion = \"~> 2.0\"\n")

	_, err = w.run("check", "--deployment")
	var pe *definition.ProductionError
	require.True(t, errors.As(err, &pe), "got %v", err)
	assert.Equal(t, []string{"* lib (~> 2.0)"}, pe.Added)
	assert.True(t, pe.Explicit)
}

func TestResolveErrors(t *testing.T) {
	w := newWorkspace(t, "[[gem]]\nname = \"missing\"\n")
	_, err := w.run("resolve")
	var nf *bundler.CandidateNotFoundError
	assert.True(t, errors.As(err, &nf), "got %v", err)

	w = newWorkspace(t, "[[gem]]\nname = \"app\"\n")
	_, err = w.run("resolve", "--self-version", "9.9")
	var sr *bundler.SelfReferenceNotFoundError
	assert.True(t, errors.As(err, &sr), "got %v", err)

	w = newWorkspace(t, "[[gem]]\nname = \"bundler\"\nversion = \"~> 1.9.0\"\n")
	_, err = w.run("resolve")
	var vc *bundler.VersionConflictError
	require.True(t, errors.As(err, &vc), "got %v", err)
	assert.Equal(t, []string{"bundler"}, vc.Names())

	w = newWorkspace(t, "[[gem]]\nname = \"app\"\nsource = \"private\"\n")
	_, err = w.run("resolve")
	assert.ErrorContains(t, err, `unknown source "private"`)

	w = newWorkspace(t, "[[gem]]\nname = \"app\"\n")
	w.write(w.index, "[[gem]]\nname = \"app\"\n")
	_, err = w.run("resolve")
	assert.Error(t, err)
}

func TestMetricsAndUniverse(t *testing.T) {
	w := newWorkspace(t, "[[gem]]\nname = \"rails\"\n")
	universe := filepath.Join(t.TempDir(), "extra.txt")
	w.write(universe, "rails\n\t4.2.0\n\t\tthor@~> 0.19\nthor\n\t0.19.1\n\t0.20.0\n")

	out, err := w.run("resolve", "--metrics", "--universe", universe)
	require.NoError(t, err)
	assert.Regexp(t, `(?m)^rails\s+4\.2\.0\s+ruby\s+extra$`, out)
	assert.Regexp(t, `(?m)^thor\s+0\.20\.0\s+ruby\s+extra$`, out)
	assert.Contains(t, out, `gemresolve_resolver_resolutions_total{result="success"} 1`)
	assert.Contains(t, out, "# TYPE gemresolve_resolver_rounds_total counter")
}

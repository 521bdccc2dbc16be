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
gemresolve resolves the gems declared in a TOML manifest against local gem
indexes, keeping the versions recorded in a lock where it can.

	gemresolve resolve --gemfile Gemfile.toml --index rubygems.toml
	gemresolve resolve --update rails --print-lock > Gemfile.lock.toml
	gemresolve diff --universe testdata/universe.txt
	gemresolve check --deployment

Indexes are TOML files (see package internal/manifest); universes use the
indented text format of package internal/schema.
*/
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"deps.dev/util/gemresolve"
	"deps.dev/util/gemresolve/bundler"
	"deps.dev/util/gemresolve/definition"
	"deps.dev/util/gemresolve/internal/manifest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd(nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

type options struct {
	gemfile     string
	lock        string
	indexes     []string
	universes   []string
	platforms   []string
	selfName    string
	selfVersion string
	metrics     bool
	verbose     bool

	update     []string
	updateAll  bool
	printLock  bool
	deployment bool

	logger   *zap.Logger
	registry *prometheus.Registry
}

// newRootCmd builds the command tree. A nil logger is built from the
// --verbose flag.
func newRootCmd(logger *zap.Logger) *cobra.Command {
	o := &options{logger: logger, registry: prometheus.NewRegistry()}
	root := &cobra.Command{
		Use:           "gemresolve",
		Short:         "Resolve RubyGems dependencies against local indexes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if o.logger != nil {
				return nil
			}
			cfg := zap.NewProductionConfig()
			cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
			if o.verbose {
				cfg = zap.NewDevelopmentConfig()
			}
			l, err := cfg.Build()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			o.logger = l
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.gemfile, "gemfile", "Gemfile.toml", "manifest declaring the gems")
	pf.StringVar(&o.lock, "lock", "Gemfile.lock.toml", "lock file; a missing file means no lock")
	pf.StringArrayVar(&o.indexes, "index", nil, "TOML gem index (repeatable)")
	pf.StringArrayVar(&o.universes, "universe", nil, "text gem universe (repeatable)")
	pf.StringSliceVar(&o.platforms, "platform", nil, "platforms to resolve for, in addition to the locked ones")
	pf.StringVar(&o.selfName, "self-name", bundler.SelfName, "gem that is always part of the bundle; empty to disable")
	pf.StringVar(&o.selfVersion, "self-version", bundler.SelfVersion, "version of --self-name")
	pf.BoolVar(&o.metrics, "metrics", false, "print resolver metrics after running")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "log debugging output")

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve the bundle and print every gem in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	resolveCmd.Flags().StringSliceVar(&o.update, "update", nil, "gems allowed to move away from their locked versions")
	resolveCmd.Flags().BoolVar(&o.updateAll, "update-all", false, "ignore the lock entirely")
	resolveCmd.Flags().BoolVar(&o.printLock, "print-lock", false, "print the resolution as a lock instead of a table")

	diffCmd := &cobra.Command{
		Use:   "diff",
		Short: "Print the gems a resolution would add or remove",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	diffCmd.Flags().StringSliceVar(&o.update, "update", nil, "gems allowed to move away from their locked versions")
	diffCmd.Flags().BoolVar(&o.updateAll, "update-all", false, "ignore the lock entirely")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check that the manifest matches the lock, as deployment mode requires",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	checkCmd.Flags().BoolVar(&o.deployment, "deployment", false, "deployment mode was requested explicitly")

	root.AddCommand(resolveCmd, diffCmd, checkCmd)
	return root
}

func (o *options) definition(in *inputs) *definition.Definition {
	unlock := definition.Unlock{All: o.updateAll, Gems: o.update}
	var platforms []gemresolve.Platform
	for _, p := range o.platforms {
		platforms = append(platforms, gemresolve.Platform(p))
	}
	if len(platforms) == 0 {
		platforms = in.manifest.PlatformList()
	}
	return definition.New(in.deps, in.lock, unlock, platforms,
		definition.WithLogger(o.logger),
		definition.WithSelf(o.selfName, o.selfVersion),
		definition.WithResolverOptions(bundler.WithMetrics(bundler.NewMetrics(o.registry))))
}

func runResolve(ctx context.Context, w io.Writer, o *options) error {
	in, err := load(ctx, o)
	if err != nil {
		return err
	}
	d := o.definition(in)
	pool, err := d.Pool(in.sources)
	if err != nil {
		return err
	}
	specs, err := d.Specs(ctx, pool)
	if err != nil {
		return err
	}
	if o.printLock {
		data, err := manifest.EncodeLock(&definition.Lock{
			Dependencies: in.deps,
			Specs:        specs,
			Platforms:    d.Platforms(),
		})
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	ch, err := d.Changes(ctx, pool)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GEM\tVERSION\tPLATFORM\tSOURCE")
	for _, c := range specs.Candidates() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Version, c.Platform, c.Source)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !ch.Empty() {
		fmt.Fprintf(w, "\n%s", ch)
	}
	return o.dumpMetrics(w)
}

func runDiff(ctx context.Context, w io.Writer, o *options) error {
	in, err := load(ctx, o)
	if err != nil {
		return err
	}
	d := o.definition(in)
	pool, err := d.Pool(in.sources)
	if err != nil {
		return err
	}
	ch, err := d.Changes(ctx, pool)
	if err != nil {
		return err
	}
	if ch.Empty() {
		fmt.Fprintln(w, "no changes")
	} else {
		fmt.Fprint(w, ch)
	}
	return o.dumpMetrics(w)
}

func runCheck(ctx context.Context, w io.Writer, o *options) error {
	in, err := load(ctx, o)
	if err != nil {
		return err
	}
	if in.lock == nil {
		return fmt.Errorf("no lock at %s", o.lock)
	}
	if err := o.definition(in).EnsureEquivalent(o.deployment); err != nil {
		return err
	}
	fmt.Fprintln(w, "The Gemfile's dependencies are satisfied")
	return nil
}

func (o *options) dumpMetrics(w io.Writer) error {
	if !o.metrics {
		return nil
	}
	mfs, err := o.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	fmt.Fprintln(w)
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

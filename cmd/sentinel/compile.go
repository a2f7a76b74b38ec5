package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sentinelhq/sentinel/internal/artifact"
	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/ledger"
)

func newCompileCmd() *cobra.Command {
	var appUUID string
	var outDir string
	var showDiff bool
	var hostDocs bool

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile an application's firewall into engine documents without deploying",
		RunE: func(cmd *cobra.Command, args []string) error {
			if appUUID == "" {
				return errors.New("--app is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			set, err := compileApp(cfg, appUUID, hostDocs)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if outDir == "" {
				for _, a := range set {
					fmt.Fprintf(out, "--- %s\n%s", a.RemotePath, a.Content)
				}
				return nil
			}

			layout := artifact.Layout{Root: cfg.Engine.ConfigRoot}
			before, err := readStaged(outDir, layout)
			if err != nil {
				return err
			}
			if showDiff {
				diff, err := artifact.Diff(before, set)
				if err != nil {
					return err
				}
				if diff == "" {
					fmt.Fprintln(out, "no changes")
				} else {
					fmt.Fprint(out, diff)
				}
			}

			for _, stale := range ledger.Difference(before.Paths(), set.Paths()) {
				if err := os.Remove(filepath.Join(outDir, filepath.FromSlash(layout.Rel(stale)))); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
			}
			local, err := artifact.Stage(outDir, layout, set)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %d files to %s\n", len(local), outDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&appUUID, "app", "", "Application UUID to compile")
	cmd.Flags().StringVar(&outDir, "out", "", "Write the documents under this directory (default stdout)")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "Show a diff against what --out already holds")
	cmd.Flags().BoolVar(&hostDocs, "host-docs", false, "Include the shared parser and acquisition documents")

	return cmd
}

func compileApp(cfg *config.Config, appUUID string, hostDocs bool) (artifact.Set, error) {
	app, ok := cfg.Application(appUUID)
	if !ok {
		return nil, fmt.Errorf("unknown application %q", appUUID)
	}
	builder := newBuilder(cfg)
	set, diags, err := builder.Build(app)
	if err != nil {
		return nil, err
	}
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "warning: rule %s: %s\n", d.RuleID, describeDiagnostic(d))
	}
	if hostDocs {
		docs, err := builder.HostDocuments()
		if err != nil {
			return nil, err
		}
		set = append(set, docs...)
	}
	return set, nil
}

func readStaged(dir string, layout artifact.Layout) (artifact.Set, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return artifact.ReadStaged(dir, layout)
}

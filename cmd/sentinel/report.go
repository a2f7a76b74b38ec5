package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinelhq/sentinel/internal/report"
)

func newReportCmd() *cobra.Command {
	var inputPath string
	var since string
	var appUUID string
	var format string
	var outPath string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize the deployment journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				if cfg.Logging.Journal == "" {
					return errors.New("input path is required")
				}
				inputPath = cfg.ResolvePath(cfg.Logging.Journal)
			}

			reader := report.Reader{AppUUID: appUUID}
			if since != "" {
				dur, err := time.ParseDuration(since)
				if err != nil {
					return fmt.Errorf("invalid since duration: %w", err)
				}
				reader.Since = time.Now().Add(-dur)
			}

			records, err := reader.Read(inputPath)
			if err != nil {
				return err
			}

			summary := report.Summarize(records)
			switch format {
			case "", "text":
				return report.WriteOutput(outPath, []byte(report.RenderText(summary)))
			case "md":
				return report.WriteOutput(outPath, []byte(report.RenderMarkdown(summary)))
			case "json":
				data, err := report.RenderJSON(summary)
				if err != nil {
					return err
				}
				return report.WriteOutput(outPath, data)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringVar(&inputPath, "in", "", "Path to the deployment journal (default logging.journal from config)")
	cmd.Flags().StringVar(&since, "since", "", "Only include entries newer than this duration (e.g. 24h)")
	cmd.Flags().StringVar(&appUUID, "app", "", "Only include this application")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|md|json")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file path (default stdout)")

	return cmd
}

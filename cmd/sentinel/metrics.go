package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinelhq/sentinel/internal/metrics"
)

func newMetricsCmd() *cobra.Command {
	var appUUID string
	var window time.Duration
	var format string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show allowed and blocked traffic for an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			if appUUID == "" {
				return errors.New("--app is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, ok := cfg.Application(appUUID)
			if !ok {
				return fmt.Errorf("unknown application %q", appUUID)
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.reconciler()
			if err != nil {
				return err
			}
			target, ok := rt.resolver().Target(cmd.Context(), app.Server)
			if !ok {
				return fmt.Errorf("unknown server %q", app.Server)
			}
			report := rec.Metrics(cmd.Context(), appUUID, target, window)

			out := cmd.OutOrStdout()
			switch format {
			case "", "text":
				printMetrics(out, report)
				return nil
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringVar(&appUUID, "app", "", "Application UUID")
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "How far back to look")
	cmd.Flags().StringVar(&format, "format", "text", "Output format: text|json")

	return cmd
}

func printMetrics(w io.Writer, r metrics.Report) {
	fmt.Fprintf(w, "Application: %s\n", r.AppUUID)
	fmt.Fprintf(w, "Window: %s\n", r.Window)
	fmt.Fprintf(w, "Requests: %d (allowed %d, blocked %d)\n", r.Total, r.Allowed, r.Blocked)
	fmt.Fprintf(w, "Feeds: engine=%s proxy=%s\n", r.Feeds.Engine, r.Feeds.Proxy)
	if r.Approximate {
		fmt.Fprintln(w, "Counts are approximate: the two feeds overlap.")
	}
	if len(r.Hourly) > 0 {
		fmt.Fprintln(w, "Hourly:")
		for _, b := range r.Hourly {
			fmt.Fprintf(w, "  %s  allowed=%d blocked=%d\n", b.Hour, b.Allowed, b.Blocked)
		}
	}
	if len(r.Recent) > 0 {
		fmt.Fprintln(w, "Recent:")
		for _, e := range r.Recent {
			fmt.Fprintf(w, "  %s %-7s %-15s %s %s %s\n",
				e.Timestamp.Format(time.RFC3339), e.Action, e.IP, e.Country, e.Method, firstNonEmpty(e.Path, e.Scenario))
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

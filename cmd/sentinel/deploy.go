package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sentinelhq/sentinel/internal/deploy"
	"github.com/sentinelhq/sentinel/internal/policy"
)

func newDeployCmd() *cobra.Command {
	var appUUID string

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Compile and push firewall rules to their servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			apps := cfg.Applications
			if appUUID != "" {
				app, ok := cfg.Application(appUUID)
				if !ok {
					return fmt.Errorf("unknown application %q", appUUID)
				}
				apps = []policy.Application{app}
			}

			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			failed := 0
			for _, app := range apps {
				host, err := rt.host(app.Server)
				if err != nil {
					return err
				}
				res, err := rt.orch.Deploy(cmd.Context(), app, host)
				if err != nil {
					failed++
					fmt.Fprintf(out, "%s on %s: FAILED: %v\n", app.UUID, host.Name, err)
					continue
				}
				fmt.Fprintf(out, "%s on %s: ok, %d written, %d removed, %d warnings\n",
					app.UUID, host.Name, len(res.Written), len(res.Removed), len(res.Diagnostics))
				for _, d := range res.Diagnostics {
					fmt.Fprintf(out, "  warning: rule %s: %s\n", d.RuleID, describeDiagnostic(d))
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deployments failed", failed, len(apps))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&appUUID, "app", "", "Only deploy this application (default all)")

	return cmd
}

func newHealthCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the engine on each server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			names := []string{server}
			if server == "" {
				names = names[:0]
				for _, s := range cfg.Servers {
					names = append(names, s.Name)
				}
			}

			unhealthy := 0
			for _, name := range names {
				host, err := rt.host(name)
				if err != nil {
					return err
				}
				report := rt.orch.Health(cmd.Context(), host)
				printHealth(cmd.OutOrStdout(), report)
				if !report.Healthy {
					unhealthy++
				}
			}
			if unhealthy > 0 {
				return fmt.Errorf("%d server(s) unhealthy", unhealthy)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Only check this server (default all)")

	return cmd
}

func printHealth(w io.Writer, r deploy.HealthReport) {
	state := "healthy"
	if !r.Healthy {
		state = "unhealthy"
	}
	version := ""
	if r.Version != "" {
		version = " (" + r.Version + ")"
	}
	fmt.Fprintf(w, "%s: %s%s\n", r.Server, state, version)
	for _, c := range r.Checks {
		mark := "ok"
		if !c.OK {
			mark = "FAIL"
		}
		line := fmt.Sprintf("  %-20s %s", c.Name, mark)
		if c.Message != "" {
			line += "  " + c.Message
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func newInstallCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the engine container and host bouncer on a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				return errors.New("--server is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			s, ok := cfg.Server(server)
			if !ok {
				return fmt.Errorf("unknown server %q", server)
			}
			if err := rt.orch.Install(cmd.Context(), cfg.Host(s), s.APIURL); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: engine installed\n", server)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Server to install on")

	return cmd
}

func newRemoveCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Stop the engine on a server and unwire the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				return errors.New("--server is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			host, err := rt.host(server)
			if err != nil {
				return err
			}
			if err := rt.orch.Remove(cmd.Context(), host); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: engine removed\n", server)
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "Server to remove the engine from")

	return cmd
}

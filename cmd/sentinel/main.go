package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentinelhq/sentinel/internal/config"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			for _, msg := range verr.Problems {
				fmt.Fprintln(os.Stderr, msg)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sentinel",
		Short:        "Compile and deploy per-application WAF rules to CrowdSec",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to config file (env SENTINEL_CONFIG)")
	root.PersistentFlags().String("log-level", "", "Override the configured log level (env SENTINEL_LOG_LEVEL)")
	root.PersistentFlags().String("log-format", "", "Override the configured log format: json|console (env SENTINEL_LOG_FORMAT)")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", root.PersistentFlags().Lookup("log-format"))

	cobra.OnInitialize(func() {
		viper.AutomaticEnv()
		viper.SetEnvPrefix("SENTINEL")
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	})

	root.AddCommand(newValidateCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newCompileCmd())
	root.AddCommand(newDeployCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newInstallCmd())
	root.AddCommand(newRemoveCmd())
	root.AddCommand(newMetricsCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newKeygenCmd())
	root.AddCommand(newTemplatesCmd())

	return root
}

// loadConfig reads and validates the config named by --config or
// SENTINEL_CONFIG, then applies logging overrides from flags or env.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return nil, errors.New("config path is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if level := viper.GetString("log.level"); level != "" {
		cfg.Logging.Level = level
	}
	if format := viper.GetString("log.format"); format != "" {
		cfg.Logging.Format = format
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and compile every application",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			builder := newBuilder(cfg)
			out := cmd.OutOrStdout()
			for _, app := range cfg.Applications {
				_, diags, err := builder.Build(app)
				if err != nil {
					return fmt.Errorf("application %s: %w", app.UUID, err)
				}
				for _, d := range diags {
					fmt.Fprintf(out, "warning: %s rule %s: %s\n", app.UUID, d.RuleID, describeDiagnostic(d))
				}
			}
			if _, err := fmt.Fprintln(out, "config ok"); err != nil {
				return err
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version=%s commit=%s buildDate=%s\n", version, commit, buildDate)
		},
	}
}

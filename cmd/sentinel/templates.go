package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sentinelhq/sentinel/internal/policy"
)

func newTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List ready-made firewall rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tCATEGORY\tSEVERITY\tRULE")
			for _, t := range policy.Templates() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Key, t.Category, t.Severity, t.Rule.Name)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(newTemplatesShowCmd(), newTemplatesGeoCmd())
	return cmd
}

func newTemplatesShowCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Print a template as a rule entry for firewall.rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := policy.LookupTemplate(args[0])
			if !ok {
				return fmt.Errorf("unknown template %q", args[0])
			}
			if id == "" {
				id = t.Key
			}
			var fw policy.FirewallConfig
			return writeRule(cmd, fw.AddRule(id, t.Rule))
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Rule id to use (default the template key)")
	return cmd
}

func newTemplatesGeoCmd() *cobra.Command {
	var id string
	var countries string
	var allowOnly bool

	cmd := &cobra.Command{
		Use:   "geo",
		Short: "Print a country rule as a rule entry for firewall.rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			codes := policy.SplitList(countries)
			if len(codes) == 0 {
				return fmt.Errorf("--countries is required")
			}
			var fw policy.FirewallConfig
			return writeRule(cmd, fw.AddRule(id, policy.GeoRule(codes, allowOnly)))
		},
	}

	cmd.Flags().StringVar(&id, "id", "geo", "Rule id to use")
	cmd.Flags().StringVar(&countries, "countries", strings.Join(policy.HighRiskCountries, ","), "Comma separated ISO country codes")
	cmd.Flags().BoolVar(&allowOnly, "allow-only", false, "Ban every country except the listed ones")
	return cmd
}

func writeRule(cmd *cobra.Command, rule policy.FirewallRule) error {
	if problems := (policy.FirewallConfig{Rules: []policy.FirewallRule{rule}}).RuleProblems(); len(problems) > 0 {
		return fmt.Errorf("invalid rule: %s", strings.Join(problems, "; "))
	}
	data, err := yaml.Marshal([]policy.FirewallRule{rule})
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

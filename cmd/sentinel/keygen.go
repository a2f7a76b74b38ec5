package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sentinelhq/sentinel/internal/secrets"
)

func newKeygenCmd() *cobra.Command {
	var outPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate the key that seals stored bouncer credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.GenerateKey()
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), key)
				return err
			}
			if _, err := os.Stat(outPath); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to replace it", outPath)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(outPath), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(outPath, []byte(key+"\n"), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key written to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "Write the key to this file (default stdout)")
	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing key file")

	return cmd
}

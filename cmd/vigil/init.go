package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chris-regnier/vigil/internal/config"
)

var flagInitForce bool

func init() {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default configuration file",
		Long: `Write the default configuration to the file named by --config
(.vigil.yaml) and create the project rule and policy directories.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := writeInitConfig(flagConfig, flagInitForce); err != nil {
				return err
			}
			for _, dir := range []string{projectRulesDir, projectRegoDir} {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", flagConfig)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&flagInitForce, "force", false, "Overwrite an existing configuration file")

	rootCmd.AddCommand(initCmd)
}

// writeInitConfig writes config.DefaultYAML to path, refusing to replace an
// existing file unless force is set.
func writeInitConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(config.DefaultYAML), 0644)
}

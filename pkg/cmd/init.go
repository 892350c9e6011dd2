package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/logandonley/backstore/pkg/config"
	"github.com/spf13/cobra"
)

// DefaultConfigPath returns $HOME/.config/backstore/config.yaml
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "backstore", "config.yaml"), nil
}

// InitCmd returns the init command
func InitCmd() *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a configuration file with every option set to its default value.
Edit the storage section afterwards to point at your backup server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := output
			if configPath == "" {
				var err error
				if configPath, err = DefaultConfigPath(); err != nil {
					return err
				}
			}

			if !force {
				if _, err := os.Stat(configPath); err == nil {
					return fmt.Errorf("%s already exists, use --force to overwrite", configPath)
				}
			}

			if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
				return fmt.Errorf("failed to create config directory: %w", err)
			}

			data, err := config.Default().Marshal()
			if err != nil {
				return fmt.Errorf("failed to render default config: %w", err)
			}

			// The file may later hold credentials
			if err := os.WriteFile(configPath, data, 0600); err != nil {
				return fmt.Errorf("failed to create config file: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Config file created at: %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "where to write the config file (default is $HOME/.config/backstore/config.yaml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")

	return cmd
}

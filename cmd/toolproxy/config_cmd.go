package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mfgintel/toolproxy/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and check configuration files",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init PATH",
		Short: "Write a sample configuration (format follows the extension)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.SaveConfig(config.SampleConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report every problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, v)
			if err != nil {
				return err
			}
			servers, err := cfg.Descriptors()
			if err != nil {
				return fmt.Errorf("%w: %w", config.ErrInvalid, err)
			}
			if len(servers) == 0 {
				return fmt.Errorf("%w: no servers configured", config.ErrInvalid)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %d server(s)\n", len(servers))
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

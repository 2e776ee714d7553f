package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mfgintel/toolproxy/internal/config"
)

var (
	configFile string

	// v carries TOOLPROXY_* environment variables and the bound flags
	v *viper.Viper

	version = "v0.1.0" // injected by -ldflags during build
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		if !isReported(err) {
			reportError(os.Stderr, err)
		}
		os.Exit(exitCodeFor(err))
	}
}

func newRootCommand() *cobra.Command {
	v = config.NewViper()

	rootCmd := &cobra.Command{
		Use:           "toolproxy",
		Short:         "Tool-invocation proxy for multi-tenant JSON-RPC tool servers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "Configuration file path (.yaml, .json or .toml)")
	flags.StringP("data-dir", "d", "", "Data directory path (default: ~/.toolproxy)")
	flags.String("log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.Bool("log-to-file", false, "Also write logs to a rotated file")
	flags.String("log-dir", "", "Custom log directory path (overrides standard OS location)")

	mustBind(config.KeyDataDir, flags.Lookup("data-dir"))
	mustBind(config.KeyLogLevel, flags.Lookup("log-level"))
	mustBind(config.KeyLogToFile, flags.Lookup("log-to-file"))
	mustBind(config.KeyLogDir, flags.Lookup("log-dir"))

	rootCmd.AddCommand(
		newServeCommand(),
		newCallCommand(),
		newHealthCommand(),
		newSecretsCommand(),
		newConfigCommand(),
		newVersionCommand(),
	)
	return rootCmd
}

// mustBind makes flag an override source for key; viper only reports it as
// set once the user actually passed the flag
func mustBind(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag for %s: %v", key, err))
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the toolproxy version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "toolproxy %s\n", version)
		},
	}
}

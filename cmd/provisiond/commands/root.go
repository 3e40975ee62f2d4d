// Package commands implements the provisiond command line.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isometry/dirprov/internal/config"
	"github.com/isometry/dirprov/internal/daemon"
)

var (
	Version = "dev"
	Commit  = "none"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "provisiond",
	Short: "Directory-backed mail account provisioning",
	Long: `provisiond manages mail domains, accounts and classes of service stored
in an LDAP directory, and provisions accounts from external directories.

Settings are read from --config and from PROVISIOND_* environment variables,
for example PROVISIOND_DIRECTORY_URLS or PROVISIOND_LOGGING_LEVEL.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file (YAML, TOML or JSON)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(pollCmd)
}

// setup loads the configuration and builds a daemon whose loggers hang off
// the returned context.
func setup(ctx context.Context) (context.Context, *daemon.Daemon, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	ctx = daemon.NewLogContext(ctx, cfg.Logging)

	d, err := daemon.New(ctx, daemon.Options{Config: cfg})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start: %w", err)
	}
	return ctx, d, nil
}

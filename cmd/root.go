// Package cmd defines the CLI commands for the mediagate executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/mediagate/internal/config"
	"github.com/JakeFAU/mediagate/internal/server"
)

var cfgFile string

// App is what the serve command runs. Tests swap in a fake.
type App interface {
	Run(ctx context.Context) error
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(cfg *config.Config) (App, error) {
	return server.Build(cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mediagate",
		Short: "An HTTP gateway for media metadata, format listing and downloads.",
		Long: `mediagate wraps an external media extraction tool behind a small JSON API.
It analyzes media URLs, lists their formats, downloads them to a local
directory and serves the results, with caching, per-client rate limiting
and anti-bot retries.`,
		SilenceUsage: true,
		// Running without a subcommand serves, matching the container entrypoint.
		RunE: runServeCommand,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML/JSON/TOML); env vars use the MEDIAGATE_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mediagate: %v\n", err)
		os.Exit(1)
	}
}

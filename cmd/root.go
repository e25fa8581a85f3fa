// Package cmd defines the usm command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shivamtherexpandey/usm-app/internal/config"
	"github.com/shivamtherexpandey/usm-app/internal/server"
)

type configKey struct{}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "usm",
		Short: "URL summarization service",
		Long: `usm accepts web page URLs, summarizes them asynchronously with a
language model, and serves the results to their owners.`,
		SilenceUsage: true,

		// Config is loaded once here and handed to subcommands through the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, &cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); USM_* environment variables override it")

	cmd.AddCommand(newServeCmd(), newWorkerCmd(), newMigrateCmd())
	return cmd
}

func configFrom(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey{}).(*config.Config)
	if !ok || cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}

func runApp(cmd *cobra.Command, mode server.Mode) error {
	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	app, err := server.Build(cmd.Context(), cfg, mode)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	return app.Run(cmd.Context())
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

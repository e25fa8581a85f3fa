package cmd

import (
	"github.com/spf13/cobra"

	"github.com/shivamtherexpandey/usm-app/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves the account and summary endpoints. When worker.embedded is true
the worker pool runs in the same process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd, server.ModeServe)
		},
	}
}

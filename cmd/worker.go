package cmd

import (
	"github.com/spf13/cobra"

	"github.com/shivamtherexpandey/usm-app/internal/server"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the summarization worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd, server.ModeWorker)
		},
	}
}

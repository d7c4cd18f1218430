package main

import (
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "sagad",
		Short:         "Order saga processes",
		Long:          "Run the orchestrator, the order service or a saga participant against Kafka.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML or JSON config file")

	cmd.AddCommand(
		newOrchestratorCmd(opts),
		newOrderCmd(opts),
		newParticipantCmd(opts),
		newAdminCmd(opts),
	)
	return cmd
}

package cmd

import (
	"localtube/internal/config"
	"localtube/internal/server"

	"github.com/spf13/cobra"
)

func refreshCmd() *cobra.Command {
	var force bool
	var command = &cobra.Command{
		Use:   "refresh",
		Short: "Refresh due sources once and exit when the queue drains",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return server.RefreshOnce(cfg, force)
		},
	}

	command.Flags().BoolVar(&force, "force", false, "Refresh every source, ignoring its refresh frequency")
	return command
}

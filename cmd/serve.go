package cmd

import (
	"localtube/internal/config"
	"localtube/internal/server"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port int
	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the API server, media watcher and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			log.Info().
				Int("port", cfg.Server.Port).
				Int("concurrency", cfg.Tasks.Concurrency).
				Str("media_dir", cfg.Library.MediaDir).
				Msg("starting localtube")
			return server.Run(cfg)
		},
	}

	command.Flags().IntVarP(&port, "port", "p", 8080, "Port to run the server on")
	return command
}

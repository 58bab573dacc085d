package main

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/crjfisher/bergamot/internal/app"
	"github.com/crjfisher/bergamot/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the ingestion core's HTTP ingress and consumer loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg)
		if err != nil {
			return err
		}

		log.Info().Int("port", cfg.Port).Msg("bergamotd ready")
		return a.Run(ctx)
	},
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Combine-Capital/cqweb/pkg/app"
	"github.com/Combine-Capital/cqweb/pkg/service"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: "Build the application context (pool, schema, statements, messages, sessions, views) " +
			"and serve HTTP until SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			actx, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := actx.Close(context.Background()); err != nil {
					actx.Logger.Error().Err(err).Msg("cleanup failed")
				}
			}()

			if err := registerRoutes(actx); err != nil {
				return err
			}

			svc := actx.HTTPService()
			if err := svc.Start(ctx); err != nil {
				return err
			}
			actx.Logger.Info().Str("addr", svc.Addr()).Msg("serving")

			return service.WaitForShutdownWithConfig(ctx, actx.Logger, service.ShutdownConfig{
				Timeout: cfg.Server.ShutdownTimeout,
			}, svc)
		},
	}
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/specbot/internal/config"
	"github.com/haasonsaas/specbot/internal/observability"
	"github.com/haasonsaas/specbot/internal/runtime"
)

const shutdownTimeout = 15 * time.Second

func newRunCommand() *cobra.Command {
	var configFlag string
	var specFlag string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath(configFlag))
			if err != nil {
				return err
			}
			if specFlag != "" {
				cfg.Spec.Path = specFlag
			}

			logger := observability.Setup(observability.LogConfig{
				Level:     cfg.Logging.Level,
				Format:    cfg.Logging.Format,
				AddSource: cfg.Logging.AddSource,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := runtime.New(ctx, cfg, runtime.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := rt.Start(ctx); err != nil {
				rt.Stop(context.Background())
				return err
			}

			<-ctx.Done()
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return rt.Stop(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "path to config file (default: specbot.yaml)")
	cmd.Flags().StringVarP(&specFlag, "spec", "s", "", "path to spec document (overrides config)")
	return cmd
}

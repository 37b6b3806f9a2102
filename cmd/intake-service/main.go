package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"enrollsync/internal/constants"
	"enrollsync/pkg/bootstrap"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceIntake,
		Short: "Enrollment event intake",
		Long:  "Intake Service files inbound enrollment event notifications into open batches",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start consuming enrollment events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap.Setup(configFile)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Intake Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				_ = app.Shutdown(context.Background())
				return err
			}

			runErr := app.Run(ctx)
			if err := app.Shutdown(context.Background()); err != nil {
				log.ErrorwCtx(ctx, "Shutdown failed", "error", err)
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
				return runErr
			}
			log.InfowCtx(ctx, "Service shutdown complete")
			return nil
		},
	}
}

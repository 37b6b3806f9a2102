package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"enrollsync/internal/config"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	"enrollsync/pkg/bootstrap"
)

var configFile string

type service interface {
	Initialize(ctx context.Context) error
	Run(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceProcessor,
		Short: "Enrollment batch processor",
		Long:  "Batch Processor reconciles cut batches of enrollment events into enrollment actions",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(requeueCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start processing cut batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run("Batch Processor", func(cfg *config.Config, log logger.Logger) service {
				return NewApp(cfg, log)
			})
		},
	}
}

func requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue",
		Short: "Move dead-lettered messages back to their topics after the requeue delay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run("Requeuer", func(cfg *config.Config, log logger.Logger) service {
				return NewRequeueApp(cfg, log)
			})
		},
	}
}

func run(name string, build func(*config.Config, logger.Logger) service) error {
	cfg, log, err := bootstrap.Setup(configFile)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.InfowCtx(ctx, "Starting "+name)

	app := build(cfg, log)
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
}

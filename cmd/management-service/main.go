package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "enrollsync/cmd/management-service/docs"
	"enrollsync/internal/constants"
	"enrollsync/pkg/bootstrap"
)

var configFile string

// @title           Enrollsync Management API
// @version         1.0
// @description     REST API for action rules, batches and the enrollment audit trail

// @contact.name   Enrollsync Maintainers

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /api/v1

// @schemes   http https

func main() {
	rootCmd := &cobra.Command{
		Use:   constants.ServiceManagement,
		Short: "Management Service for enrollsync",
		Long:  "Management Service provides the REST API for action rules, batches and audit records",
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
		Short: "Start the management service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap.Setup(configFile)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Management Service")

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
				log.ErrorwCtx(ctx, "Application error", "error", runErr)
				return runErr
			}
			return nil
		},
	}
}

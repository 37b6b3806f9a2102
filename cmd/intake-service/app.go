package main

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/sync/errgroup"

	"enrollsync/internal/audit"
	"enrollsync/internal/batch"
	"enrollsync/internal/config"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	"enrollsync/internal/outcome"
	"enrollsync/pkg/bootstrap"
	"enrollsync/pkg/health"
	"enrollsync/pkg/metrics"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	intake      *batch.IntakeService
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServiceIntake),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.RegisterIntakeMetrics()
	metrics.RegisterBrokerMetrics()

	if err := a.InitTracing(); err != nil {
		return err
	}

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	a.db = db
	a.Health.Register(health.NewPostgreSQLChecker(db))

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	// Malformed events never reach a batch, so they have no transaction to
	// ack and no enrollment action to mark.
	publisher := outcome.NewPublisher(
		audit.NewPostgresStore(db, a.ServiceName),
		nil,
		a.Producer,
		nil,
		a.Config.Broker.Kafka.BroadcastTopic,
		a.Config.Broadcast,
		a.Logger,
	)
	a.intake = batch.NewIntakeService(batch.NewRepository(db, a.ServiceName), publisher, a.Logger)

	a.InitOpsServer()
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeOps(gCtx)
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Consuming enrollment events", "topic", a.Config.Broker.Kafka.InputTopic)
		return a.Consumer.Consume(gCtx, a.Config.Broker.Kafka.InputTopic, a.intake.Accept)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, bootstrap.Stores{Postgres: a.db})
	})
}

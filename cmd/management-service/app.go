package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"enrollsync/internal/audit"
	"enrollsync/internal/batch"
	"enrollsync/internal/broker"
	"enrollsync/internal/config"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	"enrollsync/internal/management"
	"enrollsync/internal/resolver"
	"enrollsync/pkg/bootstrap"
	"enrollsync/pkg/cel"
	"enrollsync/pkg/health"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/middleware"
	"enrollsync/pkg/migrations"
	"enrollsync/pkg/ratelimit"
	"enrollsync/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	mongoClient *mongo.Client
	mongoDB     *mongo.Database
	cutter      *batch.CutService
	scheduler   *batch.CutScheduler
	server      *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServiceManagement),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.RegisterManagementMetrics()
	metrics.RegisterBrokerMetrics()

	if err := a.InitTracing(); err != nil {
		return err
	}

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	producer, err := broker.NewProducer(a.Config.Broker, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	a.Producer = producer
	a.Health.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))

	a.cutter = batch.NewCutService(
		batch.NewRepository(a.db, a.ServiceName),
		producer,
		a.Config.Broker.Kafka.ProcessTopic,
		a.Config.Cut.Limit,
		a.ServiceName,
		a.Logger,
	)

	if a.Config.Cut.Enabled {
		scheduler, err := batch.NewCutScheduler(a.cutter, a.Config.Cut.Cron, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create cut scheduler: %w", err)
		}
		a.scheduler = scheduler
	}

	router, err := a.initRouter(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout(),
		WriteTimeout: a.Config.Server.WriteTimeout(),
	}
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db
	a.Health.Register(health.NewPostgreSQLChecker(db))

	mongoClient, mongoDB, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient
	a.mongoDB = mongoDB
	a.Health.Register(health.NewMongoDBChecker(mongoClient))

	return migrations.EnsureActionRulesCollection(ctx, mongoDB)
}

func (a *App) initRouter(ctx context.Context) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(a.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if rl := a.Config.Management.RateLimit; rl.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: time.Duration(rl.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(rl.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, err
	}

	opts := []management.ServiceOption{
		management.WithChangeLog(management.NewChangeLog(a.db)),
	}
	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		opts = append(opts, management.WithConfigEvents(management.NewConfigEventProducer(a.Producer, topic)))
		a.Logger.InfowCtx(ctx, "Config event producer initialized", "topic", topic)
	}

	svc := management.NewService(management.Deps{
		Rules:      resolver.NewMongoRuleRepository(a.mongoDB),
		Evaluator:  evaluator,
		Batches:    batch.NewRepository(a.db, a.ServiceName),
		Dispatcher: a.cutter,
		Records:    audit.NewPostgresStore(a.db, a.ServiceName),
	}, a.Logger, opts...)

	management.NewHandler(svc, a.Logger).RegisterRoutes(router)

	router.GET("/health", gin.WrapF(a.Health.HTTPHandler()))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return router, nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() {
			defer close(errCh)
			a.Logger.InfowCtx(gCtx, "Server listening", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server error: %w", err)
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-gCtx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), constants.ShutdownTimeout)
			defer cancel()
			return a.server.Shutdown(shutdownCtx)
		}
	})

	if a.scheduler != nil {
		g.Go(func() error {
			return a.scheduler.Run(gCtx)
		})
	}

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		return a.dbConnector.ShutdownDatabases(ctx, bootstrap.Stores{
			Postgres: a.db,
			Mongo:    a.mongoClient,
		})
	})
}

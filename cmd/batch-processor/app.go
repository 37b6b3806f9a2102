package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"enrollsync/internal/audit"
	"enrollsync/internal/batch"
	"enrollsync/internal/broker"
	"enrollsync/internal/config"
	"enrollsync/internal/config_handler"
	"enrollsync/internal/constants"
	"enrollsync/internal/filters"
	"enrollsync/internal/logger"
	"enrollsync/internal/outcome"
	"enrollsync/internal/pipeline"
	"enrollsync/internal/policy"
	"enrollsync/internal/resolver"
	"enrollsync/pkg/bootstrap"
	"enrollsync/pkg/health"
	"enrollsync/pkg/metrics"
	"enrollsync/pkg/migrations"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	resolver       *resolver.Resolver
	processor      *batch.Processor
	configConsumer broker.Consumer
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log, constants.ServiceProcessor),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	metrics.RegisterProcessorMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.InitTracing(); err != nil {
		return err
	}

	if err := a.initStores(ctx); err != nil {
		return err
	}

	if err := a.initResolver(ctx); err != nil {
		return fmt.Errorf("failed to initialize resolver: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	a.initProcessor()
	a.InitOpsServer()
	return nil
}

func (a *App) initStores(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	a.db = db
	a.Health.Register(health.NewPostgreSQLChecker(db))

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.redis = rdb
	if rdb != nil {
		a.Health.RegisterOptional(health.NewRedisChecker(rdb))
	}

	mongoClient, mongoDB, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize MongoDB: %w", err)
	}
	a.mongoClient = mongoClient
	a.Health.Register(health.NewMongoDBChecker(mongoClient))

	if err := migrations.EnsureActionRulesCollection(ctx, mongoDB); err != nil {
		return err
	}

	rules := resolver.NewMongoRuleRepository(mongoDB)
	r, err := resolver.NewResolver(rules, a.Config.Resolver, a.Logger.Named("resolver"))
	if err != nil {
		return err
	}
	a.resolver = r
	return nil
}

// initResolver loads the rule table before the first batch runs; on failure
// the defaults stay in place and the reloader retries.
func (a *App) initResolver(ctx context.Context) error {
	if err := a.resolver.ReloadRules(ctx, true); err != nil {
		a.Logger.WarnwCtx(ctx, "Initial rule load failed, running with default rules", "error", err)
	}
	return nil
}

func (a *App) initProcessor() {
	store := audit.NewPostgresStore(a.db, a.ServiceName)
	repo := batch.NewRepository(a.db, a.ServiceName)

	var cache audit.Cache
	if a.redis != nil {
		cache = audit.NewRedisCache(a.redis)
		if a.Config.CircuitBreaker.Enabled {
			cache = audit.NewCircuitBreakerCache(cache, a.Config.CircuitBreaker)
		}
	}
	index := audit.NewProcessedIndex(cache, store, a.Config.Processing, a.Logger)

	var policies policy.Repository = policy.NewRepository(a.db, a.ServiceName)
	if a.Config.CircuitBreaker.Enabled {
		policies = policy.NewCircuitBreakerRepository(policies, a.Config.CircuitBreaker)
		a.Logger.Info("Circuit breakers enabled for processed index and policy repository")
	}

	publisher := outcome.NewPublisher(
		store,
		index,
		a.Producer,
		repo,
		a.Config.Broker.Kafka.BroadcastTopic,
		a.Config.Broadcast,
		a.Logger,
	)

	runner := pipeline.NewRunner(pipeline.Deps{
		Policies:    policies,
		Processed:   index,
		Carrier:     filters.CarrierTerminatedOn,
		Resolver:    a.resolver,
		Recorder:    publisher,
		Producer:    a.Producer,
		ActionTopic: a.Config.Broker.Kafka.ActionTopic,
		Source:      a.ServiceName,
	}, a.Logger)

	a.processor = batch.NewProcessor(repo, runner, publisher, a.Logger)
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.ServeOps(gCtx)
	})

	g.Go(func() error {
		return a.resolver.StartReloader(gCtx)
	})

	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		consumer, err := a.newConfigConsumer()
		if err != nil {
			a.Logger.WarnwCtx(ctx, "Failed to create config event consumer, event-driven reload disabled",
				"error", err,
			)
		} else {
			a.configConsumer = consumer
			handler := config_handler.NewRuleHandler(a.resolver, a.Logger.Named("config_handler"))
			g.Go(func() error {
				a.Logger.InfowCtx(gCtx, "Starting config update event consumer", "topic", topic)
				return consumer.Consume(gCtx, topic, handler.HandleConfigUpdateEvent)
			})
		}
	}

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Consuming process messages", "topic", a.Config.Broker.Kafka.ProcessTopic)
		return a.Consumer.Consume(gCtx, a.Config.Broker.Kafka.ProcessTopic, a.processor.Handle)
	})

	return g.Wait()
}

// newConfigConsumer joins a group of its own so that every processor
// replica sees every config update.
func (a *App) newConfigConsumer() (broker.Consumer, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, err
	}
	brokerCfg := a.Config.Broker
	brokerCfg.Kafka.GroupID = fmt.Sprintf("%s-config-%s", brokerCfg.Kafka.GroupID, host)
	brokerCfg.Kafka.DLQTopic = ""

	consumer, err := broker.NewConsumer(brokerCfg, a.Logger)
	if err != nil {
		return nil, err
	}
	consumer.SetServiceName(a.ServiceName)
	return consumer, nil
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error
		if a.configConsumer != nil {
			if err := a.configConsumer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("config consumer close error: %w", err))
			}
		}
		return append(errs, a.dbConnector.ShutdownDatabases(ctx, bootstrap.Stores{
			Postgres: a.db,
			Redis:    a.redis,
			Mongo:    a.mongoClient,
		})...)
	})
}

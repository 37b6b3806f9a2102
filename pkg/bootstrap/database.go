package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"enrollsync/internal/config"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	"enrollsync/pkg/migrations"
)

// Stores groups the connections a service opened. Any of them may be nil
// when the service does not need that store.
type Stores struct {
	Postgres *sql.DB
	Redis    *redis.Client
	Mongo    *mongo.Client
}

type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// InitPostgreSQL opens the batch and audit database. Every enrollsync
// service needs it, so a missing host is an error rather than a skip.
func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	pg := dc.Config.Database.Postgres
	if pg.Host == "" {
		return nil, fmt.Errorf("database.postgres.host is not configured")
	}

	sslMode := pg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pg.User, pg.Password, pg.Host, pg.Port, pg.DBName, sslMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dc.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(db, dc.Config.Database.MigrationsPath); err != nil {
			db.Close()
			return nil, err
		}
		dc.Logger.Infow("PostgreSQL migrations applied", "path", dc.Config.Database.MigrationsPath)
	}

	dc.Logger.Info("PostgreSQL connected successfully")
	return db, nil
}

// InitRedis returns nil when no Redis host is configured; the processed
// index then answers from the audit table alone.
func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	if dc.Config.Database.Redis.Host == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", dc.Config.Database.Redis.Host, dc.Config.Database.Redis.Port),
		Password: dc.Config.Database.Redis.Password,
		DB:       dc.Config.Database.Redis.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Info("Redis connected successfully")
	return rdb, nil
}

// InitMongoDB opens the action rule store and returns the configured database.
func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, *mongo.Database, error) {
	if dc.Config.Database.MongoDB.URI == "" {
		return nil, nil, fmt.Errorf("database.mongodb.uri is not configured")
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(dc.Config.Database.MongoDB.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := mongoClient.Ping(ctx, nil); err != nil {
		mongoClient.Disconnect(ctx)
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dbName := dc.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}

	dc.Logger.Info("MongoDB connected successfully")
	return mongoClient, mongoClient.Database(dbName), nil
}

func (dc *DatabaseConnector) ShutdownDatabases(ctx context.Context, stores Stores) []error {
	var errs []error

	if stores.Redis != nil {
		if err := stores.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if stores.Postgres != nil {
		if err := stores.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close error: %w", err))
		}
	}

	if stores.Mongo != nil {
		if err := stores.Mongo.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect error: %w", err))
		}
	}

	return errs
}

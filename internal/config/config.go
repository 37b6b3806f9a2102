package config

import (
	"time"
)

// Config is shared by every enrollsync binary; each reads only the
// sections it needs.
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Cut            CutConfig
	Broadcast      BroadcastConfig
	Processing     ProcessingConfig
	Resolver       ResolverConfig
	Management     ManagementConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres       PostgresConfig
	Redis          RedisConfig
	MongoDB        MongoDBConfig
	RunMigrations  bool   `mapstructure:"run_migrations"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig names one topic per listener role. The DLQ topic doubles as
// the retry topic drained by the requeuer.
type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	GroupID           string        `mapstructure:"group_id"`
	InputTopic        string        `mapstructure:"input_topic"`
	ProcessTopic      string        `mapstructure:"process_topic"`
	BroadcastTopic    string        `mapstructure:"broadcast_topic"`
	ActionTopic       string        `mapstructure:"action_topic"`
	ConfigUpdateTopic string        `mapstructure:"config_update_topic"`
	DLQTopic          string        `mapstructure:"dlq_topic"`
	RequeueDelay      time.Duration `mapstructure:"requeue_delay"`
	MaxRequeues       int           `mapstructure:"max_requeues"`
	Retry             RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CutConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Cron    string `mapstructure:"cron"`
	// Limit caps how many open batches one sweep hands off; 0 means no limit.
	Limit int `mapstructure:"limit"`
}

type BroadcastConfig struct {
	Service   string `mapstructure:"service"`
	Component string `mapstructure:"component"`
}

type ProcessingConfig struct {
	ProcessedIndexTTLSeconds int    `mapstructure:"processed_index_ttl_seconds"`
	OnRedisError             string `mapstructure:"on_redis_error"` // "fallback" (default) or "fail"
}

type ResolverConfig struct {
	Reload ReloadConfig `mapstructure:"reload"`
}

type ReloadConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`
	JitterMaxMilliseconds int `mapstructure:"jitter_max_milliseconds"`
}

type ManagementConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}

func (s ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutSeconds) * time.Second
}

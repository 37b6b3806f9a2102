package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

var defaults = map[string]interface{}{
	"server.port":                  8080,
	"server.read_timeout_seconds":  10,
	"server.write_timeout_seconds": 10,

	"broker.type":                      "kafka",
	"broker.kafka.input_topic":         "enrollment_events",
	"broker.kafka.process_topic":       "enrollment_batch_process",
	"broker.kafka.broadcast_topic":     "enrollment_event_outcomes",
	"broker.kafka.action_topic":        "enrollment_actions",
	"broker.kafka.config_update_topic": "config_updates",
	"broker.kafka.requeue_delay":       "30s",
	"broker.kafka.max_requeues":        5,
	"broker.kafka.retry.multiplier":    2.0,

	"database.migrations_path": "migrations/postgres",

	"logging.level":  "info",
	"logging.format": "json",

	"cut.cron": "*/5 * * * *",

	"broadcast.service":   "enrollsync",
	"broadcast.component": "enrollment_events",

	"processing.processed_index_ttl_seconds": 0,
	"processing.on_redis_error":              "fallback",

	"resolver.reload.interval_seconds": 60,
}

// envKeys may be set from the environment even when the file omits them.
// The variable name is the key upper-cased with dots turned into
// underscores, e.g. DATABASE_POSTGRES_HOST.
var envKeys = []string{
	"broker.kafka.brokers",
	"broker.kafka.group_id",
	"broker.kafka.input_topic",
	"broker.kafka.process_topic",
	"broker.kafka.broadcast_topic",
	"broker.kafka.action_topic",
	"broker.kafka.config_update_topic",
	"broker.kafka.dlq_topic",

	"database.run_migrations",
	"database.postgres.host",
	"database.postgres.port",
	"database.postgres.user",
	"database.postgres.password",
	"database.postgres.dbname",
	"database.postgres.sslmode",
	"database.redis.host",
	"database.redis.port",
	"database.redis.password",
	"database.redis.db",
	"database.mongodb.uri",
	"database.mongodb.database",

	"server.port",
	"server.read_timeout_seconds",
	"server.write_timeout_seconds",

	"logging.level",
	"logging.format",

	"cut.enabled",
	"cut.cron",

	"tracing.enabled",
	"tracing.service_name",
	"tracing.otlp.endpoint",
	"tracing.otlp.insecure",
}

// Load reads the YAML file at path, layers the environment over it and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Broker.Kafka.Brokers = splitList(cfg.Broker.Kafka.Brokers)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// splitList accepts both a YAML list and a comma-separated env value.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adhocore/gronx"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// checks accumulates every failed rule so that one run reports all of
// them.
type checks []error

func (c *checks) require(ok bool, field, format string, args ...interface{}) {
	if !ok {
		*c = append(*c, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
}

func (c *checks) port(port int, field string) {
	c.require(port >= 1 && port <= 65535, field, "port must be between 1 and 65535, got %d", port)
}

func (c *checks) oneOf(value, field string, allowed ...string) {
	if value == "" {
		return
	}
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return
		}
	}
	c.require(false, field, "invalid value %q (valid: %s)", value, strings.Join(allowed, ", "))
}

// ValidateStatic checks what can be judged without connecting to anything.
// Stores are validated only when configured since not every binary uses
// all of them.
func ValidateStatic(cfg *Config) error {
	var c checks

	c.port(cfg.Server.Port, "server.port")
	c.require(cfg.Server.ReadTimeoutSeconds > 0, "server.read_timeout_seconds", "read timeout must be positive")
	c.require(cfg.Server.WriteTimeoutSeconds > 0, "server.write_timeout_seconds", "write timeout must be positive")

	c.broker(cfg.Broker)
	c.database(cfg.Database)

	if cfg.Cut.Enabled {
		c.require(gronx.IsValid(cfg.Cut.Cron), "cut.cron", "invalid cron expression: %q", cfg.Cut.Cron)
	}
	c.require(cfg.Cut.Limit >= 0, "cut.limit", "limit must be non-negative")

	// Both values become routing key segments.
	for field, value := range map[string]string{
		"broadcast.service":   cfg.Broadcast.Service,
		"broadcast.component": cfg.Broadcast.Component,
	} {
		c.require(value != "", field, "value is required")
		c.require(!strings.Contains(value, "."), field, "value must not contain '.'")
	}

	c.require(cfg.Processing.ProcessedIndexTTLSeconds >= 0, "processing.processed_index_ttl_seconds", "TTL must be non-negative")
	c.oneOf(cfg.Processing.OnRedisError, "processing.on_redis_error", "fallback", "fail")

	if cb := cfg.CircuitBreaker; cb.Enabled {
		c.require(cb.FailureRatio >= 0 && cb.FailureRatio <= 1, "circuit_breaker.failure_ratio", "failure ratio must be within [0, 1], got %v", cb.FailureRatio)
	}

	if rl := cfg.Management.RateLimit; rl.Enabled {
		c.require(rl.RPS > 0, "management.rate_limit.rps", "rps must be positive")
		c.require(rl.Burst > 0, "management.rate_limit.burst", "burst must be positive")
	}

	return errors.Join(c...)
}

func (c *checks) broker(cfg BrokerConfig) {
	if cfg.Type != "kafka" {
		c.require(false, "broker.type", "unsupported broker type %q (supported: kafka)", cfg.Type)
		return
	}

	k := cfg.Kafka
	c.require(len(k.Brokers) > 0, "broker.kafka.brokers", "at least one Kafka broker is required")
	c.require(k.GroupID != "", "broker.kafka.group_id", "Kafka consumer group ID is required")
	c.require(k.DLQTopic == "" || (k.DLQTopic != k.InputTopic && k.DLQTopic != k.ProcessTopic),
		"broker.kafka.dlq_topic", "dlq topic must differ from the topics it protects")
	c.require(k.RequeueDelay >= 0, "broker.kafka.requeue_delay", "requeue_delay must be non-negative")
	c.require(k.MaxRequeues >= 0, "broker.kafka.max_requeues", "max_requeues must be non-negative")

	r := k.Retry
	c.require(r.MaxAttempts >= 0, "broker.kafka.retry.max_attempts", "max_attempts must be non-negative")
	c.require(r.InitialInterval >= 0, "broker.kafka.retry.initial_interval", "initial_interval must be non-negative")
	c.require(r.MaxInterval >= 0, "broker.kafka.retry.max_interval", "max_interval must be non-negative")
	c.require(r.MaxInterval == 0 || r.MaxInterval >= r.InitialInterval,
		"broker.kafka.retry.max_interval", "max_interval must not be below initial_interval")
	c.require(r.Multiplier > 0, "broker.kafka.retry.multiplier", "multiplier must be positive")
}

func (c *checks) database(cfg DatabaseConfig) {
	if pg := cfg.Postgres; pg.Host != "" || pg.Port > 0 {
		c.require(pg.Host != "", "database.postgres.host", "PostgreSQL host is required")
		c.port(pg.Port, "database.postgres.port")
		c.require(pg.User != "", "database.postgres.user", "PostgreSQL user is required")
		c.require(pg.DBName != "", "database.postgres.dbname", "PostgreSQL database name is required")
		c.oneOf(pg.SSLMode, "database.postgres.sslmode", "disable", "allow", "prefer", "require", "verify-ca", "verify-full")
	}

	if rd := cfg.Redis; rd.Host != "" || rd.Port > 0 {
		c.require(rd.Host != "", "database.redis.host", "Redis host is required")
		c.port(rd.Port, "database.redis.port")
	}

	if m := cfg.MongoDB; m.URI != "" {
		c.require(strings.HasPrefix(m.URI, "mongodb://") || strings.HasPrefix(m.URI, "mongodb+srv://"),
			"database.mongodb.uri", "MongoDB URI must start with mongodb:// or mongodb+srv://")
		c.require(m.Database != "", "database.mongodb.database", "MongoDB database name is required")
	}
}

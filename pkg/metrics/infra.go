package metrics

import (
	"database/sql"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RetryAttemptsTotal = counter("retry_attempts_total",
		"Handler retries inside a consumer (count)", "service", "topic")

	DLQMessagesTotal = counter("dlq_messages_total",
		"Messages sent to the dead letter topic (count)", "service", "topic", "reason")

	RequeuedMessagesTotal = counter("requeued_messages_total",
		"Messages moved from the retry topic back to their source topic (count)", "service", "topic")

	KafkaMessagesReadTotal = counter("kafka_messages_read_total",
		"Messages fetched from Kafka (count)", "service", "topic")

	KafkaMessagesWrittenTotal = counter("kafka_messages_written_total",
		"Messages written to Kafka (count)", "service", "topic")

	KafkaWriteDuration = histogram("kafka_write_duration_ms",
		"Duration of a synchronous Kafka write in milliseconds", msFast, "service", "topic")

	CircuitBreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
	}, []string{"name"})

	CircuitBreakerRequests = counter("circuit_breaker_requests_total",
		"Requests passed through a circuit breaker (count)", "name", "state")

	CircuitBreakerFailures = counter("circuit_breaker_failures_total",
		"Failed requests through a circuit breaker (count)", "name")

	RateLimitRequestsTotal = counter("rate_limit_requests_total",
		"Management requests checked against the rate limit (count)", "status")

	FallbackUsageTotal = counter("fallback_usage_total",
		"Times a degraded path was taken instead of failing (count)", "service", "strategy", "reason")

	DatabaseQueriesTotal = counter("database_queries_total",
		"Database queries by outcome (count)", "service", "database", "operation", "status")

	DatabaseQueryDuration = histogram("database_query_duration_ms",
		"Duration of database queries in milliseconds",
		[]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		"service", "database", "operation")
)

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaWriteDuration(service, topic string, d time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(ms(d))
}

// ObservePostgresQuery records one query started at start. sql.ErrNoRows
// counts as a success.
func ObservePostgresQuery(service, operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		status = "error"
	}
	DatabaseQueriesTotal.WithLabelValues(service, "postgres", operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(service, "postgres", operation).Observe(ms(time.Since(start)))
}

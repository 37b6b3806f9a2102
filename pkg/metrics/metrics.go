// Package metrics holds the Prometheus collectors of every enrollsync
// service. Collectors are created eagerly so that code paths can observe
// them unconditionally; each binary registers only the groups it serves.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	msFast = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}
	msSlow = []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
)

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels)
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}

// group registers its collectors with the default registry once.
type group struct {
	once       sync.Once
	collectors []prometheus.Collector
}

func (g *group) register() {
	g.once.Do(func() {
		prometheus.MustRegister(g.collectors...)
	})
}

var (
	batchGroup = &group{collectors: []prometheus.Collector{
		BatchTransitionsTotal, OutcomesTotal,
	}}
	intakeGroup = &group{collectors: []prometheus.Collector{
		IntakeMessagesTotal, IntakeProcessingDuration,
	}}
	processorGroup = &group{collectors: []prometheus.Collector{
		BatchProcessingDuration, BatchTransactionsProcessed,
		ActionsResolvedTotal, ResolverActiveRules, ProcessedIndexLookupsTotal,
	}}
	managementGroup = &group{collectors: []prometheus.Collector{
		RateLimitRequestsTotal, BatchesCutTotal,
	}}
	brokerGroup = &group{collectors: []prometheus.Collector{
		RetryAttemptsTotal, DLQMessagesTotal, RequeuedMessagesTotal,
		KafkaMessagesReadTotal, KafkaMessagesWrittenTotal, KafkaWriteDuration,
	}}
	breakerGroup = &group{collectors: []prometheus.Collector{
		CircuitBreakerState, CircuitBreakerRequests, CircuitBreakerFailures,
	}}
	storeGroup = &group{collectors: []prometheus.Collector{
		DatabaseQueriesTotal, DatabaseQueryDuration, FallbackUsageTotal,
	}}
)

func RegisterIntakeMetrics() {
	intakeGroup.register()
	batchGroup.register()
	storeGroup.register()
}

func RegisterProcessorMetrics() {
	processorGroup.register()
	batchGroup.register()
	storeGroup.register()
}

func RegisterManagementMetrics() {
	managementGroup.register()
	batchGroup.register()
	storeGroup.register()
}

func RegisterBrokerMetrics() {
	brokerGroup.register()
}

func RegisterCircuitBreakerMetrics() {
	breakerGroup.register()
}

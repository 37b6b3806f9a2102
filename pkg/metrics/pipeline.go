package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	IntakeMessagesTotal = counter("intake_messages_total",
		"Enrollment event messages seen by intake, by outcome (count)", "status")

	IntakeProcessingDuration = histogram("intake_processing_duration_ms",
		"Time to append one transaction to its batch in milliseconds", msFast, "status")

	BatchTransitionsTotal = counter("batch_transitions_total",
		"Batch state machine transitions (count)", "event", "from", "to")

	// BatchesCutTotal is labeled dispatched, deferred or failed.
	BatchesCutTotal = counter("batches_cut_total",
		"Open batches considered by a cut (count)", "status")

	BatchProcessingDuration = histogram("batch_processing_duration_ms",
		"Duration of a full batch pipeline run in milliseconds", msSlow, "status")

	BatchTransactionsProcessed = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_transactions_processed",
		Help:    "Transactions loaded per batch run (count)",
		Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100, 250},
	})

	OutcomesTotal = counter("event_outcomes_total",
		"Terminal event outcomes recorded (count)", "event_key", "level")

	ActionsResolvedTotal = counter("actions_resolved_total",
		"Enrollment actions resolved from event windows (count)", "kind", "rule")

	ResolverActiveRules = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resolver_active_rules",
		Help: "Active action resolution rules (count)",
	})

	ProcessedIndexLookupsTotal = counter("processed_index_lookups_total",
		"Processed-event index lookups by source and result (count)", "source", "result")
)

func ObserveIntakeDuration(d time.Duration, status string) {
	IntakeProcessingDuration.WithLabelValues(status).Observe(ms(d))
}

func ObserveBatchDuration(d time.Duration, status string) {
	BatchProcessingDuration.WithLabelValues(status).Observe(ms(d))
}

func IncBatchTransition(event, from, to string) {
	BatchTransitionsTotal.WithLabelValues(event, from, to).Inc()
}

func IncOutcome(eventKey, level string) {
	OutcomesTotal.WithLabelValues(eventKey, level).Inc()
}

func IncActionResolved(kind, rule string) {
	ActionsResolvedTotal.WithLabelValues(kind, rule).Inc()
}

func SetResolverActiveRules(count int) {
	ResolverActiveRules.Set(float64(count))
}

func IncProcessedIndexLookup(source, result string) {
	ProcessedIndexLookupsTotal.WithLabelValues(source, result).Inc()
}

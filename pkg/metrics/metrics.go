package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider workflow-trigger call latency in milliseconds.
	ProviderCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "External provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"workflow", "status"},
	)

	// Dispatch batch outcomes, labeled by channel and result.
	DispatchBatchCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_batch_count",
			Help: "Total number of dispatched notification batches",
		},
		[]string{"channel", "result"}, // result: success, failed
	)

	// Per-recipient delivery record status changes.
	DeliveryStatusCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_status_count",
			Help: "Total number of delivery record status transitions",
		},
		[]string{"status"},
	)

	// Cache lookups for read-path acceleration.
	CacheLookupCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_lookup_count",
			Help: "Total number of cache lookups",
		},
		[]string{"kind", "outcome"}, // kind: history, unread; outcome: hit, miss, error
	)

	// MQ consumption latency in milliseconds.
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"routing_key", "queue"},
	)

	// Database query latency in seconds.
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// Circuit breaker state changes per dependency key.
	BreakerStateCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_count",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"dependency", "state"}, // state: open, half_open, closed
	)
)

func RecordProviderCallLatency(workflow, status string, duration time.Duration) {
	ProviderCallLatency.WithLabelValues(workflow, status).Observe(float64(duration.Milliseconds()))
}

func IncrementDispatchBatch(channel, result string) {
	DispatchBatchCount.WithLabelValues(channel, result).Inc()
}

func IncrementDeliveryStatus(status string) {
	DeliveryStatusCount.WithLabelValues(status).Inc()
}

func IncrementCacheLookup(kind, outcome string) {
	CacheLookupCount.WithLabelValues(kind, outcome).Inc()
}

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func IncrementBreakerTransition(dependency, state string) {
	BreakerStateCount.WithLabelValues(dependency, state).Inc()
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Classifier call latency in milliseconds.
	ClassifierCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "classifier_call_latency_ms",
			Help:    "AI classifier call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"provider", "status"},
	)

	ClassifierRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classifier_retries_total",
			Help: "Classifier attempts retried after a rate limit",
		},
		[]string{"delay_source"}, // retry_info, text_hint, backoff
	)

	SMSSentCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sms_sent_total",
			Help: "SMS alert attempts by outcome",
		},
		[]string{"result"}, // success, not_configured, provider, connection, settings
	)

	EmailProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_processed_count",
			Help: "Total number of emails processed",
		},
		[]string{"status"}, // processed, updated, parse_error, persist_error
	)

	ListenerReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "listener_reconnects_total",
			Help: "Mailbox reconnect attempts by outcome",
		},
		[]string{"outcome"}, // success, failure, exhausted
	)

	ListenerTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "listener_tick_duration_seconds",
			Help:    "Duration of one mailbox polling tick",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
	)

	ActiveListeners = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "listeners_active",
			Help: "Number of mailbox listeners currently running",
		},
	)

	// DB query duration in seconds.
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	// HTTP request duration in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_events_published_total",
			Help: "Outbox events handed to the broker by outcome",
		},
		[]string{"routing_key", "result"},
	)
)

func RecordClassifierCallLatency(provider, status string, duration time.Duration) {
	ClassifierCallLatency.WithLabelValues(provider, status).Observe(float64(duration.Milliseconds()))
}

func IncrementClassifierRetry(delaySource string) {
	ClassifierRetries.WithLabelValues(delaySource).Inc()
}

func IncrementSMSSent(result string) {
	SMSSentCount.WithLabelValues(result).Inc()
}

func IncrementEmailProcessed(status string) {
	EmailProcessedCount.WithLabelValues(status).Inc()
}

func IncrementListenerReconnect(outcome string) {
	ListenerReconnects.WithLabelValues(outcome).Inc()
}

func RecordListenerTick(duration time.Duration) {
	ListenerTickDuration.Observe(duration.Seconds())
}

func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// IncrementSlowQuery counts a slow query. Only the leading SQL verb is used as
// a label to keep cardinality bounded.
func IncrementSlowQuery(operation string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(operation).Inc()
	DBQueryDuration.WithLabelValues(operation, "slow").Observe(duration.Seconds())
}

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementOutboxPublished(routingKey, result string) {
	OutboxPublished.WithLabelValues(routingKey, result).Inc()
}

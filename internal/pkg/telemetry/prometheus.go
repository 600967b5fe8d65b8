package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for HTTP requests
var (
	// HTTP request duration histogram
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// HTTP request total counter
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	// HTTP requests currently in flight
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)
)

// Prometheus metrics for the entity runtime
var (
	EntityActivationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_activations_total",
			Help: "Total number of entity activations (including replays after failure)",
		},
		[]string{"kind"},
	)

	EntitiesActiveGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entities_active_total",
			Help: "Current number of active entities by kind",
		},
		[]string{"kind"},
	)

	CommandsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_commands_processed_total",
			Help: "Total number of commands processed by entities",
		},
		[]string{"kind", "status"}, // status: ok, error
	)

	JournalAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journal_appends_total",
			Help: "Total number of events appended to the journal",
		},
		[]string{"status"}, // status: ok, error
	)
)

// Prometheus metrics for the saga protocol
var (
	SagasStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sagas_started_total",
			Help: "Total number of sagas started",
		},
	)

	SagasCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sagas_completed_total",
			Help: "Total number of completed sagas by outcome",
		},
		[]string{"outcome"}, // outcome: committed, rolled_back
	)

	SagaDurationHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "saga_duration_seconds",
			Help:    "Time from SagaStarted to SagaCompleted",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	TransactionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transactions_rejected_total",
			Help: "Total number of rejected StartTransaction commands",
		},
		[]string{"reason"}, // reason: InsufficientFunds, Busy, AccountNotInitialized
	)

	AccountStashDepthGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "account_stash_depth",
			Help: "Total number of stashed StartTransaction commands across accounts",
		},
	)

	AccountsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "accounts_created_total",
			Help: "Total number of bank accounts created",
		},
	)
)

// Helper functions for recording metrics

func RecordEntityActivation(kind string) {
	EntityActivationsTotal.WithLabelValues(kind).Inc()
	EntitiesActiveGauge.WithLabelValues(kind).Inc()
}

func RecordEntityDeactivation(kind string) {
	EntitiesActiveGauge.WithLabelValues(kind).Dec()
}

func RecordCommand(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CommandsProcessedTotal.WithLabelValues(kind, status).Inc()
}

func RecordJournalAppend(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	JournalAppendsTotal.WithLabelValues(status).Inc()
}

func RecordSagaCompleted(outcome string, duration time.Duration) {
	SagasCompletedTotal.WithLabelValues(outcome).Inc()
	SagaDurationHistogram.Observe(duration.Seconds())
}

func RecordRejection(reason string) {
	TransactionsRejectedTotal.WithLabelValues(reason).Inc()
}

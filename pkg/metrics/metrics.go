// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal counts turns by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_turns_total",
			Help: "Conversation turns by outcome",
		},
		[]string{"outcome"},
	)

	// ConflictsTotal counts detected conflicts.
	ConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_conflicts_total",
			Help: "Calendar conflicts detected by type and severity",
		},
		[]string{"type", "severity"},
	)

	// ProviderFetchErrors counts busy-event fetch failures per provider.
	ProviderFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_provider_fetch_errors_total",
			Help: "Calendar provider fetch failures",
		},
		[]string{"provider"},
	)

	// ConversationsLive tracks conversations held in the store.
	ConversationsLive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_conversations_live",
			Help: "Conversations currently held in the store",
		},
	)

	// ConversationsEvicted counts evictions by reason.
	ConversationsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_conversations_evicted_total",
			Help: "Conversations evicted from the store",
		},
		[]string{"reason"},
	)

	// NLUDuration tracks NLU parse latency.
	NLUDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_nlu_duration_seconds",
			Help:    "NLU parse duration",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20},
		},
		[]string{"provider", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordTurn records the outcome of a turn.
func RecordTurn(outcome string) {
	TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordConflict records a detected conflict.
func RecordConflict(conflictType, severity string) {
	ConflictsTotal.WithLabelValues(conflictType, severity).Inc()
}

// RecordProviderError records a failed provider fetch.
func RecordProviderError(provider string) {
	ProviderFetchErrors.WithLabelValues(provider).Inc()
}

// RecordEviction records a store eviction and updates the live gauge.
func RecordEviction(reason string) {
	ConversationsEvicted.WithLabelValues(reason).Inc()
	ConversationsLive.Dec()
}

// RecordNLU records an NLU parse.
func RecordNLU(provider, status string, duration float64) {
	NLUDuration.WithLabelValues(provider, status).Observe(duration)
}

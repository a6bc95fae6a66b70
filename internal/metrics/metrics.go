// Package metrics holds the Prometheus collectors for hairstyle generation.
//
// Usage:
//
//	metrics.RecordApply("cached")
//	metrics.RecordProviderStage("providerA", "upload", err, time.Since(start))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ApplyTotal counts apply calls by outcome: cached, success, quota, not_found, failed.
	ApplyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "looks_apply_total",
			Help: "Total number of hairstyle apply calls by outcome",
		},
		[]string{"outcome"},
	)

	// ProviderStageTotal counts provider stage calls by provider, stage and result.
	ProviderStageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "looks_provider_stage_total",
			Help: "Total number of provider stage calls",
		},
		[]string{"provider", "stage", "result"},
	)

	// ProviderStageDuration tracks provider stage latency. Poll dominates.
	ProviderStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "looks_provider_stage_duration_seconds",
			Help:    "Duration of provider stage calls in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30, 60},
		},
		[]string{"provider", "stage"},
	)

	// PollChecks counts individual job status checks.
	PollChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "looks_poll_checks_total",
			Help: "Total number of provider job status checks",
		},
		[]string{"provider", "status"},
	)

	// BreakerState exposes the circuit breaker state (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "looks_provider_breaker_state",
			Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)
)

func RecordApply(outcome string) {
	ApplyTotal.WithLabelValues(outcome).Inc()
}

// RecordProviderStage records the result and latency of one provider stage.
func RecordProviderStage(provider, stage string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ProviderStageTotal.WithLabelValues(provider, stage, result).Inc()
	ProviderStageDuration.WithLabelValues(provider, stage).Observe(elapsed.Seconds())
}

// RecordPollCheck counts one job status check. Statuses other than active,
// failed and error are reported as "other" to keep the label set bounded.
func RecordPollCheck(provider, status string) {
	PollChecks.WithLabelValues(provider, pollStatusLabel(status)).Inc()
}

func pollStatusLabel(status string) string {
	switch status {
	case "active", "failed", "error":
		return status
	default:
		return "other"
	}
}

func SetBreakerState(provider string, state float64) {
	BreakerState.WithLabelValues(provider).Set(state)
}

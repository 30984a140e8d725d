// Package telemetry exposes Prometheus metrics for the harvest pipeline.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvestItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_items_total",
			Help: "Total enriched items, labeled by status.",
		},
		[]string{"status"},
	)

	harvestTermsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_terms_total",
			Help: "Total search terms processed, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	harvestRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_retries_total",
			Help: "Total retry attempts across all gated operations.",
		},
	)

	harvestBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_block_signals_total",
			Help: "Total anti-bot signals observed, labeled by kind.",
		},
		[]string{"kind"},
	)

	harvestBatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_checkpoint_batches_total",
			Help: "Total temp artifact batches written.",
		},
	)

	harvestMergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_merges_total",
			Help: "Total merge operations, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	harvestEnrichSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_enrich_duration_seconds",
			Help:    "Histogram of per-item enrichment latency.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	harvestAdmissionWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvester_admission_wait_seconds",
			Help:    "Histogram of time spent waiting for an admission slot.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
		},
	)
)

// Handler returns the standard Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem records one enriched item outcome.
func ObserveItem(status string) {
	harvestItemsTotal.WithLabelValues(status).Inc()
}

// ObserveTerm records one processed term outcome ("ok" or "failed").
func ObserveTerm(outcome string) {
	harvestTermsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRetry counts one retry attempt.
func ObserveRetry() {
	harvestRetriesTotal.Inc()
}

// ObserveBlockSignal counts one anti-bot signal by kind.
func ObserveBlockSignal(kind string) {
	harvestBlocksTotal.WithLabelValues(kind).Inc()
}

// ObserveBatchSaved counts one temp artifact write.
func ObserveBatchSaved() {
	harvestBatchesTotal.Inc()
}

// ObserveMerge records a merge outcome ("merged", "empty", or "failed").
func ObserveMerge(outcome string) {
	harvestMergesTotal.WithLabelValues(outcome).Inc()
}

// ObserveEnrich records one enrichment duration.
func ObserveEnrich(d time.Duration) {
	harvestEnrichSeconds.Observe(d.Seconds())
}

// ObserveAdmissionWait records how long a caller queued for a slot.
func ObserveAdmissionWait(d time.Duration) {
	harvestAdmissionWaitSeconds.Observe(d.Seconds())
}

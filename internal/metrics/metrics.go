// Package metrics defines the Prometheus collectors shared across the
// credit ledger and the HTTP gate. Everything is registered on the default
// registry and exposed by promhttp in cmd/api.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "uianalyser"

var (
	// CacheHits counts snapshot reads answered by the cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credits",
		Name:      "cache_hits_total",
		Help:      "Credit snapshot reads served from the cache.",
	})

	// CacheMisses counts snapshot reads that fell through to the store.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credits",
		Name:      "cache_misses_total",
		Help:      "Credit snapshot reads that fell through to the store.",
	})

	// CacheErrors counts cache calls that failed and were degraded to a miss.
	CacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credits",
		Name:      "cache_errors_total",
		Help:      "Cache calls that failed and were treated as misses.",
	})

	// Deducts counts deduction outcomes, labelled ok or insufficient.
	Deducts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credits",
		Name:      "deducts_total",
		Help:      "Credit deduction attempts by outcome.",
	}, []string{"outcome"})

	// Refreshes counts daily top-ups actually applied to an account.
	Refreshes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credits",
		Name:      "refreshes_total",
		Help:      "Daily credit top-ups applied.",
	})

	// FlushBatches counts flush cycles that drained at least one entry.
	FlushBatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credits",
		Name:      "flush_batches_total",
		Help:      "Write-back flush cycles executed.",
	})

	// FlushFailures counts individual store writes that failed during a flush.
	FlushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "credits",
		Name:      "flush_failures_total",
		Help:      "Pending balance writes that failed to persist.",
	})

	// GateRequests counts analysis requests by gate outcome.
	GateRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "requests_total",
		Help:      "Analysis requests by admission outcome.",
	}, []string{"outcome"})

	// AnalysisDuration tracks end-to-end latency of the external agent call.
	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "analysis_duration_seconds",
		Help:      "Latency of the external analysis agent call.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

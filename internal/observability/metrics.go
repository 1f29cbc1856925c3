package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g. unlock_...).
const namespace = "unlock"

var (
	// -------------------------------------------------------------------------
	// CONTROL API (HTTP)
	// -------------------------------------------------------------------------

	// HTTPReqDuration measures the latency of control API requests.
	// Metric: unlock_control_api_http_handling_seconds
	HTTPReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the control API",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// HTTPReqTotal counts the total number of control API requests.
	HTTPReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the control API",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// EVALUATOR & CACHE
	// -------------------------------------------------------------------------

	// EvalDuration measures single-target evaluation latency.
	EvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "evaluator",
		Name:      "evaluation_seconds",
		Help:      "Time taken to evaluate one (target, user) pair",
		Buckets:   []float64{.001, .002, .005, .010, .025, .050, .100, .250, .500, 1},
	})

	// CacheHits counts availability reads served from the materialized cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "availability",
		Name:      "cache_hits_total",
		Help:      "Availability reads served from the cache",
	})

	// CacheMisses counts reads that fell back to live evaluation (UNKNOWN entry).
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "availability",
		Name:      "cache_misses_total",
		Help:      "Availability reads that fell back to live evaluation",
	})

	// -------------------------------------------------------------------------
	// DISPATCHER & WORKER
	// -------------------------------------------------------------------------

	// EventsTotal counts domain events received by the dispatcher, by outcome:
	// dispatched, coalesced, gated (auto-update disabled), dropped (unknown).
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "events_total",
		Help:      "Domain events received, labelled by outcome",
	}, []string{"event", "outcome"})

	// JobsTotal counts processed jobs by kind and status (success, retry,
	// failed, dropped).
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "jobs_total",
		Help:      "Recomputation jobs processed, labelled by kind and status",
	}, []string{"kind", "status"})

	// JobDuration measures end-to-end job latency from enqueue to completion.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "worker",
		Name:      "job_processing_seconds",
		Help:      "End-to-end latency from enqueue to processing finish",
		Buckets:   prometheus.DefBuckets,
	})

	// QueueDepth tracks the number of jobs waiting in the shared queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "job_queue_depth",
		Help:      "Current number of jobs in the recompute queue",
	})
)

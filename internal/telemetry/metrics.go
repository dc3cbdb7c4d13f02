/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkpress_api_request_duration_seconds",
			Help:    "HTTP request latency by method, route and status.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkpress_api_active_connections",
			Help: "HTTP requests currently being served.",
		},
	)
)

// Processing metrics
var (
	// ArchiveAttemptsTotal counts finished attempts by outcome
	// (succeeded, partial, retry, failed, interrupted, locked).
	ArchiveAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_archive_attempts_total",
			Help: "Archive processing attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ArchiveAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkpress_archive_attempt_duration_seconds",
			Help:    "Wall clock duration of archive processing attempts.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	ArchiveFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_archive_failures_total",
			Help: "Failed attempts by error kind.",
		},
		[]string{"kind"},
	)

	WorkerInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkpress_worker_in_flight",
			Help: "Attempts currently running.",
		},
	)

	WorkerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkpress_worker_queue_depth",
			Help: "Files waiting for a worker, including delayed retries.",
		},
	)

	PagesProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpress_pages_processed_total",
			Help: "Pages accepted into processing results.",
		},
	)

	ThumbnailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_thumbnails_total",
			Help: "Thumbnails rendered by result (ok, failed).",
		},
		[]string{"result"},
	)

	ProcessingWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_processing_warnings_total",
			Help: "Non-fatal processing warnings by kind.",
		},
		[]string{"kind"},
	)

	LockContentionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inkpress_lock_contention_total",
			Help: "Attempts deferred because another instance held the file lock.",
		},
	)

	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_events_published_total",
			Help: "Events relayed to the external bus by backend and result.",
		},
		[]string{"backend", "result"},
	)
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Database metrics
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inkpress_database_query_duration_seconds",
			Help:    "Database operation latency by operation and table.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DatabaseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inkpress_database_errors_total",
			Help: "Database operation errors.",
		},
		[]string{"operation", "type"},
	)

	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inkpress_database_connections_active",
			Help: "Open database connections.",
		},
	)
)

// Package metrics defines Prometheus metrics for the upload orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counter metrics (monotonically increasing)
var (
	// UploadsStartedTotal counts upload sessions opened.
	UploadsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorvault_uploads_started_total",
			Help: "Total number of upload sessions started",
		},
	)

	// UploadsCompletedTotal counts upload sessions completed.
	UploadsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorvault_uploads_completed_total",
			Help: "Total number of upload sessions completed",
		},
	)

	// UploadsAbortedTotal counts upload sessions aborted, by who aborted
	// them (client, reaper).
	UploadsAbortedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorvault_uploads_aborted_total",
			Help: "Total number of upload sessions aborted",
		},
		[]string{"source"},
	)

	// PartsUploadedTotal counts individual parts registered on sessions.
	PartsUploadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorvault_parts_uploaded_total",
			Help: "Total number of upload parts registered",
		},
	)

	// PartBytesTotal counts bytes accepted across all parts.
	PartBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sensorvault_part_bytes_total",
			Help: "Total bytes accepted across all upload parts",
		},
	)

	// RateLimitRejectionsTotal counts denied actions by action name.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorvault_rate_limit_rejections_total",
			Help: "Total number of actions denied by the rate limiter",
		},
		[]string{"action"},
	)

	// ReaperSweepsTotal counts reaper runs by outcome (success, error).
	ReaperSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorvault_reaper_sweeps_total",
			Help: "Total number of reaper sweeps",
		},
		[]string{"status"},
	)

	// ReaperAbortedTotal counts sessions reclaimed by the reaper, by pass
	// (record, orphan).
	ReaperAbortedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorvault_reaper_aborted_total",
			Help: "Total number of stale uploads aborted by the reaper",
		},
		[]string{"pass"},
	)

	// ErrorsTotal counts service errors by kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorvault_errors_total",
			Help: "Total number of service errors",
		},
		[]string{"kind"},
	)
)

// Histogram metrics
var (
	// PartUploadDuration tracks how long part uploads to the object store take.
	PartUploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sensorvault_part_upload_duration_seconds",
			Help:    "Duration of part uploads to the object store",
			Buckets: prometheus.DefBuckets,
		},
	)

	// HTTPRequestDuration tracks HTTP request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sensorvault_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Package metrics declares the Prometheus collectors shared by the API and
// the transcode worker. They are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TranscodeJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videolabeler_transcode_jobs_total",
		Help: "Transcode jobs by outcome (started, done, error)",
	}, []string{"outcome"})

	ActiveTranscodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "videolabeler_transcode_active",
		Help: "Transcode jobs currently registered as live",
	})

	TranscodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "videolabeler_transcode_duration_seconds",
		Help:    "Wall time of finished transcode jobs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "videolabeler_progress_stream_clients",
		Help: "Attached progress stream clients",
	})

	FileCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videolabeler_file_commits_total",
		Help: "Multi-file commits by operation and result",
	}, []string{"operation", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "videolabeler_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmitCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_submitted_total", Help: "Jobs accepted and enqueued"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_rate_limit_rejects_total", Help: "Submissions rejected by the per-owner rate limiter"})
	CompletedCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_completed_total", Help: "Jobs finished successfully"})
	FailedCounter    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_failed_total", Help: "Jobs that exhausted their retry budget"})
	CancelledCounter = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_cancelled_total", Help: "Jobs stopped by an owner cancellation"})
	RetryCounter     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_retries_total", Help: "Handler failures that were rescheduled"})
	ReclaimCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_reclaimed_total", Help: "Stale claims recovered by the reaper"})
	CleanupCounter   = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_cleaned_total", Help: "Terminal records removed by the cleanup sweep"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_queue_depth", Help: "Ready queue depth across job types"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "jobs_inflight", Help: "Jobs currently claimed by a worker"})
	EventsPublished  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_events_published_total", Help: "Progress/terminal events published"})
	EventsDelivered  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_events_delivered_total", Help: "Events delivered to a live connection"})
	EventsDropped    = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_events_dropped_total", Help: "Events dropped because no connection was live"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmitCounter,
			RateLimitRejects,
			CompletedCounter,
			FailedCounter,
			CancelledCounter,
			RetryCounter,
			ReclaimCounter,
			CleanupCounter,
			QueueDepthGauge,
			InFlightGauge,
			EventsPublished,
			EventsDelivered,
			EventsDropped,
		)
	})
	return promhttp.Handler()
}

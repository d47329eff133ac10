// Package telemetry holds the Prometheus collectors shared by the tracking
// handlers and the dispatch workers.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TrackingTriggers counts tracking requests by trigger kind and outcome
	// (recorded, duplicate, not_found, rate_limited, error).
	TrackingTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phishsim_tracking_triggers_total",
		Help: "Tracking triggers by kind and outcome",
	}, []string{"kind", "outcome"})

	// DispatchSends counts per-recipient send attempts by result (sent, bounced, skipped).
	DispatchSends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phishsim_dispatch_sends_total",
		Help: "Dispatcher send attempts by result",
	}, []string{"result"})

	// DispatchRuns counts dispatcher runs by terminal outcome
	// (completed, partial, paused, locked, failed).
	DispatchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "phishsim_dispatch_runs_total",
		Help: "Dispatcher runs by outcome",
	}, []string{"outcome"})

	// DispatchRunDuration tracks wall-clock time of a dispatcher run,
	// including rate-limit pauses.
	DispatchRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "phishsim_dispatch_run_duration_seconds",
		Help:    "Dispatcher run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 4, 10),
	})

	// RateLimitWaits counts how often the dispatcher paused for the hourly budget.
	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phishsim_dispatch_rate_limit_waits_total",
		Help: "Times the dispatcher paused for the hourly send budget",
	})

	// EventsPurged counts events removed by the retention worker.
	EventsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "phishsim_events_purged_total",
		Help: "Email events deleted by retention policy",
	})
)

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

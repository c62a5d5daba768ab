package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued     = prometheus.NewCounter(prometheus.CounterOpts{Name: "articles_enqueued_total", Help: "Total enqueued article jobs"})
	JobsClaimed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "articles_claimed_total", Help: "Jobs claimed by workers"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "articles_completed_total", Help: "Jobs that ran all phases successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "articles_failed_total", Help: "Jobs that failed a phase"})
	JobsPublished    = prometheus.NewCounter(prometheus.CounterOpts{Name: "articles_published_total", Help: "Jobs marked published"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "articles_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	ReadyGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "articles_ready", Help: "Queued jobs eligible to run now"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "articles_inflight", Help: "Jobs currently processing"})

	PhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "articles_phase_duration_seconds",
		Help:    "Pipeline phase duration by phase and outcome",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"phase", "outcome"})

	APICost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "articles_api_cost_usd_total",
		Help: "Accumulated external API cost in USD",
	}, []string{"api"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsClaimed,
			JobsCompleted,
			JobsFailed,
			JobsPublished,
			RateLimitRejects,
			ReadyGauge,
			InFlightGauge,
			PhaseDuration,
			APICost,
		)
	})
	return promhttp.Handler()
}

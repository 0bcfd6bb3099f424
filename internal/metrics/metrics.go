package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "felanmalan"

var (
	ErrandSubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errand_submissions_total",
			Help:      "Total number of errand submissions, labeled by final outcome.",
		},
		[]string{"outcome"},
	)

	ErrandsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errands_created_total",
			Help:      "Total number of errands created upstream, labeled by classification type.",
		},
		[]string{"type"},
	)

	AttachmentUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_uploads_total",
			Help:      "Total number of attachment uploads, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errand_rollbacks_total",
			Help:      "Total number of compensating errand deletes, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of classification attempts, labeled by resulting category and whether the assistant answered.",
		},
		[]string{"category", "source"},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of upstream API requests, labeled by api, method and status class.",
		},
		[]string{"api", "method", "status"},
	)

	UpstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_latency_seconds",
			Help:      "Upstream API request latency (seconds).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"api", "method"},
	)

	RateLimitHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
		[]string{"scope", "operation"},
	)
)

func init() {
	prometheus.MustRegister(
		ErrandSubmissionsTotal,
		ErrandsCreatedTotal,
		AttachmentUploadsTotal,
		RollbacksTotal,
		ClassificationsTotal,
		UpstreamRequestsTotal,
		UpstreamLatencySeconds,
		RateLimitHitsTotal,
	)
}

// StatusClass buckets an HTTP status for metric labels. 0 means transport failure.
func StatusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

package rate

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "godaikin_rate_requests_blocked_total",
			Help: "Requests refused locally while the provider cooldown was active",
		},
	)
	throttleResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "godaikin_rate_throttle_responses_total",
			Help: "HTTP 429 responses received from the cloud API",
		},
	)
	retryAfterGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "godaikin_rate_retry_after_seconds",
			Help: "Most recent Retry-After value announced by the cloud API",
		},
	)
	lastStatusGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "godaikin_rate_last_status_code",
			Help: "Last HTTP status code observed by the pacing transport",
		},
	)
)

// MetricsCollectors exposes the pacing collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		requestsBlocked,
		throttleResponses,
		retryAfterGauge,
		lastStatusGauge,
	}
}

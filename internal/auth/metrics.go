package auth

import "github.com/prometheus/client_golang/prometheus"

var (
	refreshSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_auth_exchange_success_total",
		Help: "Successful token exchanges with the identity provider",
	})
	refreshFailure = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_auth_exchange_failure_total",
		Help: "Failed token exchanges with the identity provider",
	})
	tokenValid = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "godaikin_auth_token_valid",
		Help: "Session token validity (1=valid, 0=invalid)",
	})
)

// MetricsCollectors returns collectors for the auth package.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{refreshSuccess, refreshFailure, tokenValid}
}

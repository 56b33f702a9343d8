package moldproof

import "github.com/prometheus/client_golang/prometheus"

var (
	cyclesStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_moldproof_cycles_started_total",
		Help: "Drying cycles armed by a power-off",
	})
	cyclesCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_moldproof_cycles_completed_total",
		Help: "Drying cycles that ran to the end",
	})
	cyclesCanceled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_moldproof_cycles_canceled_total",
		Help: "Drying cycles superseded by a user or external power-on",
	})
	cycleFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_moldproof_cycle_failures_total",
		Help: "Drying cycles abandoned because commands kept failing",
	})
	activeCycles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "godaikin_moldproof_active_cycles",
		Help: "Drying cycles currently starting or running",
	})
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		cyclesStarted,
		cyclesCompleted,
		cyclesCanceled,
		cycleFailures,
		activeCycles,
	}
}

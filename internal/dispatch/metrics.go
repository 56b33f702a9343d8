package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	commandsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_commands_sent_total",
		Help: "Commands accepted by the vendor API",
	})
	commandFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_command_failures_total",
		Help: "Commands that failed after exhausting retries",
	})
	commandsRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_commands_rejected_total",
		Help: "Commands rejected by capability validation",
	})
	commandsCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_commands_coalesced_total",
		Help: "Commands merged into a queued intent",
	})
	commandsDeduplicated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_commands_deduplicated_total",
		Help: "Queued commands already satisfied by a confirmed state",
	})
	staleConfirmations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_stale_confirmations_total",
		Help: "Accepted commands whose confirmation polls never converged",
	})
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		commandsSent,
		commandFailures,
		commandsRejected,
		commandsCoalesced,
		commandsDeduplicated,
		staleConfirmations,
	}
}

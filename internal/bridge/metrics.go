package bridge

import "github.com/prometheus/client_golang/prometheus"

var (
	statesPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_mqtt_states_published_total",
		Help: "State documents published to the broker",
	})
	publishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_mqtt_publish_failures_total",
		Help: "MQTT publishes that errored",
	})
	commandsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_mqtt_commands_received_total",
		Help: "Messages seen on command topics",
	})
	commandErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_mqtt_command_errors_total",
		Help: "Command messages that could not be parsed or applied",
	})
)

func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		statesPublished,
		publishFailures,
		commandsReceived,
		commandErrors,
	}
}

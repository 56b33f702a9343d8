package registry

import "github.com/prometheus/client_golang/prometheus"

var (
	pollCycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_poll_cycles_total",
		Help: "Completed poll cycles",
	})
	pollFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "godaikin_poll_failures_total",
		Help: "Per-unit poll failures",
	}, []string{"unit_id"})
	droppedUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_dropped_updates_total",
		Help: "Change notifications dropped by slow subscribers",
	})
	knownDevices = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "godaikin_known_units",
		Help: "Units currently in the registry",
	})
	energyResets = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "godaikin_energy_counter_resets_total",
		Help: "Provider-side energy counter resets observed",
	})
)

// MetricsCollectors returns the package-level collectors.
func MetricsCollectors() []prometheus.Collector {
	return []prometheus.Collector{pollCycles, pollFailures, droppedUpdates, knownDevices, energyResets}
}

// MetricsCollector exports per-unit state gauges from registry snapshots.
type MetricsCollector struct {
	reg *Registry

	connected  *prometheus.GaugeVec
	powerOn    *prometheus.GaugeVec
	mode       *prometheus.GaugeVec
	roomTemp   *prometheus.GaugeVec
	outTemp    *prometheus.GaugeVec
	targetTemp *prometheus.GaugeVec
	powerWatts *prometheus.GaugeVec
	energyKwh  *prometheus.GaugeVec
}

func NewMetricsCollector(reg *Registry) *MetricsCollector {
	labels := []string{"unit_id", "unit_name"}
	modeLabels := []string{"unit_id", "unit_name", "mode"}
	return &MetricsCollector{
		reg: reg,
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "godaikin_unit_connected",
			Help: "Whether the unit is connected and fresh (1=yes, 0=no)",
		}, labels),
		powerOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "godaikin_unit_on",
			Help: "Unit power state (1=on, 0=off)",
		}, labels),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "godaikin_unit_mode",
			Help: "Active operating mode (1=active)",
		}, modeLabels),
		roomTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "godaikin_room_temperature_celsius",
			Help: "Reported room temperature (celsius)",
		}, labels),
		outTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "godaikin_outdoor_temperature_celsius",
			Help: "Reported outdoor temperature (celsius)",
		}, labels),
		targetTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "godaikin_setpoint_celsius",
			Help: "Target temperature (celsius)",
		}, labels),
		powerWatts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "godaikin_power_watts",
			Help: "Reported compressor power draw (watts)",
		}, labels),
		energyKwh: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "godaikin_energy_kwh",
			Help: "Energy used since process start (kWh)",
		}, labels),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.connected.Describe(ch)
	c.powerOn.Describe(ch)
	c.mode.Describe(ch)
	c.roomTemp.Describe(ch)
	c.outTemp.Describe(ch)
	c.targetTemp.Describe(ch)
	c.powerWatts.Describe(ch)
	c.energyKwh.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.mode.Reset()

	for _, dev := range c.reg.Snapshot() {
		id, name := string(dev.ID), dev.Name
		c.connected.WithLabelValues(id, name).Set(boolGauge(dev.Connected))
		c.powerOn.WithLabelValues(id, name).Set(boolGauge(dev.State.Power))
		for _, mode := range dev.Capabilities.Modes {
			active := dev.State.Power && dev.State.Mode == mode
			c.mode.WithLabelValues(id, name, string(mode)).Set(boolGauge(active))
		}
		c.roomTemp.WithLabelValues(id, name).Set(dev.State.CurrentTemp)
		c.outTemp.WithLabelValues(id, name).Set(dev.State.OutdoorTemp)
		c.targetTemp.WithLabelValues(id, name).Set(float64(dev.State.TargetTemp))
		c.powerWatts.WithLabelValues(id, name).Set(dev.State.PowerWatts)
		c.energyKwh.WithLabelValues(id, name).Set(dev.State.EnergyKwh)
	}

	c.connected.Collect(ch)
	c.powerOn.Collect(ch)
	c.mode.Collect(ch)
	c.roomTemp.Collect(ch)
	c.outTemp.Collect(ch)
	c.targetTemp.Collect(ch)
	c.powerWatts.Collect(ch)
	c.energyKwh.Collect(ch)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

package bridge

import (
	"fmt"

	"github.com/jkoay/godaikin-bridge/internal/device"
)

// Home Assistant MQTT discovery. One config document per entity, published
// retained under the discovery prefix so entities survive HA restarts.

const (
	discoveryPrefix = "homeassistant"
	payloadOn       = "ON"
	payloadOff      = "OFF"
	payloadOnline   = "online"
	payloadOffline  = "offline"
)

type deviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	Connections  [][]any  `json:"connections,omitempty"`
}

type availabilityRef struct {
	Topic string `json:"topic"`
}

type climateConfig struct {
	Name                       string            `json:"name"`
	UniqueID                   string            `json:"unique_id"`
	Device                     deviceInfo        `json:"device"`
	Availability               []availabilityRef `json:"availability"`
	AvailabilityMode           string            `json:"availability_mode"`
	Modes                      []string          `json:"modes"`
	ModeStateTopic             string            `json:"mode_state_topic"`
	ModeStateTemplate          string            `json:"mode_state_template"`
	ModeCommandTopic           string            `json:"mode_command_topic"`
	CurrentTemperatureTopic    string            `json:"current_temperature_topic"`
	CurrentTemperatureTemplate string            `json:"current_temperature_template"`
	TemperatureStateTopic      string            `json:"temperature_state_topic"`
	TemperatureStateTemplate   string            `json:"temperature_state_template"`
	TemperatureCommandTopic    string            `json:"temperature_command_topic"`
	MinTemp                    float64           `json:"min_temp"`
	MaxTemp                    float64           `json:"max_temp"`
	TempStep                   float64           `json:"temp_step"`
	FanModes                   []string          `json:"fan_modes,omitempty"`
	FanModeStateTopic          string            `json:"fan_mode_state_topic,omitempty"`
	FanModeStateTemplate       string            `json:"fan_mode_state_template,omitempty"`
	FanModeCommandTopic        string            `json:"fan_mode_command_topic,omitempty"`
	SwingModes                 []string          `json:"swing_modes,omitempty"`
	SwingModeStateTopic        string            `json:"swing_mode_state_topic,omitempty"`
	SwingModeStateTemplate     string            `json:"swing_mode_state_template,omitempty"`
	SwingModeCommandTopic      string            `json:"swing_mode_command_topic,omitempty"`
	PresetModes                []string          `json:"preset_modes,omitempty"`
	PresetModeStateTopic       string            `json:"preset_mode_state_topic,omitempty"`
	PresetModeValueTemplate    string            `json:"preset_mode_value_template,omitempty"`
	PresetModeCommandTopic     string            `json:"preset_mode_command_topic,omitempty"`
	PowerCommandTopic          string            `json:"power_command_topic"`
}

type sensorConfig struct {
	Name              string            `json:"name"`
	UniqueID          string            `json:"unique_id"`
	Device            deviceInfo        `json:"device"`
	Availability      []availabilityRef `json:"availability"`
	AvailabilityMode  string            `json:"availability_mode"`
	StateTopic        string            `json:"state_topic"`
	ValueTemplate     string            `json:"value_template"`
	DeviceClass       string            `json:"device_class,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
}

type switchConfig struct {
	Name             string            `json:"name"`
	UniqueID         string            `json:"unique_id"`
	Device           deviceInfo        `json:"device"`
	Availability     []availabilityRef `json:"availability"`
	AvailabilityMode string            `json:"availability_mode"`
	StateTopic       string            `json:"state_topic"`
	ValueTemplate    string            `json:"value_template"`
	CommandTopic     string            `json:"command_topic"`
	PayloadOn        string            `json:"payload_on"`
	PayloadOff       string            `json:"payload_off"`
	StateOn          string            `json:"state_on"`
	StateOff         string            `json:"state_off"`
	Icon             string            `json:"icon,omitempty"`
	EntityCategory   string            `json:"entity_category,omitempty"`
}

type lightConfig struct {
	Name               string            `json:"name"`
	UniqueID           string            `json:"unique_id"`
	Device             deviceInfo        `json:"device"`
	Availability       []availabilityRef `json:"availability"`
	AvailabilityMode   string            `json:"availability_mode"`
	StateTopic         string            `json:"state_topic"`
	StateValueTemplate string            `json:"state_value_template"`
	CommandTopic       string            `json:"command_topic"`
	PayloadOn          string            `json:"payload_on"`
	PayloadOff         string            `json:"payload_off"`
	Icon               string            `json:"icon,omitempty"`
	EntityCategory     string            `json:"entity_category,omitempty"`
}

type topics struct {
	prefix string
	id     device.ID
}

func (t topics) state() string        { return fmt.Sprintf("%s/%s/state", t.prefix, t.id) }
func (t topics) availability() string { return fmt.Sprintf("%s/%s/availability", t.prefix, t.id) }
func (t topics) command(kind string) string {
	return fmt.Sprintf("%s/%s/%s/set", t.prefix, t.id, kind)
}

func bridgeAvailabilityTopic(prefix string) string {
	return prefix + "/bridge/availability"
}

func discoveryTopic(component string, id device.ID, object string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, component, id, object)
}

func infoFor(dev device.Device) deviceInfo {
	info := deviceInfo{
		Identifiers:  []string{string(dev.ID)},
		Name:         dev.Name,
		Manufacturer: "Daikin",
		Model:        dev.Model,
	}
	if dev.MACAddress != "" {
		info.Connections = [][]any{{"mac", dev.MACAddress}}
	}
	return info
}

func availabilityFor(prefix string, t topics) []availabilityRef {
	return []availabilityRef{
		{Topic: bridgeAvailabilityTopic(prefix)},
		{Topic: t.availability()},
	}
}

func climateConfigFor(prefix string, dev device.Device) climateConfig {
	t := topics{prefix: prefix, id: dev.ID}
	caps := dev.Capabilities

	modes := []string{"off"}
	for _, m := range caps.Modes {
		modes = append(modes, string(m))
	}

	cfg := climateConfig{
		Name:             dev.Name,
		UniqueID:         fmt.Sprintf("godaikin_%s_climate", dev.ID),
		Device:           infoFor(dev),
		Availability:     availabilityFor(prefix, t),
		AvailabilityMode: "all",

		Modes:             modes,
		ModeStateTopic:    t.state(),
		ModeStateTemplate: "{% if value_json.power == 'OFF' %}off{% else %}{{ value_json.mode }}{% endif %}",
		ModeCommandTopic:  t.command("mode"),

		CurrentTemperatureTopic:    t.state(),
		CurrentTemperatureTemplate: "{{ value_json.current_temp }}",
		TemperatureStateTopic:      t.state(),
		TemperatureStateTemplate:   "{{ value_json.target_temp }}",
		TemperatureCommandTopic:    t.command("temp"),
		MinTemp:                    float64(caps.MinTemp),
		MaxTemp:                    float64(caps.MaxTemp),
		TempStep:                   1,

		PowerCommandTopic: t.command("power"),
	}

	if len(caps.FanSpeeds) > 0 {
		for _, f := range caps.FanSpeeds {
			cfg.FanModes = append(cfg.FanModes, string(f))
		}
		cfg.FanModeStateTopic = t.state()
		cfg.FanModeStateTemplate = "{{ value_json.fan_mode }}"
		cfg.FanModeCommandTopic = t.command("fan")
	}

	if len(caps.VerticalSwing) > 0 {
		for _, s := range caps.VerticalSwing {
			cfg.SwingModes = append(cfg.SwingModes, string(s))
		}
		cfg.SwingModeStateTopic = t.state()
		cfg.SwingModeStateTemplate = "{{ value_json.swing_mode }}"
		cfg.SwingModeCommandTopic = t.command("swing")
	}

	if len(caps.Presets) > 0 {
		cfg.PresetModes = []string{string(device.PresetNone)}
		for _, p := range caps.Presets {
			cfg.PresetModes = append(cfg.PresetModes, string(p))
		}
		cfg.PresetModeStateTopic = t.state()
		cfg.PresetModeValueTemplate = "{{ value_json.preset_mode }}"
		cfg.PresetModeCommandTopic = t.command("preset")
	}

	return cfg
}

func sensorConfigsFor(prefix string, dev device.Device) map[string]sensorConfig {
	t := topics{prefix: prefix, id: dev.ID}
	avail := availabilityFor(prefix, t)
	info := infoFor(dev)

	base := func(name, object string) sensorConfig {
		return sensorConfig{
			Name:             name,
			UniqueID:         fmt.Sprintf("godaikin_%s_%s", dev.ID, object),
			Device:           info,
			Availability:     avail,
			AvailabilityMode: "all",
			StateTopic:       t.state(),
		}
	}

	indoor := base("Indoor temperature", "indoor_temp")
	indoor.ValueTemplate = "{{ value_json.current_temp }}"
	indoor.DeviceClass = "temperature"
	indoor.StateClass = "measurement"
	indoor.UnitOfMeasurement = "°C"

	outdoor := base("Outdoor temperature", "outdoor_temp")
	outdoor.ValueTemplate = "{{ value_json.outdoor_temp }}"
	outdoor.DeviceClass = "temperature"
	outdoor.StateClass = "measurement"
	outdoor.UnitOfMeasurement = "°C"

	power := base("Power", "power")
	power.ValueTemplate = "{{ value_json.power_watts }}"
	power.DeviceClass = "power"
	power.StateClass = "measurement"
	power.UnitOfMeasurement = "W"

	energy := base("Energy", "energy")
	energy.ValueTemplate = "{{ value_json.energy_kwh }}"
	energy.DeviceClass = "energy"
	energy.StateClass = "total_increasing"
	energy.UnitOfMeasurement = "kWh"

	return map[string]sensorConfig{
		"indoor_temp":  indoor,
		"outdoor_temp": outdoor,
		"power":        power,
		"energy":       energy,
	}
}

func moldProofSwitchConfigFor(prefix string, dev device.Device) switchConfig {
	t := topics{prefix: prefix, id: dev.ID}
	return switchConfig{
		Name:             "Mold proof",
		UniqueID:         fmt.Sprintf("godaikin_%s_moldproof", dev.ID),
		Device:           infoFor(dev),
		Availability:     availabilityFor(prefix, t),
		AvailabilityMode: "all",
		StateTopic:       t.state(),
		ValueTemplate:    "{{ value_json.moldproof_enabled }}",
		CommandTopic:     t.command("moldproof"),
		PayloadOn:        payloadOn,
		PayloadOff:       payloadOff,
		StateOn:          payloadOn,
		StateOff:         payloadOff,
		Icon:             "mdi:fan-clock",
		EntityCategory:   "config",
	}
}

func ledLightConfigFor(prefix string, dev device.Device) lightConfig {
	t := topics{prefix: prefix, id: dev.ID}
	return lightConfig{
		Name:               "Status LED",
		UniqueID:           fmt.Sprintf("godaikin_%s_led", dev.ID),
		Device:             infoFor(dev),
		Availability:       availabilityFor(prefix, t),
		AvailabilityMode:   "all",
		StateTopic:         t.state(),
		StateValueTemplate: "{{ value_json.led }}",
		CommandTopic:       t.command("led"),
		PayloadOn:          payloadOn,
		PayloadOff:         payloadOff,
		Icon:               "mdi:led-on",
		EntityCategory:     "config",
	}
}

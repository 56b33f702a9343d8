package bridge

import (
	"testing"

	"github.com/jkoay/godaikin-bridge/internal/device"
)

func testDevice() device.Device {
	return device.Device{
		ID:         "thing-1",
		Name:       "Bedroom",
		Model:      "FTKF25C",
		MACAddress: "aa:bb:cc:dd:ee:ff",
		Capabilities: device.Capabilities{
			Modes:         []device.Mode{device.ModeCool, device.ModeDry, device.ModeFanOnly},
			FanSpeeds:     []device.FanSpeed{device.FanAuto, device.FanLow, device.FanMedium, device.FanHigh},
			Presets:       []device.Preset{device.PresetNone, device.PresetBoost},
			VerticalSwing: []device.Swing{device.SwingOff, device.SwingAuto, device.SwingStep1},
			MinTemp:       device.MinTemp,
			MaxTemp:       device.MaxTemp,
			StatusLED:     true,
		},
	}
}

func TestClimateConfig(t *testing.T) {
	cfg := climateConfigFor("godaikin", testDevice())

	if cfg.UniqueID != "godaikin_thing-1_climate" {
		t.Fatalf("unexpected unique id: %s", cfg.UniqueID)
	}
	if len(cfg.Modes) != 4 || cfg.Modes[0] != "off" {
		t.Fatalf("modes must include off first: %v", cfg.Modes)
	}
	if cfg.ModeCommandTopic != "godaikin/thing-1/mode/set" {
		t.Fatalf("unexpected command topic: %s", cfg.ModeCommandTopic)
	}
	if cfg.ModeStateTopic != "godaikin/thing-1/state" {
		t.Fatalf("unexpected state topic: %s", cfg.ModeStateTopic)
	}
	if cfg.MinTemp != float64(device.MinTemp) || cfg.MaxTemp != float64(device.MaxTemp) {
		t.Fatalf("unexpected temp range: %v..%v", cfg.MinTemp, cfg.MaxTemp)
	}
	if len(cfg.FanModes) != 4 {
		t.Fatalf("unexpected fan modes: %v", cfg.FanModes)
	}
	if len(cfg.SwingModes) != 3 {
		t.Fatalf("swing modes should mirror capabilities: %v", cfg.SwingModes)
	}
	if len(cfg.PresetModes) != 2 {
		t.Fatalf("preset modes should mirror capabilities: %v", cfg.PresetModes)
	}
	if len(cfg.Availability) != 2 {
		t.Fatalf("expected bridge and device availability, got %v", cfg.Availability)
	}
	if cfg.Device.Identifiers[0] != "thing-1" || cfg.Device.Manufacturer != "Daikin" {
		t.Fatalf("unexpected device info: %+v", cfg.Device)
	}
}

func TestClimateConfigOmitsUnsupportedAxes(t *testing.T) {
	dev := testDevice()
	dev.Capabilities.VerticalSwing = nil
	dev.Capabilities.Presets = nil

	cfg := climateConfigFor("godaikin", dev)
	if len(cfg.SwingModes) != 0 || cfg.SwingModeCommandTopic != "" {
		t.Fatalf("swing surface should be absent: %+v", cfg)
	}
	if len(cfg.PresetModes) != 0 || cfg.PresetModeCommandTopic != "" {
		t.Fatalf("preset surface should be absent: %+v", cfg)
	}
}

func TestSensorConfigs(t *testing.T) {
	sensors := sensorConfigsFor("godaikin", testDevice())
	if len(sensors) != 4 {
		t.Fatalf("expected 4 sensors, got %d", len(sensors))
	}

	energy, ok := sensors["energy"]
	if !ok {
		t.Fatalf("missing energy sensor")
	}
	if energy.StateClass != "total_increasing" || energy.DeviceClass != "energy" {
		t.Fatalf("energy sensor misclassified: %+v", energy)
	}
	if energy.UnitOfMeasurement != "kWh" {
		t.Fatalf("unexpected energy unit: %s", energy.UnitOfMeasurement)
	}

	power := sensors["power"]
	if power.UnitOfMeasurement != "W" || power.StateClass != "measurement" {
		t.Fatalf("power sensor misclassified: %+v", power)
	}
}

func TestDiscoveryTopics(t *testing.T) {
	if got := discoveryTopic("climate", "thing-1", "climate"); got != "homeassistant/climate/thing-1/climate/config" {
		t.Fatalf("unexpected discovery topic: %s", got)
	}
	if got := bridgeAvailabilityTopic("godaikin"); got != "godaikin/bridge/availability" {
		t.Fatalf("unexpected availability topic: %s", got)
	}
}

func TestMoldProofSwitchConfig(t *testing.T) {
	cfg := moldProofSwitchConfigFor("godaikin", testDevice())
	if cfg.CommandTopic != "godaikin/thing-1/moldproof/set" {
		t.Fatalf("unexpected command topic: %s", cfg.CommandTopic)
	}
	if cfg.ValueTemplate != "{{ value_json.moldproof_enabled }}" {
		t.Fatalf("unexpected template: %s", cfg.ValueTemplate)
	}
}

func TestParseCommand(t *testing.T) {
	change, err := parseCommand("mode", "cool")
	if err != nil || change.Mode == nil || *change.Mode != device.ModeCool {
		t.Fatalf("mode parse failed: %+v %v", change, err)
	}

	// HA sends "off" as a mode; it means power off.
	change, err = parseCommand("mode", "off")
	if err != nil || change.Power == nil || *change.Power || change.Mode != nil {
		t.Fatalf("off parse failed: %+v %v", change, err)
	}

	change, err = parseCommand("temp", "22.5")
	if err != nil || change.TargetTemp == nil || *change.TargetTemp != 23 {
		t.Fatalf("temp parse failed: %+v %v", change, err)
	}

	change, err = parseCommand("power", "ON")
	if err != nil || change.Power == nil || !*change.Power {
		t.Fatalf("power parse failed: %+v %v", change, err)
	}

	change, err = parseCommand("fan", "medium")
	if err != nil || change.FanSpeed == nil || *change.FanSpeed != device.FanMedium {
		t.Fatalf("fan parse failed: %+v %v", change, err)
	}

	change, err = parseCommand("led", "OFF")
	if err != nil || change.LED == nil || *change.LED {
		t.Fatalf("led parse failed: %+v %v", change, err)
	}

	if _, err := parseCommand("temp", "warm"); err == nil {
		t.Fatalf("expected error for bad temperature")
	}
	if _, err := parseCommand("volume", "11"); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}

package device

import "time"

// ID is the stable vendor identifier for one air-conditioning unit.
type ID string

// Mode is a normalized operating mode.
type Mode string

const (
	ModeCool    Mode = "cool"
	ModeDry     Mode = "dry"
	ModeFanOnly Mode = "fan_only"
)

// FanSpeed is a normalized fan speed setting.
type FanSpeed string

const (
	FanAuto   FanSpeed = "auto"
	FanLow    FanSpeed = "low"
	FanMedium FanSpeed = "medium"
	FanHigh   FanSpeed = "high"
)

// Swing is a normalized louvre position for either axis.
type Swing string

const (
	SwingOff   Swing = "off"
	SwingAuto  Swing = "auto"
	SwingStep1 Swing = "step_1"
	SwingStep2 Swing = "step_2"
	SwingStep3 Swing = "step_3"
	SwingStep4 Swing = "step_4"
	SwingStep5 Swing = "step_5"
)

// Preset is a normalized comfort preset.
type Preset string

const (
	PresetNone    Preset = "none"
	PresetComfort Preset = "comfort"
	PresetEco     Preset = "eco"
	PresetBoost   Preset = "boost"
	PresetSleep   Preset = "sleep"
)

// Temperature limits shared by all known units.
const (
	MinTemp = 16
	MaxTemp = 31
)

// Capabilities is the feature set reported by a unit at discovery.
// Fetched once and assumed stable for the session lifetime.
type Capabilities struct {
	Modes           []Mode
	FanSpeeds       []FanSpeed
	Presets         []Preset
	VerticalSwing   []Swing
	HorizontalSwing []Swing
	StatusLED       bool
	MinTemp         int
	MaxTemp         int
}

func (c Capabilities) SupportsMode(m Mode) bool {
	for _, v := range c.Modes {
		if v == m {
			return true
		}
	}
	return false
}

func (c Capabilities) SupportsFanSpeed(f FanSpeed) bool {
	for _, v := range c.FanSpeeds {
		if v == f {
			return true
		}
	}
	return false
}

func (c Capabilities) SupportsPreset(p Preset) bool {
	for _, v := range c.Presets {
		if v == p {
			return true
		}
	}
	return false
}

func (c Capabilities) SupportsVerticalSwing(s Swing) bool {
	for _, v := range c.VerticalSwing {
		if v == s {
			return true
		}
	}
	return false
}

func (c Capabilities) SupportsHorizontalSwing(s Swing) bool {
	for _, v := range c.HorizontalSwing {
		if v == s {
			return true
		}
	}
	return false
}

func (c Capabilities) SupportsTemperature(t int) bool {
	return t >= c.MinTemp && t <= c.MaxTemp
}

// State is the normalized snapshot of a unit, replaced wholesale on each
// sync. EnergyKwh is a process-lifetime counter maintained by the
// synchronizer, never persisted.
type State struct {
	Power           bool
	Mode            Mode
	TargetTemp      int
	CurrentTemp     float64
	OutdoorTemp     float64
	FanSpeed        FanSpeed
	VerticalSwing   Swing
	HorizontalSwing Swing
	Preset          Preset
	PowerWatts      float64
	EnergyKwh       float64
	LEDOn           bool
	ReportedAt      time.Time
}

// Device is one registered unit. Identity is immutable; state fields are
// written by the synchronizer and optimistic fields by the dispatcher.
type Device struct {
	ID           ID
	Name         string
	Model        string
	MACAddress   string
	Capabilities Capabilities
	State        State
	LastSyncedAt time.Time
	Connected    bool
}

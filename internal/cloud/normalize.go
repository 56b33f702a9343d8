package cloud

import (
	"time"

	"github.com/jkoay/godaikin-bridge/internal/device"
)

var modeFromWire = map[int]device.Mode{
	WireModeCool:    device.ModeCool,
	WireModeDry:     device.ModeDry,
	WireModeFanOnly: device.ModeFanOnly,
}

var modeToWire = map[device.Mode]int{
	device.ModeCool:    WireModeCool,
	device.ModeDry:     WireModeDry,
	device.ModeFanOnly: WireModeFanOnly,
}

var fanFromWire = map[int]device.FanSpeed{
	WireFanAuto:   device.FanAuto,
	WireFanLow:    device.FanLow,
	WireFanMedium: device.FanMedium,
	WireFanHigh:   device.FanHigh,
}

var fanToWire = map[device.FanSpeed]int{
	device.FanAuto:   WireFanAuto,
	device.FanLow:    WireFanLow,
	device.FanMedium: WireFanMedium,
	device.FanHigh:   WireFanHigh,
}

var swingSteps = map[int]device.Swing{
	WireSwingStep1: device.SwingStep1,
	WireSwingStep2: device.SwingStep2,
	WireSwingStep3: device.SwingStep3,
	WireSwingStep4: device.SwingStep4,
	WireSwingStep5: device.SwingStep5,
}

var swingToWire = map[device.Swing]int{
	device.SwingOff:   WireSwingParked,
	device.SwingAuto:  WireSwingParked,
	device.SwingStep1: WireSwingStep1,
	device.SwingStep2: WireSwingStep2,
	device.SwingStep3: WireSwingStep3,
	device.SwingStep4: WireSwingStep4,
	device.SwingStep5: WireSwingStep5,
}

// Normalize converts a raw shadow state into the normalized model.
// EnergyKwh is owned by the synchronizer and left zero here.
func Normalize(s ShadowState, now time.Time) device.State {
	state := device.State{
		Power:       s.SetOnOff == 1,
		TargetTemp:  s.SetTemp,
		CurrentTemp: s.StaIDRoomTemp,
		OutdoorTemp: s.StaODAirTemp,
		PowerWatts:  s.StaODPwrCon,
		LEDOn:       s.SetLEDOff == 0,
		ReportedAt:  parseUpdatedOn(s.UpdatedOn, now),
	}

	if mode, ok := modeFromWire[s.SetMode]; ok {
		state.Mode = mode
	} else {
		state.Mode = device.ModeCool
	}
	if fan, ok := fanFromWire[s.SetFan]; ok {
		state.FanSpeed = fan
	} else {
		state.FanSpeed = device.FanAuto
	}

	switch {
	case s.SetSwing == 1:
		state.VerticalSwing = device.SwingAuto
	default:
		if step, ok := swingSteps[s.SetUDLvr]; ok {
			state.VerticalSwing = step
		} else {
			state.VerticalSwing = device.SwingOff
		}
	}

	if s.EnaLRSwing == 1 {
		if step, ok := swingSteps[s.SetLRLvr]; ok {
			state.HorizontalSwing = step
		} else {
			state.HorizontalSwing = device.SwingOff
		}
	} else {
		state.HorizontalSwing = device.SwingOff
	}

	// Preset precedence mirrors the vendor app: turbo wins over comfort,
	// comfort over eco, eco over sleep.
	switch {
	case s.SetTurbo == 1:
		state.Preset = device.PresetBoost
	case s.SetBreeze == 1:
		state.Preset = device.PresetComfort
	case s.SetEcoplus == 1:
		state.Preset = device.PresetEco
	case s.SetSleep == 1:
		state.Preset = device.PresetSleep
	default:
		state.Preset = device.PresetNone
	}

	return state
}

// CapabilitiesOf derives the capability set from the discovery shadow.
// Capability flags are fetched once and assumed stable for the session.
func CapabilitiesOf(s ShadowState) device.Capabilities {
	caps := device.Capabilities{
		Modes:     []device.Mode{device.ModeCool, device.ModeDry, device.ModeFanOnly},
		FanSpeeds: []device.FanSpeed{device.FanAuto, device.FanLow, device.FanMedium, device.FanHigh},
		Presets:   []device.Preset{device.PresetNone},
		MinTemp:   device.MinTemp,
		MaxTemp:   device.MaxTemp,
		StatusLED: s.EnaLEDOff == 1,
	}

	if s.EnaTurbo == 1 {
		caps.Presets = append(caps.Presets, device.PresetBoost)
	}
	if s.EnaBreeze == 1 {
		caps.Presets = append(caps.Presets, device.PresetComfort)
	}
	if s.EnaEcoplus == 1 {
		caps.Presets = append(caps.Presets, device.PresetEco)
	}
	if s.EnaSilent == 1 {
		caps.Presets = append(caps.Presets, device.PresetSleep)
	}

	caps.VerticalSwing = []device.Swing{device.SwingOff, device.SwingAuto}
	if s.EnaUDStep == 1 {
		caps.VerticalSwing = append(caps.VerticalSwing, allSteps()...)
	}
	if s.EnaLRSwing == 1 {
		caps.HorizontalSwing = []device.Swing{device.SwingOff}
		if s.EnaLRStep == 1 {
			caps.HorizontalSwing = append(caps.HorizontalSwing, allSteps()...)
		}
	}

	return caps
}

func allSteps() []device.Swing {
	return []device.Swing{
		device.SwingStep1, device.SwingStep2, device.SwingStep3,
		device.SwingStep4, device.SwingStep5,
	}
}

func parseUpdatedOn(raw string, fallback time.Time) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return fallback
}

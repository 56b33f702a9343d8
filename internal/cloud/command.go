package cloud

import "github.com/jkoay/godaikin-bridge/internal/device"

// EncodeDesired translates a normalized intent into the Set_* fields the
// device shadow expects. One intent becomes one desired-state publish.
func EncodeDesired(change device.DesiredChange) map[string]int {
	desired := make(map[string]int)

	if change.Power != nil {
		if *change.Power {
			desired["Set_OnOff"] = 1
		} else {
			desired["Set_OnOff"] = 0
		}
	}

	if change.Mode != nil {
		// Selecting a mode powers the unit on, like the vendor app.
		desired["Set_OnOff"] = 1
		desired["Set_Mode"] = modeToWire[*change.Mode]
	}

	if change.TargetTemp != nil {
		desired["Set_Temp"] = *change.TargetTemp
	}

	if change.FanSpeed != nil {
		desired["Set_Fan"] = fanToWire[*change.FanSpeed]
	}

	if change.VerticalSwing != nil {
		if *change.VerticalSwing == device.SwingAuto {
			desired["Set_Swing"] = 1
		} else {
			desired["Set_Swing"] = 0
		}
		desired["Set_UDLvr"] = swingToWire[*change.VerticalSwing]
	}

	if change.HorizontalSwing != nil {
		desired["Set_LRLvr"] = swingToWire[*change.HorizontalSwing]
	}

	if change.Preset != nil {
		// Presets are mutually exclusive on the wire; clear every flag and
		// raise only the requested one.
		desired["Set_Breeze"] = 0
		desired["Set_Ecoplus"] = 0
		desired["Set_Silent"] = 0
		desired["Set_Sleep"] = 0
		desired["Set_SmEcomax"] = 0
		desired["Set_SmSleepplus"] = 0
		desired["Set_SmPwrfulplus"] = 0
		desired["Set_Turbo"] = 0

		switch *change.Preset {
		case device.PresetComfort:
			desired["Set_Breeze"] = 1
		case device.PresetEco:
			desired["Set_Ecoplus"] = 1
		case device.PresetBoost:
			desired["Set_Turbo"] = 1
		case device.PresetSleep:
			desired["Set_Sleep"] = 1
		}
	}

	if change.LED != nil {
		if *change.LED {
			desired["Set_LEDOff"] = 0
			desired["Set_PwrInd"] = 1
		} else {
			desired["Set_LEDOff"] = 1
			desired["Set_PwrInd"] = 0
		}
	}

	return desired
}

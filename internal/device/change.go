package device

import "time"

// Field names a State field for change notifications.
type Field string

const (
	FieldPower           Field = "power"
	FieldMode            Field = "mode"
	FieldTargetTemp      Field = "target_temp"
	FieldCurrentTemp     Field = "current_temp"
	FieldOutdoorTemp     Field = "outdoor_temp"
	FieldFanSpeed        Field = "fan_speed"
	FieldVerticalSwing   Field = "vertical_swing"
	FieldHorizontalSwing Field = "horizontal_swing"
	FieldPreset          Field = "preset"
	FieldPowerWatts      Field = "power_watts"
	FieldEnergyKwh       Field = "energy_kwh"
	FieldLED             Field = "led"
)

// Change is a single field-level state transition.
type Change struct {
	Field Field
	Old   any
	New   any
}

// PowerTransition is the distinguished on/off event consumed by the
// mold-proof scheduler. Previous carries the state before the transition so
// the scheduler can restore fan speed later.
type PowerTransition struct {
	DeviceID ID
	On       bool
	Previous State
	At       time.Time
}

// Update is one change notification emitted by the registry for a device.
type Update struct {
	Device     Device
	Changes    []Change
	Transition *PowerTransition
}

// Diff computes the field-level changes from old to new. ReportedAt is not
// a diffable field.
func Diff(old, new State) []Change {
	var changes []Change
	add := func(f Field, o, n any) {
		changes = append(changes, Change{Field: f, Old: o, New: n})
	}

	if old.Power != new.Power {
		add(FieldPower, old.Power, new.Power)
	}
	if old.Mode != new.Mode {
		add(FieldMode, old.Mode, new.Mode)
	}
	if old.TargetTemp != new.TargetTemp {
		add(FieldTargetTemp, old.TargetTemp, new.TargetTemp)
	}
	if old.CurrentTemp != new.CurrentTemp {
		add(FieldCurrentTemp, old.CurrentTemp, new.CurrentTemp)
	}
	if old.OutdoorTemp != new.OutdoorTemp {
		add(FieldOutdoorTemp, old.OutdoorTemp, new.OutdoorTemp)
	}
	if old.FanSpeed != new.FanSpeed {
		add(FieldFanSpeed, old.FanSpeed, new.FanSpeed)
	}
	if old.VerticalSwing != new.VerticalSwing {
		add(FieldVerticalSwing, old.VerticalSwing, new.VerticalSwing)
	}
	if old.HorizontalSwing != new.HorizontalSwing {
		add(FieldHorizontalSwing, old.HorizontalSwing, new.HorizontalSwing)
	}
	if old.Preset != new.Preset {
		add(FieldPreset, old.Preset, new.Preset)
	}
	if old.PowerWatts != new.PowerWatts {
		add(FieldPowerWatts, old.PowerWatts, new.PowerWatts)
	}
	if old.EnergyKwh != new.EnergyKwh {
		add(FieldEnergyKwh, old.EnergyKwh, new.EnergyKwh)
	}
	if old.LEDOn != new.LEDOn {
		add(FieldLED, old.LEDOn, new.LEDOn)
	}

	return changes
}

// DesiredChange is a partial user intent. Nil fields are left untouched.
type DesiredChange struct {
	Power           *bool
	Mode            *Mode
	TargetTemp      *int
	FanSpeed        *FanSpeed
	VerticalSwing   *Swing
	HorizontalSwing *Swing
	Preset          *Preset
	LED             *bool
}

func (d DesiredChange) Empty() bool {
	return d.Power == nil && d.Mode == nil && d.TargetTemp == nil &&
		d.FanSpeed == nil && d.VerticalSwing == nil && d.HorizontalSwing == nil &&
		d.Preset == nil && d.LED == nil
}

// Merge overlays newer onto d, last write wins per field.
func (d DesiredChange) Merge(newer DesiredChange) DesiredChange {
	out := d
	if newer.Power != nil {
		out.Power = newer.Power
	}
	if newer.Mode != nil {
		out.Mode = newer.Mode
	}
	if newer.TargetTemp != nil {
		out.TargetTemp = newer.TargetTemp
	}
	if newer.FanSpeed != nil {
		out.FanSpeed = newer.FanSpeed
	}
	if newer.VerticalSwing != nil {
		out.VerticalSwing = newer.VerticalSwing
	}
	if newer.HorizontalSwing != nil {
		out.HorizontalSwing = newer.HorizontalSwing
	}
	if newer.Preset != nil {
		out.Preset = newer.Preset
	}
	if newer.LED != nil {
		out.LED = newer.LED
	}
	return out
}

// ApplyTo projects the intent onto a state, for optimistic updates.
// Selecting a mode implies powering the unit on, matching the vendor app.
func (d DesiredChange) ApplyTo(s State) State {
	out := s
	if d.Power != nil {
		out.Power = *d.Power
	}
	if d.Mode != nil {
		out.Mode = *d.Mode
		out.Power = true
	}
	if d.TargetTemp != nil {
		out.TargetTemp = *d.TargetTemp
	}
	if d.FanSpeed != nil {
		out.FanSpeed = *d.FanSpeed
	}
	if d.VerticalSwing != nil {
		out.VerticalSwing = *d.VerticalSwing
	}
	if d.HorizontalSwing != nil {
		out.HorizontalSwing = *d.HorizontalSwing
	}
	if d.Preset != nil {
		out.Preset = *d.Preset
	}
	if d.LED != nil {
		out.LEDOn = *d.LED
	}
	return out
}

// ConfirmedBy reports whether a vendor-confirmed state satisfies the intent.
func (d DesiredChange) ConfirmedBy(s State) bool {
	if d.Power != nil && s.Power != *d.Power {
		return false
	}
	if d.Mode != nil && (s.Mode != *d.Mode || !s.Power) {
		return false
	}
	if d.TargetTemp != nil && s.TargetTemp != *d.TargetTemp {
		return false
	}
	if d.FanSpeed != nil && s.FanSpeed != *d.FanSpeed {
		return false
	}
	if d.VerticalSwing != nil && s.VerticalSwing != *d.VerticalSwing {
		return false
	}
	if d.HorizontalSwing != nil && s.HorizontalSwing != *d.HorizontalSwing {
		return false
	}
	if d.Preset != nil && s.Preset != *d.Preset {
		return false
	}
	if d.LED != nil && s.LEDOn != *d.LED {
		return false
	}
	return true
}

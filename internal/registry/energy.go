package registry

import (
	"sync"
	"time"

	"github.com/jkoay/godaikin-bridge/internal/device"
)

// EnergyCounter derives per-unit energy usage from the reported compressor
// draw, matching what the vendor app shows. The exposed total is a
// process-lifetime counter: it starts at zero, never decreases, and is not
// persisted.
type EnergyCounter struct {
	mu      sync.Mutex
	entries map[device.ID]*energyEntry
}

type energyEntry struct {
	integratedKwh float64
	lastAccumAt   time.Time
	hasAccum      bool

	lastRaw  float64
	hasRaw   bool
	totalKwh float64
}

func NewEnergyCounter() *EnergyCounter {
	return &EnergyCounter{entries: make(map[device.ID]*energyEntry)}
}

// AccumulatePower integrates the reported wattage over the wall time since
// the previous reading and returns the updated total in kWh.
func (e *EnergyCounter) AccumulatePower(id device.ID, watts float64, now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.entry(id)
	if !entry.hasAccum {
		entry.hasAccum = true
		entry.lastAccumAt = now
		return e.observeLocked(entry, entry.integratedKwh)
	}

	hours := now.Sub(entry.lastAccumAt).Hours()
	entry.lastAccumAt = now
	if hours > 0 && watts > 0 {
		entry.integratedKwh += (watts / 1000) * hours
	}

	return e.observeLocked(entry, entry.integratedKwh)
}

// ObserveTotal feeds a raw cumulative reading through the monotonic guard.
// A decrease is a counter reset: the new raw value becomes the baseline and
// counts as post-reset usage, so no negative delta ever reaches subscribers.
func (e *EnergyCounter) ObserveTotal(id device.ID, raw float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observeLocked(e.entry(id), raw)
}

// Value returns the current total for a unit.
func (e *EnergyCounter) Value(id device.ID) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.entries[id]; ok {
		return entry.totalKwh
	}
	return 0
}

func (e *EnergyCounter) entry(id device.ID) *energyEntry {
	entry, ok := e.entries[id]
	if !ok {
		entry = &energyEntry{}
		e.entries[id] = entry
	}
	return entry
}

func (e *EnergyCounter) observeLocked(entry *energyEntry, raw float64) float64 {
	if !entry.hasRaw {
		entry.hasRaw = true
		entry.lastRaw = raw
		return entry.totalKwh
	}

	delta := raw - entry.lastRaw
	if delta < 0 {
		energyResets.Inc()
		delta = raw
	}
	entry.lastRaw = raw
	entry.totalKwh += delta
	return entry.totalKwh
}

package registry

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkoay/godaikin-bridge/internal/cloud"
	"github.com/jkoay/godaikin-bridge/internal/device"
)

var ErrNotFound = errors.New("device not found")

// record is one unit's entry. All mutation happens under mu, so a device
// only ever has one writer at a time: either a poll result or a command's
// optimistic/confirmed update.
type record struct {
	mu        sync.Mutex
	dev       device.Device // displayed view, may carry an optimistic overlay
	confirmed device.State  // last vendor-confirmed state
	ref       cloud.UnitRef
	inFlight  bool
}

// Registry holds the authoritative in-process snapshot of every discovered
// unit and fans change notifications out to subscribers.
type Registry struct {
	staleAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu      sync.RWMutex
	devices map[device.ID]*record

	subMu   sync.Mutex
	subs    map[int]chan device.Update
	nextSub int
}

func New(staleAfter time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if staleAfter <= 0 {
		staleAfter = 90 * time.Second
	}
	return &Registry{
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
		devices:    make(map[device.ID]*record),
		subs:       make(map[int]chan device.Update),
	}
}

// Get returns a copy of one device's current view.
func (r *Registry) Get(id device.ID) (device.Device, error) {
	rec := r.record(id)
	if rec == nil {
		return device.Device{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return r.withAvailability(rec.dev), nil
}

// Snapshot returns a copy of every device's current view.
func (r *Registry) Snapshot() []device.Device {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.devices))
	for _, rec := range r.devices {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]device.Device, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		out = append(out, r.withAvailability(rec.dev))
		rec.mu.Unlock()
	}
	return out
}

// Ref returns the cloud shadow address of a device.
func (r *Registry) Ref(id device.ID) (cloud.UnitRef, error) {
	rec := r.record(id)
	if rec == nil {
		return cloud.UnitRef{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.ref, nil
}

// Subscribe registers a change-notification stream. The returned cancel
// func releases it. Slow subscribers drop updates rather than stall polls.
func (r *Registry) Subscribe(buffer int) (<-chan device.Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan device.Update, buffer)

	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	return ch, func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) publish(u device.Update) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- u:
		default:
			droppedUpdates.Inc()
		}
	}
}

func (r *Registry) record(id device.ID) *record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.devices[id]
}

// withAvailability recomputes the Connected flag against the staleness
// threshold; a device past it is surfaced as unavailable, not as an error.
func (r *Registry) withAvailability(d device.Device) device.Device {
	if r.now().Sub(d.LastSyncedAt) > r.staleAfter {
		d.Connected = false
	}
	return d
}

// upsert is the synchronizer's discovery write path.
func (r *Registry) upsert(id device.ID, dev device.Device, ref cloud.UnitRef) {
	r.mu.Lock()
	rec, ok := r.devices[id]
	if !ok {
		rec = &record{}
		r.devices[id] = rec
	}
	r.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if ok {
		// Identity and capabilities are immutable after discovery; refresh
		// only naming and addressing.
		rec.dev.Name = dev.Name
		rec.ref = ref
		return
	}
	rec.dev = dev
	rec.confirmed = dev.State
	rec.ref = ref
	knownDevices.Set(float64(r.count()))
}

func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// applyConfirmed is the synchronizer's poll write path. It diffs against
// the previous confirmed state, emits field-level changes, and flags power
// transitions for the mold-proof scheduler. While a command is in flight
// the optimistic view stays visible and the poll result is held back.
func (r *Registry) applyConfirmed(id device.ID, state device.State) {
	rec := r.record(id)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	if rec.inFlight {
		rec.mu.Unlock()
		return
	}
	prev := rec.confirmed
	changes := device.Diff(prev, state)
	rec.confirmed = state
	rec.dev.State = state
	rec.dev.LastSyncedAt = r.now()
	snapshot := rec.dev
	rec.mu.Unlock()

	if len(changes) == 0 {
		return
	}

	update := device.Update{Device: snapshot, Changes: changes}
	if prev.Power != state.Power {
		update.Transition = &device.PowerTransition{
			DeviceID: id,
			On:       state.Power,
			Previous: prev,
			At:       snapshot.LastSyncedAt,
		}
	}
	r.publish(update)
}

// markSynced refreshes the sync timestamp and connectivity without a state
// change (used when a poll confirms an unchanged shadow).
func (r *Registry) markSynced(id device.ID, connected bool) {
	rec := r.record(id)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	rec.dev.LastSyncedAt = r.now()
	rec.dev.Connected = connected
	rec.mu.Unlock()
}

// ApplyOptimistic overlays a command intent onto the displayed view so
// observers see it before vendor confirmation. Called by the dispatcher
// only; returns the projected state.
func (r *Registry) ApplyOptimistic(id device.ID, change device.DesiredChange) (device.State, error) {
	rec := r.record(id)
	if rec == nil {
		return device.State{}, ErrNotFound
	}

	rec.mu.Lock()
	rec.inFlight = true
	rec.dev.State = change.ApplyTo(rec.dev.State)
	projected := rec.dev.State
	snapshot := rec.dev
	changes := device.Diff(rec.confirmed, projected)
	rec.mu.Unlock()

	if len(changes) > 0 {
		r.publish(device.Update{Device: snapshot, Changes: changes})
	}
	return projected, nil
}

// ConfirmCommand installs the vendor-confirmed state after a command and
// releases the in-flight hold.
func (r *Registry) ConfirmCommand(id device.ID, state device.State) {
	rec := r.record(id)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	prev := rec.confirmed
	rec.confirmed = state
	rec.dev.State = state
	rec.dev.LastSyncedAt = r.now()
	rec.inFlight = false
	snapshot := rec.dev
	rec.mu.Unlock()

	changes := device.Diff(prev, state)
	if len(changes) == 0 {
		return
	}
	update := device.Update{Device: snapshot, Changes: changes}
	if prev.Power != state.Power {
		update.Transition = &device.PowerTransition{
			DeviceID: id,
			On:       state.Power,
			Previous: prev,
			At:       snapshot.LastSyncedAt,
		}
	}
	r.publish(update)
}

// RevertCommand restores the last confirmed state after a failed command.
func (r *Registry) RevertCommand(id device.ID) {
	rec := r.record(id)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	before := rec.dev.State
	rec.dev.State = rec.confirmed
	rec.inFlight = false
	snapshot := rec.dev
	changes := device.Diff(before, rec.confirmed)
	rec.mu.Unlock()

	if len(changes) > 0 {
		r.publish(device.Update{Device: snapshot, Changes: changes})
	}
}

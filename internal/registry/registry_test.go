package registry

import (
	"testing"
	"time"

	"github.com/jkoay/godaikin-bridge/internal/cloud"
	"github.com/jkoay/godaikin-bridge/internal/device"
)

func seedDevice(t *testing.T, reg *Registry, id device.ID, state device.State) {
	t.Helper()
	reg.upsert(id, device.Device{
		ID:   id,
		Name: "Bedroom",
		Capabilities: device.Capabilities{
			Modes:     []device.Mode{device.ModeCool, device.ModeDry, device.ModeFanOnly},
			FanSpeeds: []device.FanSpeed{device.FanAuto, device.FanLow, device.FanMedium, device.FanHigh},
			MinTemp:   device.MinTemp,
			MaxTemp:   device.MaxTemp,
		},
		State:        state,
		LastSyncedAt: reg.now(),
		Connected:    true,
	}, cloud.UnitRef{ThingName: string(id), Key: "key"})
}

func drainUpdates(ch <-chan device.Update) []device.Update {
	var out []device.Update
	for {
		select {
		case u := <-ch:
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestGetAndSnapshot(t *testing.T) {
	reg := New(90*time.Second, nil)
	seedDevice(t, reg, "unit-1", device.State{Power: true, Mode: device.ModeCool, TargetTemp: 24})

	dev, err := reg.Get("unit-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if dev.State.TargetTemp != 24 || !dev.Connected {
		t.Fatalf("unexpected device: %+v", dev)
	}

	if _, err := reg.Get("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if got := len(reg.Snapshot()); got != 1 {
		t.Fatalf("expected one device, got %d", got)
	}
}

func TestStalenessMarksUnavailable(t *testing.T) {
	reg := New(90*time.Second, nil)
	base := time.Now()
	reg.now = func() time.Time { return base }
	seedDevice(t, reg, "unit-1", device.State{Power: true})

	dev, _ := reg.Get("unit-1")
	if !dev.Connected {
		t.Fatalf("fresh device should be available")
	}

	// Stale data keeps being served; only availability flips.
	reg.now = func() time.Time { return base.Add(2 * time.Minute) }
	dev, err := reg.Get("unit-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if dev.Connected {
		t.Fatalf("device past the staleness threshold should be unavailable")
	}
	if !dev.State.Power {
		t.Fatalf("last known state must be retained")
	}

	// A successful sync restores availability.
	reg.markSynced("unit-1", true)
	dev, _ = reg.Get("unit-1")
	if !dev.Connected {
		t.Fatalf("device should be available after a fresh sync")
	}
}

func TestApplyConfirmedPublishesDiffs(t *testing.T) {
	reg := New(90*time.Second, nil)
	seedDevice(t, reg, "unit-1", device.State{Power: true, Mode: device.ModeCool, TargetTemp: 24})

	updates, cancel := reg.Subscribe(8)
	defer cancel()

	reg.applyConfirmed("unit-1", device.State{Power: true, Mode: device.ModeCool, TargetTemp: 22})

	got := drainUpdates(updates)
	if len(got) != 1 {
		t.Fatalf("expected one update, got %d", len(got))
	}
	if len(got[0].Changes) != 1 || got[0].Changes[0].Field != device.FieldTargetTemp {
		t.Fatalf("unexpected changes: %+v", got[0].Changes)
	}
	if got[0].Transition != nil {
		t.Fatalf("no power flip, no transition expected")
	}

	// An identical poll result publishes nothing.
	reg.applyConfirmed("unit-1", device.State{Power: true, Mode: device.ModeCool, TargetTemp: 22})
	if extra := drainUpdates(updates); len(extra) != 0 {
		t.Fatalf("unchanged state should not publish, got %+v", extra)
	}
}

func TestPowerTransitionCarriesPreviousState(t *testing.T) {
	reg := New(90*time.Second, nil)
	seedDevice(t, reg, "unit-1", device.State{Power: true, Mode: device.ModeCool, FanSpeed: device.FanHigh})

	updates, cancel := reg.Subscribe(8)
	defer cancel()

	reg.applyConfirmed("unit-1", device.State{Power: false, Mode: device.ModeCool, FanSpeed: device.FanHigh})

	got := drainUpdates(updates)
	if len(got) != 1 || got[0].Transition == nil {
		t.Fatalf("expected a power transition, got %+v", got)
	}
	tr := got[0].Transition
	if tr.On {
		t.Fatalf("expected an off transition")
	}
	if tr.Previous.FanSpeed != device.FanHigh {
		t.Fatalf("transition must carry the pre-off state, got %+v", tr.Previous)
	}
}

func TestOptimisticOverlayAndConfirm(t *testing.T) {
	reg := New(90*time.Second, nil)
	seedDevice(t, reg, "unit-1", device.State{Power: true, Mode: device.ModeCool, TargetTemp: 24})

	updates, cancel := reg.Subscribe(8)
	defer cancel()

	temp := 21
	projected, err := reg.ApplyOptimistic("unit-1", device.DesiredChange{TargetTemp: &temp})
	if err != nil {
		t.Fatalf("ApplyOptimistic: %v", err)
	}
	if projected.TargetTemp != 21 {
		t.Fatalf("unexpected projection: %+v", projected)
	}

	// Observers see the optimistic value immediately.
	dev, _ := reg.Get("unit-1")
	if dev.State.TargetTemp != 21 {
		t.Fatalf("optimistic state not visible: %+v", dev.State)
	}
	if got := drainUpdates(updates); len(got) != 1 {
		t.Fatalf("expected one optimistic update, got %d", len(got))
	}

	// A poll landing while the command is in flight must not clobber the
	// optimistic view.
	reg.applyConfirmed("unit-1", device.State{Power: true, Mode: device.ModeCool, TargetTemp: 24})
	dev, _ = reg.Get("unit-1")
	if dev.State.TargetTemp != 21 {
		t.Fatalf("in-flight hold violated: %+v", dev.State)
	}
	if got := drainUpdates(updates); len(got) != 0 {
		t.Fatalf("held-back poll should not publish, got %+v", got)
	}

	reg.ConfirmCommand("unit-1", device.State{Power: true, Mode: device.ModeCool, TargetTemp: 21})
	dev, _ = reg.Get("unit-1")
	if dev.State.TargetTemp != 21 {
		t.Fatalf("confirmed state wrong: %+v", dev.State)
	}

	// After confirmation polls flow again.
	reg.applyConfirmed("unit-1", device.State{Power: true, Mode: device.ModeCool, TargetTemp: 25})
	dev, _ = reg.Get("unit-1")
	if dev.State.TargetTemp != 25 {
		t.Fatalf("poll after confirm should apply: %+v", dev.State)
	}
}

func TestRevertRestoresConfirmedState(t *testing.T) {
	reg := New(90*time.Second, nil)
	seedDevice(t, reg, "unit-1", device.State{Power: true, Mode: device.ModeCool, TargetTemp: 24})

	updates, cancel := reg.Subscribe(8)
	defer cancel()

	temp := 18
	if _, err := reg.ApplyOptimistic("unit-1", device.DesiredChange{TargetTemp: &temp}); err != nil {
		t.Fatalf("ApplyOptimistic: %v", err)
	}
	drainUpdates(updates)

	reg.RevertCommand("unit-1")
	dev, _ := reg.Get("unit-1")
	if dev.State.TargetTemp != 24 {
		t.Fatalf("revert should restore the confirmed state, got %+v", dev.State)
	}
	got := drainUpdates(updates)
	if len(got) != 1 {
		t.Fatalf("expected a revert update, got %d", len(got))
	}
	if got[0].Transition != nil {
		t.Fatalf("reverts never carry power transitions")
	}
}

func TestOptimisticUpdatesCarryNoTransition(t *testing.T) {
	reg := New(90*time.Second, nil)
	seedDevice(t, reg, "unit-1", device.State{Power: true, Mode: device.ModeCool})

	updates, cancel := reg.Subscribe(8)
	defer cancel()

	off := false
	if _, err := reg.ApplyOptimistic("unit-1", device.DesiredChange{Power: &off}); err != nil {
		t.Fatalf("ApplyOptimistic: %v", err)
	}
	got := drainUpdates(updates)
	if len(got) != 1 {
		t.Fatalf("expected one update, got %d", len(got))
	}
	if got[0].Transition != nil {
		t.Fatalf("power transitions only fire on confirmed flips")
	}

	// Confirmation of the power-off is what carries the transition.
	reg.ConfirmCommand("unit-1", device.State{Power: false, Mode: device.ModeCool})
	got = drainUpdates(updates)
	if len(got) != 1 || got[0].Transition == nil || got[0].Transition.On {
		t.Fatalf("expected confirmed off transition, got %+v", got)
	}
}

func TestUpsertKeepsCapabilitiesImmutable(t *testing.T) {
	reg := New(90*time.Second, nil)
	seedDevice(t, reg, "unit-1", device.State{Power: true})

	reg.upsert("unit-1", device.Device{
		ID:           "unit-1",
		Name:         "Renamed",
		Capabilities: device.Capabilities{Modes: []device.Mode{device.ModeCool}},
		State:        device.State{Power: false},
	}, cloud.UnitRef{ThingName: "unit-1", Key: "new-key"})

	dev, _ := reg.Get("unit-1")
	if dev.Name != "Renamed" {
		t.Fatalf("name should refresh on re-discovery")
	}
	if len(dev.Capabilities.Modes) != 3 {
		t.Fatalf("capabilities must not change after discovery: %+v", dev.Capabilities)
	}
	if !dev.State.Power {
		t.Fatalf("state is owned by polls, not re-discovery")
	}
	ref, _ := reg.Ref("unit-1")
	if ref.Key != "new-key" {
		t.Fatalf("shadow key should refresh on re-discovery")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	reg := New(90*time.Second, nil)
	seedDevice(t, reg, "unit-1", device.State{Power: true, TargetTemp: 20})

	updates, cancel := reg.Subscribe(1)
	defer cancel()

	for temp := 21; temp <= 25; temp++ {
		reg.applyConfirmed("unit-1", device.State{Power: true, TargetTemp: temp})
	}

	// The buffer holds one update; the rest were dropped, not blocked on.
	if got := drainUpdates(updates); len(got) != 1 {
		t.Fatalf("expected one buffered update, got %d", len(got))
	}
	dev, _ := reg.Get("unit-1")
	if dev.State.TargetTemp != 25 {
		t.Fatalf("registry state must stay current regardless of subscribers: %+v", dev.State)
	}
}

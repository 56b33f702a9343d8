package moldproof

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jkoay/godaikin-bridge/internal/cloud"
	"github.com/jkoay/godaikin-bridge/internal/device"
	"github.com/jkoay/godaikin-bridge/internal/dispatch"
	"github.com/jkoay/godaikin-bridge/internal/registry"
)

type discoveryAPI struct{}

func (discoveryAPI) ListUnits(context.Context) ([]cloud.Unit, error) {
	return []cloud.Unit{{
		ACName:    "Bedroom",
		ThingName: "thing-1",
		Connected: true,
		ShadowState: cloud.ShadowState{
			Key: "key-1", SetOnOff: 1, SetMode: cloud.WireModeCool,
			SetTemp: 24, SetFan: cloud.WireFanHigh,
		},
	}}, nil
}

func (discoveryAPI) UnitState(context.Context, cloud.UnitRef) (cloud.ShadowState, error) {
	return cloud.ShadowState{}, nil
}

func (discoveryAPI) SendCommand(context.Context, cloud.UnitRef, device.DesiredChange) error {
	return nil
}

// loopbackCommander plays the dispatcher: it confirms every command into
// the registry, so the scheduler sees the transitions its own commands
// produce, exactly like production.
type loopbackCommander struct {
	reg *registry.Registry

	mu    sync.Mutex
	calls []device.DesiredChange
}

func (c *loopbackCommander) ApplyBackground(_ context.Context, id device.ID, change device.DesiredChange) (dispatch.Ack, error) {
	c.mu.Lock()
	c.calls = append(c.calls, change)
	c.mu.Unlock()

	dev, err := c.reg.Get(id)
	if err != nil {
		return dispatch.Ack{}, err
	}
	c.reg.ConfirmCommand(id, change.ApplyTo(dev.State))
	return dispatch.Ack{DeviceID: id, Confirmed: true}, nil
}

func (c *loopbackCommander) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *loopbackCommander) call(i int) device.DesiredChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[i]
}

func newSeededRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(0, nil)
	syncer := registry.NewSynchronizer(discoveryAPI{}, reg, nil)
	if _, err := syncer.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}
	return reg
}

func startScheduler(t *testing.T, reg *registry.Registry, commander Commander, cfg Config) (*Scheduler, context.CancelFunc) {
	t.Helper()
	s := New(commander, reg, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	time.Sleep(10 * time.Millisecond) // let the subscription attach
	return s, cancel
}

func newTestScheduler(t *testing.T, duration time.Duration) (*Scheduler, *registry.Registry, *loopbackCommander, context.CancelFunc) {
	t.Helper()
	reg := newSeededRegistry(t)
	commander := &loopbackCommander{reg: reg}
	s, cancel := startScheduler(t, reg, commander, Config{
		Enabled: true, Duration: duration, RetryBackoff: time.Millisecond,
	})
	return s, reg, commander, cancel
}

// powerOff simulates a confirmed external power-off.
func powerOff(reg *registry.Registry) {
	dev, _ := reg.Get("thing-1")
	state := dev.State
	state.Power = false
	reg.ConfirmCommand("thing-1", state)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %s", timeout)
}

func TestCycleRunsAndRestoresFanSpeed(t *testing.T) {
	s, reg, commander, cancel := newTestScheduler(t, 150*time.Millisecond)
	defer cancel()

	powerOff(reg)

	// The drying fan starts: fan-only at low speed.
	waitFor(t, time.Second, func() bool { return commander.callCount() >= 1 })
	start := commander.call(0)
	if start.Mode == nil || *start.Mode != device.ModeFanOnly {
		t.Fatalf("expected fan_only start, got %+v", start)
	}
	if start.FanSpeed == nil || *start.FanSpeed != device.FanLow {
		t.Fatalf("expected low fan, got %+v", start)
	}

	waitFor(t, time.Second, func() bool {
		stage, _ := s.Status("thing-1")
		return stage == StageRunning
	})
	if _, remaining := s.Status("thing-1"); remaining <= 0 {
		t.Fatalf("running cycle should report time left")
	}

	// At expiry the unit is powered off with the pre-off fan speed.
	waitFor(t, time.Second, func() bool { return commander.callCount() >= 2 })
	finish := commander.call(1)
	if finish.Power == nil || *finish.Power {
		t.Fatalf("expected power off at cycle end, got %+v", finish)
	}
	if finish.FanSpeed == nil || *finish.FanSpeed != device.FanHigh {
		t.Fatalf("expected fan speed restored to high, got %+v", finish)
	}

	waitFor(t, time.Second, func() bool {
		stage, _ := s.Status("thing-1")
		return stage == StageIdle
	})

	// The cycle's own off transition must not arm another cycle.
	time.Sleep(100 * time.Millisecond)
	if got := commander.callCount(); got != 2 {
		t.Fatalf("finish turn-off retriggered the cycle: %d commands", got)
	}
}

func TestOwnStartDoesNotCancelCycle(t *testing.T) {
	s, reg, commander, cancel := newTestScheduler(t, 500*time.Millisecond)
	defer cancel()

	powerOff(reg)
	waitFor(t, time.Second, func() bool { return commander.callCount() >= 1 })

	// The start command confirmed a power-on transition; the cycle must
	// survive it.
	waitFor(t, time.Second, func() bool {
		stage, _ := s.Status("thing-1")
		return stage == StageRunning
	})
	time.Sleep(50 * time.Millisecond)
	if stage, _ := s.Status("thing-1"); stage != StageRunning {
		t.Fatalf("cycle canceled by its own power-on, stage %s", stage)
	}
}

func TestExternalCommandSupersedesCycle(t *testing.T) {
	s, reg, commander, cancel := newTestScheduler(t, time.Hour)
	defer cancel()

	powerOff(reg)
	waitFor(t, time.Second, func() bool {
		stage, _ := s.Status("thing-1")
		return stage == StageRunning
	})

	s.NotifyExternalCommand("thing-1")

	waitFor(t, time.Second, func() bool {
		stage, _ := s.Status("thing-1")
		return stage == StageIdle
	})
	// No restore command: the user took over.
	if got := commander.callCount(); got != 1 {
		t.Fatalf("expected only the start command, got %d", got)
	}
}

func TestExternalPowerOnCancelsCycle(t *testing.T) {
	s, reg, _, cancel := newTestScheduler(t, time.Hour)
	defer cancel()

	powerOff(reg)
	waitFor(t, time.Second, func() bool {
		stage, _ := s.Status("thing-1")
		return stage == StageRunning
	})

	// Someone turns the unit on from the vendor app; the poll confirms it.
	dev, _ := reg.Get("thing-1")
	state := dev.State
	state.Power = false
	reg.ConfirmCommand("thing-1", state)
	state.Power = true
	state.Mode = device.ModeCool
	reg.ConfirmCommand("thing-1", state)

	waitFor(t, time.Second, func() bool {
		stage, _ := s.Status("thing-1")
		return stage == StageIdle
	})
}

func TestDisabledDeviceNeverArms(t *testing.T) {
	s, reg, commander, cancel := newTestScheduler(t, time.Hour)
	defer cancel()

	s.SetEnabled("thing-1", false)
	if s.Enabled("thing-1") {
		t.Fatalf("expected disabled")
	}

	powerOff(reg)
	time.Sleep(100 * time.Millisecond)
	if commander.callCount() != 0 {
		t.Fatalf("disabled device must not start a cycle")
	}
	if stage, _ := s.Status("thing-1"); stage != StageIdle {
		t.Fatalf("unexpected stage %s", stage)
	}

	// Re-enable and verify the next power-off arms again.
	s.SetEnabled("thing-1", true)
	dev, _ := reg.Get("thing-1")
	state := dev.State
	state.Power = true
	reg.ConfirmCommand("thing-1", state)
	powerOff(reg)
	waitFor(t, time.Second, func() bool { return commander.callCount() >= 1 })
}

// flakyCommander rejects the first few commands, then behaves like the
// loopback.
type flakyCommander struct {
	loopback *loopbackCommander

	mu       sync.Mutex
	failures int
	attempts int
}

func (c *flakyCommander) ApplyBackground(ctx context.Context, id device.ID, change device.DesiredChange) (dispatch.Ack, error) {
	c.mu.Lock()
	c.attempts++
	fail := c.attempts <= c.failures
	c.mu.Unlock()
	if fail {
		return dispatch.Ack{}, errors.New("bad gateway")
	}
	return c.loopback.ApplyBackground(ctx, id, change)
}

func (c *flakyCommander) attemptCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func TestStartFailuresKeepCycleArmed(t *testing.T) {
	reg := newSeededRegistry(t)
	commander := &flakyCommander{loopback: &loopbackCommander{reg: reg}, failures: 3}
	s, cancel := startScheduler(t, reg, commander, Config{
		Enabled: true, Duration: time.Hour, RetryBackoff: time.Millisecond,
	})
	defer cancel()

	powerOff(reg)

	// A vendor outage at power-off must not drop the cycle; it stays armed
	// and keeps retrying.
	waitFor(t, time.Second, func() bool { return commander.attemptCount() >= 2 })
	if stage, _ := s.Status("thing-1"); stage == StageIdle {
		t.Fatalf("cycle dropped to idle during command failures")
	}

	waitFor(t, time.Second, func() bool {
		stage, _ := s.Status("thing-1")
		return stage == StageRunning
	})
	if got := commander.attemptCount(); got != 4 {
		t.Fatalf("expected 3 failures then one success, got %d attempts", got)
	}
}

func TestDryingIsOptIn(t *testing.T) {
	reg := newSeededRegistry(t)
	commander := &loopbackCommander{reg: reg}
	s, cancel := startScheduler(t, reg, commander, Config{
		Duration: time.Hour, RetryBackoff: time.Millisecond,
	})
	defer cancel()

	if s.Enabled("thing-1") {
		t.Fatalf("drying should be disabled until opted in")
	}

	powerOff(reg)
	time.Sleep(100 * time.Millisecond)
	if commander.callCount() != 0 {
		t.Fatalf("opted-out device started a cycle")
	}

	// Opting in beats the default; the next power-off arms.
	s.SetEnabled("thing-1", true)
	dev, _ := reg.Get("thing-1")
	state := dev.State
	state.Power = true
	reg.ConfirmCommand("thing-1", state)
	powerOff(reg)
	waitFor(t, time.Second, func() bool { return commander.callCount() >= 1 })
}

func TestDisablingCancelsRunningCycle(t *testing.T) {
	s, reg, _, cancel := newTestScheduler(t, time.Hour)
	defer cancel()

	powerOff(reg)
	waitFor(t, time.Second, func() bool {
		stage, _ := s.Status("thing-1")
		return stage == StageRunning
	})

	s.SetEnabled("thing-1", false)
	waitFor(t, time.Second, func() bool {
		stage, _ := s.Status("thing-1")
		return stage == StageIdle
	})
}

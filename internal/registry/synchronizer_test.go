package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jkoay/godaikin-bridge/internal/cloud"
	"github.com/jkoay/godaikin-bridge/internal/device"
)

type fakeAPI struct {
	mu     sync.Mutex
	units  []cloud.Unit
	states map[string]cloud.ShadowState
	errors map[string]error

	stateCalls int
}

func (f *fakeAPI) ListUnits(context.Context) ([]cloud.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.units, nil
}

func (f *fakeAPI) UnitState(_ context.Context, ref cloud.UnitRef) (cloud.ShadowState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if err := f.errors[ref.ThingName]; err != nil {
		return cloud.ShadowState{}, err
	}
	return f.states[ref.ThingName], nil
}

func (f *fakeAPI) SendCommand(context.Context, cloud.UnitRef, device.DesiredChange) error {
	return nil
}

func (f *fakeAPI) setState(thing string, s cloud.ShadowState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states == nil {
		f.states = make(map[string]cloud.ShadowState)
	}
	f.states[thing] = s
}

func (f *fakeAPI) setError(thing string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errors == nil {
		f.errors = make(map[string]error)
	}
	f.errors[thing] = err
}

func twoUnitAPI() *fakeAPI {
	return &fakeAPI{
		units: []cloud.Unit{
			{
				ACName:    "Bedroom",
				ThingName: "thing-1",
				Connected: true,
				ShadowState: cloud.ShadowState{
					Key: "key-1", SetOnOff: 1, SetMode: cloud.WireModeCool, SetTemp: 24,
					StaIDRoomTemp: 26, EnaTurbo: 1,
				},
			},
			{
				ACName:    "Living Room",
				ThingName: "thing-2",
				Connected: true,
				ShadowState: cloud.ShadowState{
					Key: "key-2", SetOnOff: 0, SetMode: cloud.WireModeCool,
				},
			},
		},
	}
}

func TestDiscoverPopulatesRegistry(t *testing.T) {
	api := twoUnitAPI()
	reg := New(0, nil)
	syncer := NewSynchronizer(api, reg, nil)

	devices, err := syncer.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}

	dev, err := reg.Get("thing-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if dev.Name != "Bedroom" || !dev.State.Power || dev.State.TargetTemp != 24 {
		t.Fatalf("unexpected device: %+v", dev)
	}
	if !dev.Capabilities.SupportsPreset(device.PresetBoost) {
		t.Fatalf("capabilities not derived from discovery shadow")
	}

	ref, err := reg.Ref("thing-1")
	if err != nil || ref.Key != "key-1" {
		t.Fatalf("unexpected ref: %+v err=%v", ref, err)
	}
}

func TestPollAppliesChanges(t *testing.T) {
	api := twoUnitAPI()
	reg := New(0, nil)
	syncer := NewSynchronizer(api, reg, nil)

	if _, err := syncer.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	api.setState("thing-1", cloud.ShadowState{Key: "key-1", SetOnOff: 1, SetMode: cloud.WireModeCool, SetTemp: 22, StaIDRoomTemp: 25})
	api.setState("thing-2", cloud.ShadowState{Key: "key-2"})

	updates, cancel := reg.Subscribe(8)
	defer cancel()

	if err := syncer.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	dev, _ := reg.Get("thing-1")
	if dev.State.TargetTemp != 22 {
		t.Fatalf("poll result not applied: %+v", dev.State)
	}
	if got := drainUpdates(updates); len(got) == 0 {
		t.Fatalf("expected change notifications from the poll")
	}
}

func TestPollIsolatesFailures(t *testing.T) {
	api := twoUnitAPI()
	reg := New(0, nil)
	syncer := NewSynchronizer(api, reg, nil)

	if _, err := syncer.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	api.setError("thing-1", errors.New("shadow read failed"))
	api.setState("thing-2", cloud.ShadowState{Key: "key-2", SetOnOff: 1, SetMode: cloud.WireModeFanOnly})

	err := syncer.Poll(context.Background())
	if err == nil {
		t.Fatalf("expected an aggregate error")
	}

	// The failed unit keeps its last known state; the healthy one advanced.
	dev1, _ := reg.Get("thing-1")
	if !dev1.State.Power || dev1.State.TargetTemp != 24 {
		t.Fatalf("failed unit should keep last state: %+v", dev1.State)
	}
	dev2, _ := reg.Get("thing-2")
	if !dev2.State.Power || dev2.State.Mode != device.ModeFanOnly {
		t.Fatalf("healthy unit should advance: %+v", dev2.State)
	}
}

func TestFetchConfirmedDoesNotWriteRegistry(t *testing.T) {
	api := twoUnitAPI()
	reg := New(0, nil)
	syncer := NewSynchronizer(api, reg, nil)

	if _, err := syncer.Discover(context.Background()); err != nil {
		t.Fatalf("Discover: %v", err)
	}

	api.setState("thing-1", cloud.ShadowState{Key: "key-1", SetOnOff: 1, SetMode: cloud.WireModeDry, SetTemp: 27})

	state, err := syncer.FetchConfirmed(context.Background(), "thing-1")
	if err != nil {
		t.Fatalf("FetchConfirmed: %v", err)
	}
	if state.Mode != device.ModeDry || state.TargetTemp != 27 {
		t.Fatalf("unexpected fetched state: %+v", state)
	}

	dev, _ := reg.Get("thing-1")
	if dev.State.Mode == device.ModeDry {
		t.Fatalf("FetchConfirmed must not write the registry: %+v", dev.State)
	}
}

package registry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jkoay/godaikin-bridge/internal/cloud"
	"github.com/jkoay/godaikin-bridge/internal/device"
)

// Synchronizer pulls unit shadows from the cloud on a cadence driven by the
// caller and reconciles them into the registry. It is passive: the poll
// loop ticker lives in main.
type Synchronizer struct {
	api    cloud.API
	reg    *Registry
	energy *EnergyCounter
	logger *zap.Logger
	now    func() time.Time
}

func NewSynchronizer(api cloud.API, reg *Registry, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		api:    api,
		reg:    reg,
		energy: NewEnergyCounter(),
		logger: logger,
		now:    time.Now,
	}
}

// Discover lists the account's units and populates the registry. Runs once
// at startup and on manual re-discovery. Capabilities are fetched here and
// assumed stable for the session lifetime.
func (s *Synchronizer) Discover(ctx context.Context) ([]device.Device, error) {
	units, err := s.api.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}

	now := s.now()
	devices := make([]device.Device, 0, len(units))
	for _, unit := range units {
		id := device.ID(unit.ThingName)
		state := cloud.Normalize(unit.ShadowState, now)
		state.EnergyKwh = s.energy.AccumulatePower(id, unit.ShadowState.StaODPwrCon, now)

		dev := device.Device{
			ID:           id,
			Name:         unit.ACName,
			Model:        unit.Model,
			MACAddress:   unit.MACAddress,
			Capabilities: cloud.CapabilitiesOf(unit.ShadowState),
			State:        state,
			LastSyncedAt: now,
			Connected:    unit.Connected,
		}
		s.reg.upsert(id, dev, unit.Ref())
		devices = append(devices, dev)

		s.logger.Info("discovered unit",
			zap.String("id", string(id)),
			zap.String("name", unit.ACName))
	}

	return devices, nil
}

// Poll fetches the current shadow for every known unit. One unit's failure
// keeps its stale-but-available state and never aborts the rest of the
// batch; the error returned aggregates only for logging.
func (s *Synchronizer) Poll(ctx context.Context) error {
	devices := s.reg.Snapshot()
	var failed int

	for _, dev := range devices {
		if err := s.pollOne(ctx, dev.ID); err != nil {
			failed++
			pollFailures.WithLabelValues(string(dev.ID)).Inc()
			s.logger.Warn("poll failed, keeping last known state",
				zap.String("id", string(dev.ID)), zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	pollCycles.Inc()
	if failed > 0 {
		return fmt.Errorf("poll: %d of %d units failed", failed, len(devices))
	}
	return nil
}

func (s *Synchronizer) pollOne(ctx context.Context, id device.ID) error {
	ref, err := s.reg.Ref(id)
	if err != nil {
		return err
	}

	shadow, err := s.api.UnitState(ctx, ref)
	if err != nil {
		return err
	}

	now := s.now()
	state := cloud.Normalize(shadow, now)
	state.EnergyKwh = s.energy.AccumulatePower(id, shadow.StaODPwrCon, now)

	s.reg.markSynced(id, true)
	s.reg.applyConfirmed(id, state)
	return nil
}

// FetchConfirmed fetches and normalizes one unit's shadow without writing
// the registry. The dispatcher uses it for confirmation polls.
func (s *Synchronizer) FetchConfirmed(ctx context.Context, id device.ID) (device.State, error) {
	ref, err := s.reg.Ref(id)
	if err != nil {
		return device.State{}, err
	}
	shadow, err := s.api.UnitState(ctx, ref)
	if err != nil {
		return device.State{}, err
	}
	now := s.now()
	state := cloud.Normalize(shadow, now)
	state.EnergyKwh = s.energy.Value(id)
	return state, nil
}

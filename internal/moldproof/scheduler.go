// Package moldproof runs the anti-mold drying cycle: after a unit is
// switched off, blow the coil dry on a low fan for a while, then restore
// the previous fan speed and power down for good.
package moldproof

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jkoay/godaikin-bridge/internal/device"
	"github.com/jkoay/godaikin-bridge/internal/dispatch"
	"github.com/jkoay/godaikin-bridge/internal/registry"
)

// Stage is the per-device cycle state.
type Stage string

const (
	StageIdle     Stage = "idle"
	StageStarting Stage = "starting" // drying command in flight
	StageRunning  Stage = "running"
)

// Commander applies system-originated intents without counting as a user
// override. Satisfied by *dispatch.Dispatcher.
type Commander interface {
	ApplyBackground(ctx context.Context, id device.ID, change device.DesiredChange) (dispatch.Ack, error)
}

// Config bounds the cycle. Enabled is the default for devices without an
// explicit override; the original integration treats drying as opt-in.
type Config struct {
	Enabled      bool
	Duration     time.Duration // drying time, default one hour
	RetryBackoff time.Duration // pause between failed start attempts
}

func (c Config) withDefaults() Config {
	if c.Duration <= 0 {
		c.Duration = time.Hour
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	return c
}

type cycle struct {
	stage   Stage
	endsAt  time.Time
	prevFan device.FanSpeed
	cancel  context.CancelFunc
}

// Scheduler watches power transitions and drives one drying cycle per
// power-off. A user command or an external power-on supersedes the cycle.
type Scheduler struct {
	commander Commander
	reg       *registry.Registry
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time

	mu        sync.Mutex
	cycles    map[device.ID]*cycle
	overrides map[device.ID]bool // per-device enablement, beats cfg.Enabled
	// Transitions produced by the scheduler's own commands must not arm or
	// cancel a cycle. Counters survive the async delivery of updates.
	ignoreOff map[device.ID]int
	ignoreOn  map[device.ID]int
}

func New(commander Commander, reg *registry.Registry, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		commander: commander,
		reg:       reg,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
		cycles:    make(map[device.ID]*cycle),
		overrides: make(map[device.ID]bool),
		ignoreOff: make(map[device.ID]int),
		ignoreOn:  make(map[device.ID]int),
	}
}

// Run consumes registry updates until ctx is canceled. Blocking; meant to
// be its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	updates, cancel := s.reg.Subscribe(16)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			s.cancelAll()
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Transition != nil {
				s.handleTransition(ctx, *u.Transition)
			}
		}
	}
}

// NotifyExternalCommand supersedes any cycle on the device. Wired to
// dispatch.Dispatcher.OnExternalCommand.
func (s *Scheduler) NotifyExternalCommand(id device.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(id, "external command")
}

// SetEnabled toggles the cycle for one device. Disabling also cancels a
// cycle in progress.
func (s *Scheduler) SetEnabled(id device.ID, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[id] = enabled
	if !enabled {
		s.cancelLocked(id, "disabled")
	}
}

func (s *Scheduler) Enabled(id device.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabledLocked(id)
}

func (s *Scheduler) enabledLocked(id device.ID) bool {
	if v, ok := s.overrides[id]; ok {
		return v
	}
	return s.cfg.Enabled
}

// Status reports the cycle stage and, when running, the time left.
func (s *Scheduler) Status(id device.ID) (Stage, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cycles[id]
	if !ok {
		return StageIdle, 0
	}
	if c.stage != StageRunning {
		return c.stage, 0
	}
	remaining := c.endsAt.Sub(s.now())
	if remaining < 0 {
		remaining = 0
	}
	return StageRunning, remaining
}

func (s *Scheduler) handleTransition(ctx context.Context, t device.PowerTransition) {
	s.mu.Lock()

	if t.On {
		if s.ignoreOn[t.DeviceID] > 0 {
			s.ignoreOn[t.DeviceID]--
			s.mu.Unlock()
			return
		}
		// Someone powered the unit on behind our back.
		s.cancelLocked(t.DeviceID, "powered on externally")
		s.mu.Unlock()
		return
	}

	if s.ignoreOff[t.DeviceID] > 0 {
		s.ignoreOff[t.DeviceID]--
		s.mu.Unlock()
		return
	}
	if !s.enabledLocked(t.DeviceID) {
		s.mu.Unlock()
		return
	}
	if _, active := s.cycles[t.DeviceID]; active {
		s.mu.Unlock()
		return
	}

	dev, err := s.reg.Get(t.DeviceID)
	if err != nil || !dev.Capabilities.SupportsMode(device.ModeFanOnly) {
		s.mu.Unlock()
		return
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	c := &cycle{
		stage:   StageStarting,
		prevFan: t.Previous.FanSpeed,
		cancel:  cancel,
	}
	s.cycles[t.DeviceID] = c
	activeCycles.Inc()
	s.mu.Unlock()

	go s.runCycle(cycleCtx, t.DeviceID, c)
}

func (s *Scheduler) runCycle(ctx context.Context, id device.ID, c *cycle) {
	cyclesStarted.Inc()
	s.logger.Info("starting drying cycle",
		zap.String("id", string(id)),
		zap.Duration("duration", s.cfg.Duration),
		zap.String("restore_fan", string(c.prevFan)))

	if !s.startDrying(ctx, id, s.now().Add(s.cfg.Duration)) {
		cycleFailures.Inc()
		s.finish(id, c)
		return
	}

	s.mu.Lock()
	c.stage = StageRunning
	c.endsAt = s.now().Add(s.cfg.Duration)
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		cyclesCanceled.Inc()
		s.logger.Info("drying cycle superseded", zap.String("id", string(id)))
		s.finish(id, c)
		return
	case <-timer.C:
	}

	s.stopDrying(ctx, id, c.prevFan)
	cyclesCompleted.Inc()
	s.logger.Info("drying cycle complete", zap.String("id", string(id)))
	s.finish(id, c)
}

// startDrying puts the unit in fan-only at low speed. Command failures keep
// the cycle armed: it retries after a backoff until the fan starts, the
// cycle is superseded, or the drying window closes without a single success.
func (s *Scheduler) startDrying(ctx context.Context, id device.ID, deadline time.Time) bool {
	mode := device.ModeFanOnly
	fan := device.FanLow
	change := device.DesiredChange{Mode: &mode, FanSpeed: &fan}

	for attempt := 1; ; attempt++ {
		// The unit is off, so this command powers it on. Swallow that
		// transition before it arrives.
		s.mu.Lock()
		s.ignoreOn[id]++
		s.mu.Unlock()

		_, err := s.commander.ApplyBackground(ctx, id, change)
		if err == nil {
			return true
		}

		// No power-on was confirmed, take the reservation back.
		s.mu.Lock()
		if s.ignoreOn[id] > 0 {
			s.ignoreOn[id]--
		}
		s.mu.Unlock()

		if ctx.Err() != nil {
			return false
		}
		s.logger.Warn("drying fan command failed",
			zap.String("id", string(id)), zap.Int("attempt", attempt), zap.Error(err))

		if !s.now().Before(deadline) {
			s.logger.Warn("drying window closed before the fan ever started",
				zap.String("id", string(id)), zap.Int("attempts", attempt))
			return false
		}

		timer := time.NewTimer(s.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// stopDrying restores the fan speed the unit had before power-off and
// turns it off in one desired-state publish.
func (s *Scheduler) stopDrying(ctx context.Context, id device.ID, prevFan device.FanSpeed) {
	off := false
	change := device.DesiredChange{Power: &off}
	if prevFan != "" {
		change.FanSpeed = &prevFan
	}

	s.mu.Lock()
	s.ignoreOff[id]++
	s.mu.Unlock()

	if _, err := s.commander.ApplyBackground(ctx, id, change); err != nil {
		s.mu.Lock()
		if s.ignoreOff[id] > 0 {
			s.ignoreOff[id]--
		}
		s.mu.Unlock()
		cycleFailures.Inc()
		s.logger.Warn("drying cycle shutdown failed, unit left in fan mode",
			zap.String("id", string(id)), zap.Error(err))
	}
}

func (s *Scheduler) finish(id device.ID, c *cycle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycles[id] == c {
		delete(s.cycles, id)
		activeCycles.Dec()
	}
}

func (s *Scheduler) cancelLocked(id device.ID, reason string) {
	c, ok := s.cycles[id]
	if !ok {
		return
	}
	s.logger.Debug("canceling drying cycle",
		zap.String("id", string(id)), zap.String("reason", reason))
	c.cancel()
}

func (s *Scheduler) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cycles {
		c.cancel()
	}
}

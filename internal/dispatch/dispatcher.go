package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jkoay/godaikin-bridge/internal/cloud"
	"github.com/jkoay/godaikin-bridge/internal/device"
	"github.com/jkoay/godaikin-bridge/internal/registry"
)

var (
	// ErrUnsupported rejects a command outside the device's capability set,
	// before any network round trip.
	ErrUnsupported = errors.New("command not supported by device")

	// ErrBusy is returned in reject mode when a command is already in
	// flight for the device.
	ErrBusy = errors.New("device has a command in flight")

	// ErrStaleConfirmation means the vendor accepted the command but the
	// confirmed state still diverged after all confirmation polls. The
	// optimistic update has been reverted; the condition is a warning,
	// not a failure of the device.
	ErrStaleConfirmation = errors.New("confirmed state diverged from command")
)

// CommandError wraps a transport failure that survived every retry. The
// optimistic update has been reverted.
type CommandError struct {
	DeviceID device.ID
	Attempts int
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command to %s failed after %d attempts: %v", e.DeviceID, e.Attempts, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// BusyMode selects the flow-control policy for overlapping commands.
type BusyMode string

const (
	// BusyCoalesce queues the newer intent, replacing any not-yet-sent
	// queued command (last write wins). The default: rapid UI interaction
	// must not become a command storm.
	BusyCoalesce BusyMode = "coalesce"
	// BusyReject fails overlapping commands with ErrBusy.
	BusyReject BusyMode = "reject"
)

// StateFetcher provides vendor-confirmed state for confirmation polls.
type StateFetcher interface {
	FetchConfirmed(ctx context.Context, id device.ID) (device.State, error)
}

// Config bounds the retry and confirmation behavior.
type Config struct {
	RetryLimit   int           // send attempts per command
	ConfirmLimit int           // confirmation polls per command
	BackoffBase  time.Duration // exponential backoff unit
	BusyMode     BusyMode
}

func (c Config) withDefaults() Config {
	if c.RetryLimit <= 0 {
		c.RetryLimit = 3
	}
	if c.ConfirmLimit <= 0 {
		c.ConfirmLimit = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BusyMode == "" {
		c.BusyMode = BusyCoalesce
	}
	return c
}

// Ack acknowledges an applied command.
type Ack struct {
	CommandID string
	DeviceID  device.ID
	Confirmed bool
}

type result struct {
	ack Ack
	err error
}

type pending struct {
	ctx     context.Context
	change  device.DesiredChange
	origin  origin
	waiters []chan result
}

func (p *pending) resolve(r result) {
	for _, ch := range p.waiters {
		ch <- r
	}
}

type origin int

const (
	originUser origin = iota
	originBackground
)

// worker serializes command application for one device.
type worker struct {
	busy   bool
	queued *pending
}

// Dispatcher applies user intents to units: capability validation,
// optimistic registry update, bounded-retry send, confirmation polling,
// and rollback on failure. At most one command is in flight per device.
type Dispatcher struct {
	api     cloud.API
	reg     *registry.Registry
	fetcher StateFetcher
	cfg     Config
	logger  *zap.Logger

	// onExternalCommand lets the mold-proof scheduler observe user
	// commands so they supersede a running cycle.
	onExternalCommand func(device.ID)

	mu      sync.Mutex
	workers map[device.ID]*worker
}

func New(api cloud.API, reg *registry.Registry, fetcher StateFetcher, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		api:     api,
		reg:     reg,
		fetcher: fetcher,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		workers: make(map[device.ID]*worker),
	}
}

// OnExternalCommand registers a hook invoked for every user-originated
// command before it is applied.
func (d *Dispatcher) OnExternalCommand(fn func(device.ID)) {
	d.onExternalCommand = fn
}

// Apply validates and applies a user intent, blocking until the command
// (possibly coalesced with later intents) is confirmed, reverted, or fails.
func (d *Dispatcher) Apply(ctx context.Context, id device.ID, change device.DesiredChange) (Ack, error) {
	return d.apply(ctx, id, change, originUser)
}

// ApplyBackground applies a system-originated intent (e.g. the mold-proof
// cycle) without registering as an external override.
func (d *Dispatcher) ApplyBackground(ctx context.Context, id device.ID, change device.DesiredChange) (Ack, error) {
	return d.apply(ctx, id, change, originBackground)
}

func (d *Dispatcher) apply(ctx context.Context, id device.ID, change device.DesiredChange, from origin) (Ack, error) {
	if change.Empty() {
		return Ack{}, fmt.Errorf("empty command")
	}

	dev, err := d.reg.Get(id)
	if err != nil {
		return Ack{}, err
	}
	if err := validate(dev.Capabilities, change); err != nil {
		commandsRejected.Inc()
		return Ack{}, err
	}

	if from == originUser && d.onExternalCommand != nil {
		d.onExternalCommand(id)
	}

	done := make(chan result, 1)

	d.mu.Lock()
	w, ok := d.workers[id]
	if !ok {
		w = &worker{}
		d.workers[id] = w
	}

	if w.busy {
		if d.cfg.BusyMode == BusyReject {
			d.mu.Unlock()
			return Ack{}, ErrBusy
		}
		if w.queued != nil {
			// Replace the not-yet-sent intent, newer fields win. Earlier
			// waiters observe the merged command's outcome.
			w.queued.change = w.queued.change.Merge(change)
			w.queued.ctx = ctx
			w.queued.waiters = append(w.queued.waiters, done)
			commandsCoalesced.Inc()
		} else {
			w.queued = &pending{ctx: ctx, change: change, origin: from, waiters: []chan result{done}}
		}
		d.mu.Unlock()
	} else {
		w.busy = true
		d.mu.Unlock()
		p := &pending{ctx: ctx, change: change, origin: from, waiters: []chan result{done}}
		go d.run(id, w, p)
	}

	select {
	case r := <-done:
		return r.ack, r.err
	case <-ctx.Done():
		return Ack{}, ctx.Err()
	}
}

// run executes one command and then drains any coalesced successor before
// releasing the device.
func (d *Dispatcher) run(id device.ID, w *worker, p *pending) {
	for {
		r := d.execute(id, p)
		p.resolve(r)

		d.mu.Lock()
		next := w.queued
		w.queued = nil
		if next == nil {
			w.busy = false
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		// A queued intent already satisfied by the confirmed state needs
		// no further network command.
		if r.err == nil && r.ack.Confirmed {
			if dev, err := d.reg.Get(id); err == nil && next.change.ConfirmedBy(dev.State) {
				commandsDeduplicated.Inc()
				next.resolve(result{ack: Ack{CommandID: uuid.NewString(), DeviceID: id, Confirmed: true}})
				d.mu.Lock()
				if w.queued == nil {
					w.busy = false
					d.mu.Unlock()
					return
				}
				next = w.queued
				w.queued = nil
				d.mu.Unlock()
			}
		}

		p = next
	}
}

func (d *Dispatcher) execute(id device.ID, p *pending) result {
	ctx := p.ctx
	ack := Ack{CommandID: uuid.NewString(), DeviceID: id}

	if _, err := d.reg.ApplyOptimistic(id, p.change); err != nil {
		return result{err: err}
	}

	ref, err := d.reg.Ref(id)
	if err != nil {
		d.reg.RevertCommand(id)
		return result{err: err}
	}

	if err := d.send(ctx, id, ref, p.change); err != nil {
		d.reg.RevertCommand(id)
		commandFailures.Inc()
		return result{err: err}
	}
	commandsSent.Inc()

	confirmed, err := d.confirm(ctx, id, p.change)
	if err != nil {
		d.reg.RevertCommand(id)
		if errors.Is(err, ErrStaleConfirmation) {
			staleConfirmations.Inc()
			d.logger.Warn("command accepted but unconfirmed, reverting optimistic state",
				zap.String("id", string(id)))
		}
		return result{ack: ack, err: err}
	}

	d.reg.ConfirmCommand(id, confirmed)
	ack.Confirmed = true
	return result{ack: ack}
}

func (d *Dispatcher) send(ctx context.Context, id device.ID, ref cloud.UnitRef, change device.DesiredChange) error {
	var lastErr error
	for attempt := 0; attempt < d.cfg.RetryLimit; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, d.backoff(attempt)); err != nil {
				return &CommandError{DeviceID: id, Attempts: attempt, Err: err}
			}
		}

		lastErr = d.api.SendCommand(ctx, ref, change)
		if lastErr == nil {
			return nil
		}
		if !cloud.IsTransient(lastErr) {
			return &CommandError{DeviceID: id, Attempts: attempt + 1, Err: lastErr}
		}
		d.logger.Debug("command send failed, retrying",
			zap.String("id", string(id)), zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}
	return &CommandError{DeviceID: id, Attempts: d.cfg.RetryLimit, Err: lastErr}
}

// confirm polls the vendor-confirmed state until it satisfies the intent.
func (d *Dispatcher) confirm(ctx context.Context, id device.ID, change device.DesiredChange) (device.State, error) {
	for attempt := 0; attempt < d.cfg.ConfirmLimit; attempt++ {
		if err := sleepCtx(ctx, d.backoff(attempt)); err != nil {
			return device.State{}, err
		}

		state, err := d.fetcher.FetchConfirmed(ctx, id)
		if err != nil {
			d.logger.Debug("confirmation poll failed",
				zap.String("id", string(id)), zap.Error(err))
			continue
		}
		if change.ConfirmedBy(state) {
			return state, nil
		}
	}
	return device.State{}, ErrStaleConfirmation
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	backoff := d.cfg.BackoffBase
	for i := 0; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}

func sleepCtx(ctx context.Context, dur time.Duration) error {
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// validate rejects intents outside the capability set before any I/O.
func validate(caps device.Capabilities, change device.DesiredChange) error {
	if change.Mode != nil && !caps.SupportsMode(*change.Mode) {
		return fmt.Errorf("%w: mode %s", ErrUnsupported, *change.Mode)
	}
	if change.FanSpeed != nil && !caps.SupportsFanSpeed(*change.FanSpeed) {
		return fmt.Errorf("%w: fan speed %s", ErrUnsupported, *change.FanSpeed)
	}
	if change.Preset != nil && *change.Preset != device.PresetNone && !caps.SupportsPreset(*change.Preset) {
		return fmt.Errorf("%w: preset %s", ErrUnsupported, *change.Preset)
	}
	if change.VerticalSwing != nil && !caps.SupportsVerticalSwing(*change.VerticalSwing) {
		return fmt.Errorf("%w: vertical swing %s", ErrUnsupported, *change.VerticalSwing)
	}
	if change.HorizontalSwing != nil && !caps.SupportsHorizontalSwing(*change.HorizontalSwing) {
		return fmt.Errorf("%w: horizontal swing %s", ErrUnsupported, *change.HorizontalSwing)
	}
	if change.TargetTemp != nil && !caps.SupportsTemperature(*change.TargetTemp) {
		return fmt.Errorf("%w: temperature %d out of range %d..%d",
			ErrUnsupported, *change.TargetTemp, caps.MinTemp, caps.MaxTemp)
	}
	if change.LED != nil && !caps.StatusLED {
		return fmt.Errorf("%w: status led", ErrUnsupported)
	}
	return nil
}

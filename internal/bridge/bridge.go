// Package bridge exposes the registry over MQTT in the Home Assistant
// convention: retained discovery documents, one retained state document
// per unit, and command topics feeding the dispatcher.
package bridge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/jkoay/godaikin-bridge/internal/device"
	"github.com/jkoay/godaikin-bridge/internal/dispatch"
	"github.com/jkoay/godaikin-bridge/internal/moldproof"
	"github.com/jkoay/godaikin-bridge/internal/registry"
)

// CommandSink applies user intents. Satisfied by *dispatch.Dispatcher.
type CommandSink interface {
	Apply(ctx context.Context, id device.ID, change device.DesiredChange) (dispatch.Ack, error)
}

// CycleControl toggles and inspects the drying cycle. Satisfied by
// *moldproof.Scheduler.
type CycleControl interface {
	SetEnabled(id device.ID, enabled bool)
	Enabled(id device.ID) bool
	Status(id device.ID) (moldproof.Stage, time.Duration)
}

type Config struct {
	BrokerURL   string // tcp://host:1883 or ssl://host:8883; empty disables the bridge
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
}

func (c Config) withDefaults() Config {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "godaikin"
	}
	if c.ClientID == "" {
		c.ClientID = randomClientID()
	}
	return c
}

// Bridge mirrors registry state to MQTT and turns command topics into
// dispatcher calls.
type Bridge struct {
	cfg      Config
	reg      *registry.Registry
	commands CommandSink
	cycles   CycleControl
	logger   *zap.Logger

	client mqtt.Client

	mu        sync.Mutex
	announced map[device.ID]bool
}

func New(cfg Config, reg *registry.Registry, commands CommandSink, cycles CycleControl, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		cfg:       cfg.withDefaults(),
		reg:       reg,
		commands:  commands,
		cycles:    cycles,
		logger:    logger,
		announced: make(map[device.ID]bool),
	}
}

// Run connects to the broker and blocks until ctx is canceled, mirroring
// every registry update in between.
func (b *Bridge) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.BrokerURL)
	opts.SetUsername(b.cfg.Username)
	opts.SetPassword(b.cfg.Password)
	opts.SetClientID(b.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetWill(bridgeAvailabilityTopic(b.cfg.TopicPrefix), payloadOffline, 0, true)
	opts.OnConnect = func(_ mqtt.Client) {
		b.onConnect(ctx)
	}

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect: %w", token.Error())
	}

	updates, cancel := b.reg.Subscribe(32)
	defer cancel()

	// Availability depends on staleness, which moves without producing an
	// update. Refresh it on a slow tick.
	refresh := time.NewTicker(30 * time.Second)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			b.publish(bridgeAvailabilityTopic(b.cfg.TopicPrefix), payloadOffline, true)
			b.client.Disconnect(250)
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			b.mirror(u.Device)
		case <-refresh.C:
			for _, dev := range b.reg.Snapshot() {
				b.publishAvailability(dev)
			}
		}
	}
}

func (b *Bridge) onConnect(ctx context.Context) {
	b.logger.Info("mqtt connected", zap.String("broker", b.cfg.BrokerURL))
	b.publish(bridgeAvailabilityTopic(b.cfg.TopicPrefix), payloadOnline, true)

	filter := fmt.Sprintf("%s/+/+/set", b.cfg.TopicPrefix)
	if token := b.client.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		b.handleCommand(ctx, msg.Topic(), msg.Payload())
	}); token.Wait() && token.Error() != nil {
		b.logger.Error("mqtt subscribe failed", zap.String("filter", filter), zap.Error(token.Error()))
	}

	// Re-announce after every (re)connect; the broker may have lost
	// retained messages.
	b.mu.Lock()
	b.announced = make(map[device.ID]bool)
	b.mu.Unlock()
	for _, dev := range b.reg.Snapshot() {
		b.mirror(dev)
	}
}

// mirror announces a newly seen unit and publishes its current state.
func (b *Bridge) mirror(dev device.Device) {
	b.mu.Lock()
	first := !b.announced[dev.ID]
	b.announced[dev.ID] = true
	b.mu.Unlock()

	if first {
		b.announce(dev)
	}
	b.publishState(dev)
	b.publishAvailability(dev)
}

func (b *Bridge) announce(dev device.Device) {
	b.publishJSON(discoveryTopic("climate", dev.ID, "climate"), climateConfigFor(b.cfg.TopicPrefix, dev))
	for object, cfg := range sensorConfigsFor(b.cfg.TopicPrefix, dev) {
		b.publishJSON(discoveryTopic("sensor", dev.ID, object), cfg)
	}
	b.publishJSON(discoveryTopic("switch", dev.ID, "moldproof"), moldProofSwitchConfigFor(b.cfg.TopicPrefix, dev))
	if dev.Capabilities.StatusLED {
		b.publishJSON(discoveryTopic("light", dev.ID, "led"), ledLightConfigFor(b.cfg.TopicPrefix, dev))
	}
	b.logger.Info("announced unit", zap.String("id", string(dev.ID)), zap.String("name", dev.Name))
}

type statePayload struct {
	Power              string  `json:"power"`
	Mode               string  `json:"mode"`
	TargetTemp         int     `json:"target_temp"`
	CurrentTemp        float64 `json:"current_temp"`
	OutdoorTemp        float64 `json:"outdoor_temp"`
	FanMode            string  `json:"fan_mode"`
	SwingMode          string  `json:"swing_mode"`
	HorizontalSwing    string  `json:"horizontal_swing,omitempty"`
	PresetMode         string  `json:"preset_mode"`
	PowerWatts         float64 `json:"power_watts"`
	EnergyKwh          float64 `json:"energy_kwh"`
	LED                string  `json:"led"`
	MoldProofEnabled   string  `json:"moldproof_enabled"`
	MoldProofStage     string  `json:"moldproof_stage"`
	MoldProofRemaining int64   `json:"moldproof_remaining_s"`
}

func (b *Bridge) statePayloadFor(dev device.Device) statePayload {
	s := dev.State
	stage, remaining := b.cycles.Status(dev.ID)
	return statePayload{
		Power:              onOff(s.Power),
		Mode:               string(s.Mode),
		TargetTemp:         s.TargetTemp,
		CurrentTemp:        s.CurrentTemp,
		OutdoorTemp:        s.OutdoorTemp,
		FanMode:            string(s.FanSpeed),
		SwingMode:          string(s.VerticalSwing),
		HorizontalSwing:    string(s.HorizontalSwing),
		PresetMode:         string(s.Preset),
		PowerWatts:         s.PowerWatts,
		EnergyKwh:          s.EnergyKwh,
		LED:                onOff(s.LEDOn),
		MoldProofEnabled:   onOff(b.cycles.Enabled(dev.ID)),
		MoldProofStage:     string(stage),
		MoldProofRemaining: int64(remaining.Seconds()),
	}
}

func (b *Bridge) publishState(dev device.Device) {
	t := topics{prefix: b.cfg.TopicPrefix, id: dev.ID}
	b.publishJSON(t.state(), b.statePayloadFor(dev))
	statesPublished.Inc()
}

func (b *Bridge) publishAvailability(dev device.Device) {
	t := topics{prefix: b.cfg.TopicPrefix, id: dev.ID}
	payload := payloadOffline
	if dev.Connected {
		payload = payloadOnline
	}
	b.publish(t.availability(), payload, true)
}

func (b *Bridge) handleCommand(ctx context.Context, topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != b.cfg.TopicPrefix || parts[3] != "set" {
		return
	}
	id := device.ID(parts[1])
	kind := parts[2]
	value := strings.TrimSpace(string(payload))
	commandsReceived.Inc()

	if kind == "moldproof" {
		b.cycles.SetEnabled(id, strings.EqualFold(value, payloadOn))
		if dev, err := b.reg.Get(id); err == nil {
			b.publishState(dev)
		}
		return
	}

	change, err := parseCommand(kind, value)
	if err != nil {
		commandErrors.Inc()
		b.logger.Warn("bad mqtt command",
			zap.String("topic", topic), zap.String("payload", value), zap.Error(err))
		return
	}

	// Paho handlers must not block on network round trips.
	go func() {
		applyCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := b.commands.Apply(applyCtx, id, change); err != nil {
			commandErrors.Inc()
			b.logger.Warn("mqtt command failed",
				zap.String("id", string(id)), zap.String("kind", kind), zap.Error(err))
		}
	}()
}

// parseCommand maps one command-topic payload onto a desired change.
func parseCommand(kind, value string) (device.DesiredChange, error) {
	var change device.DesiredChange
	switch kind {
	case "power":
		on := strings.EqualFold(value, payloadOn)
		change.Power = &on
	case "mode":
		if value == "off" {
			off := false
			change.Power = &off
			break
		}
		m := device.Mode(value)
		change.Mode = &m
	case "temp":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return change, fmt.Errorf("temperature %q: %w", value, err)
		}
		t := int(f + 0.5)
		change.TargetTemp = &t
	case "fan":
		f := device.FanSpeed(value)
		change.FanSpeed = &f
	case "swing":
		s := device.Swing(value)
		change.VerticalSwing = &s
	case "swing_h":
		s := device.Swing(value)
		change.HorizontalSwing = &s
	case "preset":
		p := device.Preset(value)
		change.Preset = &p
	case "led":
		on := strings.EqualFold(value, payloadOn)
		change.LED = &on
	default:
		return change, fmt.Errorf("unknown command %q", kind)
	}
	return change, nil
}

func (b *Bridge) publishJSON(topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("marshal publish payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	b.publish(topic, string(data), true)
}

func (b *Bridge) publish(topic, payload string, retained bool) {
	if token := b.client.Publish(topic, 0, retained, payload); token.Wait() && token.Error() != nil {
		publishFailures.Inc()
		b.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(token.Error()))
	}
}

func onOff(v bool) string {
	if v {
		return payloadOn
	}
	return payloadOff
}

func randomClientID() string {
	nonce := make([]byte, 8)
	_, _ = rand.Read(nonce)
	return "godaikin-" + base64.RawURLEncoding.EncodeToString(nonce)
}

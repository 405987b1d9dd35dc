// Package bridge exposes lamps to Home Assistant over MQTT: discovery,
// retained state and availability, and JSON commands.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/fairyctl/internal/lamp"
	"github.com/chaz8081/fairyctl/internal/mqtt"
)

// Client is the part of *mqtt.Client the bridge uses.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Options configures a Bridge.
type Options struct {
	Topics mqtt.Topics
	QoS    byte
	Logger *slog.Logger

	// ReconnectInterval is how often an unavailable lamp is reconnected.
	// Zero disables it.
	ReconnectInterval time.Duration
	// ColorSettle is waited after a color change so the lamp finishes its
	// transition before the next command.
	ColorSettle time.Duration
}

// DefaultOptions returns sensible defaults for the given prefixes.
func DefaultOptions(topics mqtt.Topics) Options {
	return Options{
		Topics:            topics,
		QoS:               1,
		ReconnectInterval: 30 * time.Second,
		ColorSettle:       700 * time.Millisecond,
	}
}

const commandQueueSize = 16

type entry struct {
	id       string
	name     string
	lamp     *lamp.Lamp
	commands chan Command
}

// Bridge connects lamps to an MQTT broker.
type Bridge struct {
	client Client
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex
	entries []*entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Bridge publishing through client.
func New(client Client, opts Options) *Bridge {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Bridge{client: client, opts: opts, log: log}
}

// Add registers a lamp under name. Call before Start.
func (b *Bridge) Add(name string, l *lamp.Lamp) {
	e := &entry{
		id:       mqtt.ObjectID(l.Address()),
		name:     name,
		lamp:     l,
		commands: make(chan Command, commandQueueSize),
	}
	l.AddObserver(func() { b.publishState(e) })

	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

// Start publishes discovery, subscribes to command topics and starts one
// worker per lamp. Workers connect their lamp in the background and run
// until ctx is cancelled or Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancel = cancel
	entries := append([]*entry(nil), b.entries...)
	b.mu.Unlock()

	for _, e := range entries {
		if err := b.announce(e); err != nil {
			cancel()
			return err
		}
		if err := b.client.Subscribe(b.opts.Topics.Command(e.id), b.opts.QoS, b.commandHandler(e)); err != nil {
			cancel()
			return fmt.Errorf("bridge: subscribe %s: %w", e.id, err)
		}
		b.publishState(e)

		b.wg.Add(1)
		go b.run(ctx, e)
	}

	b.log.Info("[BRIDGE] started", "lamps", len(entries))
	return nil
}

// Stop cancels in-flight commands, waits for the workers and marks every
// lamp offline.
func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	entries := append([]*entry(nil), b.entries...)
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	for _, e := range entries {
		b.publish(b.opts.Topics.Availability(e.id), []byte(mqtt.PayloadOffline))
	}
	b.log.Info("[BRIDGE] stopped")
}

func (b *Bridge) announce(e *entry) error {
	cfg := newDiscovery(b.opts.Topics, e.id, e.name, e.lamp.Address())
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("bridge: encode discovery for %s: %w", e.id, err)
	}
	if err := b.client.Publish(b.opts.Topics.LightConfig(e.id), data, b.opts.QoS, true); err != nil {
		return fmt.Errorf("bridge: publish discovery for %s: %w", e.id, err)
	}
	return nil
}

func (b *Bridge) commandHandler(e *entry) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		cmd, err := ParseCommand(payload)
		if err != nil {
			return err
		}
		select {
		case e.commands <- cmd:
		default:
			b.log.Warn("[BRIDGE] command queue full, dropping command", "lamp", e.id)
		}
		return nil
	}
}

// run applies commands for one lamp in arrival order and keeps the lamp
// connected.
func (b *Bridge) run(ctx context.Context, e *entry) {
	defer b.wg.Done()

	e.lamp.Connect(ctx)

	var tick <-chan time.Time
	if b.opts.ReconnectInterval > 0 {
		t := time.NewTicker(b.opts.ReconnectInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-e.commands:
			b.Apply(ctx, e.lamp, cmd)
		case <-tick:
			if !e.lamp.Available() {
				b.log.Debug("[BRIDGE] reconnecting unavailable lamp", "lamp", e.id)
				e.lamp.Connect(ctx)
			}
		}
	}
}

// Apply translates cmd into lamp intents. Brightness 0 turns the lamp off;
// the lamp is powered on before brightness or color is changed.
func (b *Bridge) Apply(ctx context.Context, l *lamp.Lamp, cmd Command) {
	if strings.EqualFold(cmd.State, "OFF") {
		l.TurnOff(ctx)
		return
	}
	if cmd.Brightness != nil && *cmd.Brightness == 0 {
		b.log.Debug("[BRIDGE] brightness 0, turning off", "lamp", l.Address())
		l.TurnOff(ctx)
		return
	}

	brightness := l.Brightness()
	if cmd.Brightness != nil {
		brightness = ToLampBrightness(*cmd.Brightness)
	}

	if !l.IsOn() && !l.TurnOn(ctx) {
		return
	}

	switch {
	case cmd.Color != nil:
		c := lamp.ClampColor(cmd.Color.R, cmd.Color.G, cmd.Color.B)
		if l.SetColorBrightness(ctx, c, brightness) {
			sleepContext(ctx, b.opts.ColorSettle)
		}
	case cmd.Brightness != nil:
		l.SetBrightness(ctx, brightness)
	}
}

func (b *Bridge) publishState(e *entry) {
	s := e.lamp.Snapshot()

	avail := mqtt.PayloadOffline
	if s.Available {
		avail = mqtt.PayloadOnline
	}
	b.publish(b.opts.Topics.Availability(e.id), []byte(avail))

	data, err := json.Marshal(newState(s))
	if err != nil {
		b.log.Error("[BRIDGE] encode state", "lamp", e.id, "error", err)
		return
	}
	b.publish(b.opts.Topics.State(e.id), data)
}

func (b *Bridge) publish(topic string, payload []byte) {
	if err := b.client.Publish(topic, payload, b.opts.QoS, true); err != nil {
		b.log.Warn("[BRIDGE] publish failed", "topic", topic, "error", err)
	}
}

// ParseCommand decodes a JSON command payload.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("bridge: decode command: %w", err)
	}
	switch strings.ToUpper(cmd.State) {
	case "", "ON", "OFF":
	default:
		return Command{}, fmt.Errorf("bridge: unknown state %q", cmd.State)
	}
	return cmd, nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Package hotkey provides a global hotkey listener using gohook.
// It supports "toggle" mode (each press flips the lamp) and "hold" mode
// (lamp on while the keys are held).
package hotkey

import (
	"context"
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// EventType is what the lamp should do.
type EventType int

const (
	// EventToggle flips the lamp's power.
	EventToggle EventType = iota
	// EventOn switches the lamp on.
	EventOn
	// EventOff switches the lamp off.
	EventOff
)

func (t EventType) String() string {
	switch t {
	case EventToggle:
		return "toggle"
	case EventOn:
		return "on"
	case EventOff:
		return "off"
	default:
		return "unknown"
	}
}

// Event is emitted on the channel returned by Events.
type Event struct {
	Type EventType
}

// Listener manages a global hotkey and emits lamp events.
type Listener struct {
	keys []string
	mode string // "hold" or "toggle"
	ch   chan Event
	done chan struct{}
	once sync.Once
}

// NewListener creates a Listener for the given key combo and mode.
// keys should be lowercase key names (e.g., ["ctrl", "shift", "l"]).
// mode must be "hold" or "toggle".
func NewListener(keys []string, mode string) *Listener {
	return &Listener{
		keys: keys,
		mode: mode,
		ch:   make(chan Event, 16),
		done: make(chan struct{}),
	}
}

// Events returns the channel that receives hotkey events.
// The channel is closed when the listener stops.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Start begins listening for the global hotkey.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	hook.Register(hook.KeyDown, l.keys, func(hook.Event) { l.keyDown() })
	if l.mode == "hold" {
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) { l.keyUp() })
	}

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

func (l *Listener) keyDown() {
	if l.mode == "hold" {
		l.emit(EventOn)
		return
	}
	l.emit(EventToggle)
}

func (l *Listener) keyUp() {
	if l.mode == "hold" {
		l.emit(EventOff)
	}
}

func (l *Listener) emit(t EventType) {
	select {
	case l.ch <- Event{Type: t}:
	default: // don't block the hook thread if the channel is full
	}
}

// Switch is the lamp surface the hotkey drives.
type Switch interface {
	TurnOn(ctx context.Context) bool
	TurnOff(ctx context.Context) bool
	IsOn() bool
}

// Drive applies events to sw until events is closed or ctx is done.
func Drive(ctx context.Context, events <-chan Event, sw Switch, log *slog.Logger) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			on := ev.Type == EventOn || (ev.Type == EventToggle && !sw.IsOn())
			log.Debug("[HOTKEY] event", "type", ev.Type.String(), "on", on)

			var sent bool
			if on {
				sent = sw.TurnOn(ctx)
			} else {
				sent = sw.TurnOff(ctx)
			}
			if !sent {
				log.Warn("[HOTKEY] lamp did not accept command", "type", ev.Type.String())
			}
		}
	}
}

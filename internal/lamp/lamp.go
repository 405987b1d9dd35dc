// Package lamp manages the connection to a single Hello Fairy lamp and turns
// power, brightness and color intents into command frames.
//
// A Lamp never returns transport errors to its caller. Failures are logged
// and reported as a false result; Available tells whether the lamp is
// currently reachable. The next intent reconnects automatically.
package lamp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chaz8081/fairyctl/internal/ble"
	"github.com/chaz8081/fairyctl/internal/ble/protocol"
)

// Options configures a Lamp.
type Options struct {
	Logger  *slog.Logger
	Connect ble.ConnectOptions

	// PairDelay is how long the lamp is given to accept pairing. There is no
	// acknowledgment; the lamp is assumed paired once it elapses.
	PairDelay time.Duration
	// PairFrame is written when pairing. nil sends nothing, which is all the
	// current lamp firmware needs.
	PairFrame protocol.Frame
	// PowerSettle is waited after a power frame. Brightness and color frames
	// return immediately; callers pace those themselves because a new frame
	// interrupts the lamp's running transition.
	PowerSettle time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Connect:     ble.DefaultConnectOptions(),
		PairDelay:   300 * time.Millisecond,
		PowerSettle: 500 * time.Millisecond,
	}
}

// Lamp is the session with one physical lamp.
//
// Intents, Connect and Disconnect are serialized, so commands complete in
// the order they are issued. Observers run synchronously on the goroutine
// that caused the change and must not call intents.
type Lamp struct {
	adapter ble.Adapter
	device  ble.Device
	opts    Options
	log     *slog.Logger

	opMu sync.Mutex // serializes Connect, Disconnect and intents

	mu          sync.Mutex
	state       State
	conn        ble.Connection
	char        ble.Characteristic
	generation  uint64 // bumped whenever a connection is established or retired
	on          bool
	brightness  int
	color       Color
	commandedAt time.Time
	observers   []func()
	hooks       []func(from, to State)

	servicesLogged bool // guarded by opMu
}

// New creates a disconnected Lamp for device.
func New(adapter ble.Adapter, device ble.Device, opts Options) *Lamp {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	log := opts.Logger.With("lamp", device.Address)
	if opts.Connect.Logger == nil {
		opts.Connect.Logger = log
	}
	log.Debug("[LAMP] initializing", "name", device.Name, "rssi", device.RSSI)
	return &Lamp{
		adapter: adapter,
		device:  device,
		opts:    opts,
		log:     log,
	}
}

// AddObserver registers fn to be called when the lamp becomes available or
// unavailable, and after every intent that changed the cached state.
// Observers are called in registration order.
func (l *Lamp) AddObserver(fn func()) {
	l.mu.Lock()
	l.observers = append(l.observers, fn)
	l.mu.Unlock()
}

// AddTransitionHook registers fn to be called on every state transition.
func (l *Lamp) AddTransitionHook(fn func(from, to State)) {
	l.mu.Lock()
	l.hooks = append(l.hooks, fn)
	l.mu.Unlock()
}

// Connect brings the lamp to Paired. It is a no-op if the lamp is already
// Pairing or Paired. Failures are logged and leave the lamp Disconnected.
func (l *Lamp) Connect(ctx context.Context) {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	l.connect(ctx)
}

// Disconnect releases the radio connection. It is safe to call repeatedly.
func (l *Lamp) Disconnect() {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	l.disconnect()
}

// SendFrame connects if needed and writes frame, then waits postWriteDelay.
// It reports whether the frame was written.
func (l *Lamp) SendFrame(ctx context.Context, frame protocol.Frame, postWriteDelay time.Duration) bool {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	return l.sendFrame(ctx, frame, postWriteDelay)
}

// TurnOn switches the lamp on.
func (l *Lamp) TurnOn(ctx context.Context) bool {
	return l.power(ctx, true)
}

// TurnOff switches the lamp off.
func (l *Lamp) TurnOff(ctx context.Context) bool {
	return l.power(ctx, false)
}

// SetBrightness sets brightness (clamped to 0..100), keeping the current color.
func (l *Lamp) SetBrightness(ctx context.Context, brightness int) bool {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	brightness = ClampBrightness(brightness)
	l.log.Debug("[LAMP] set brightness", "brightness", brightness)

	l.mu.Lock()
	c := l.color
	l.mu.Unlock()

	if !l.sendFrame(ctx, protocol.EncodeBrightnessColor(brightness, c.R, c.G, c.B), 0) {
		return false
	}
	l.mu.Lock()
	l.brightness = brightness
	l.commandedAt = time.Now()
	l.mu.Unlock()
	l.notify()
	return true
}

// SetColor sets the color at the current brightness.
func (l *Lamp) SetColor(ctx context.Context, c Color) bool {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.mu.Lock()
	brightness := l.brightness
	l.mu.Unlock()
	return l.setColor(ctx, c, brightness)
}

// SetColorBrightness sets color and brightness (clamped to 0..100) in one frame.
func (l *Lamp) SetColorBrightness(ctx context.Context, c Color, brightness int) bool {
	l.opMu.Lock()
	defer l.opMu.Unlock()
	return l.setColor(ctx, c, ClampBrightness(brightness))
}

// RequestState asks the lamp for its state. The protocol has no confirmed
// state query yet, so this only logs.
func (l *Lamp) RequestState(_ context.Context) {
	l.log.Debug("[LAMP] state request not supported by protocol")
}

// Address returns the lamp's BLE address.
func (l *Lamp) Address() string { return l.device.Address }

// Name returns the advertised name.
func (l *Lamp) Name() string { return l.device.Name }

// State returns the connection state.
func (l *Lamp) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Available reports whether the lamp is paired and accepting commands.
func (l *Lamp) Available() bool {
	return l.State() == Paired
}

// IsOn returns the last commanded power state.
func (l *Lamp) IsOn() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

// Brightness returns the last commanded brightness.
func (l *Lamp) Brightness() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.brightness
}

// Color returns the last commanded color.
func (l *Lamp) Color() Color {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.color
}

// Snapshot returns a copy of the lamp's state.
func (l *Lamp) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Address:     l.device.Address,
		Name:        l.device.Name,
		State:       l.state,
		Available:   l.state == Paired,
		On:          l.on,
		Brightness:  l.brightness,
		Color:       l.color,
		CommandedAt: l.commandedAt,
	}
}

func (l *Lamp) String() string {
	s := l.Snapshot()
	power := "OFF"
	if s.On {
		power = "ON"
	}
	return fmt.Sprintf("<Lamp %s %s bri_%d rgb_%s %s>", s.Address, power, s.Brightness, s.Color, s.State)
}

func (l *Lamp) power(ctx context.Context, on bool) bool {
	l.opMu.Lock()
	defer l.opMu.Unlock()

	l.log.Debug("[LAMP] set power", "on", on)
	if !l.sendFrame(ctx, protocol.EncodePower(on), l.opts.PowerSettle) {
		return false
	}
	l.mu.Lock()
	l.on = on
	l.commandedAt = time.Now()
	l.mu.Unlock()
	l.notify()
	return true
}

// setColor requires opMu and an already clamped brightness.
func (l *Lamp) setColor(ctx context.Context, c Color, brightness int) bool {
	l.log.Debug("[LAMP] set color", "color", c.String(), "brightness", brightness)
	if !l.sendFrame(ctx, protocol.EncodeBrightnessColor(brightness, c.R, c.G, c.B), 0) {
		return false
	}
	l.mu.Lock()
	l.color = c
	l.brightness = brightness
	l.commandedAt = time.Now()
	l.mu.Unlock()
	l.notify()
	return true
}

// connect requires opMu.
func (l *Lamp) connect(ctx context.Context) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	// The stack can miss a disconnect event; drop a handle that went dead.
	if conn != nil && !conn.Connected() {
		l.log.Debug("[LAMP] connection dropped silently, releasing it")
		l.disconnect()
	}

	switch l.State() {
	case Pairing, Paired:
		return
	}

	// A handle left in Unpaired is replaced, not reused.
	l.disconnect()

	l.log.Debug("[LAMP] connecting")
	conn, err := ble.EstablishConnection(ctx, l.adapter, l.device.Address, l.opts.Connect)
	if err != nil {
		l.logRadioError("connect", err)
		return
	}

	l.mu.Lock()
	l.generation++
	gen := l.generation
	l.conn = conn
	l.mu.Unlock()
	conn.OnDisconnect(func() { l.linkDropped(gen) })

	char, err := conn.DiscoverCharacteristic(ble.ServiceUUID, ble.ControlCharUUID)
	if err != nil {
		l.logRadioError("discover control characteristic", err)
		l.disconnect()
		return
	}
	l.mu.Lock()
	live := gen == l.generation
	if live {
		l.char = char
	}
	l.mu.Unlock()
	if !live {
		l.log.Warn("[LAMP] connection lost during discovery")
		return
	}

	l.logServicesOnce(ctx, conn)

	if !l.advance(gen, Disconnected, Unpaired) {
		return
	}

	if !l.pair(gen) {
		l.disconnect()
		return
	}

	if err := sleepContext(ctx, l.opts.PairDelay); err != nil {
		l.logRadioError("pair", err)
		l.disconnect()
		return
	}
	if !l.advance(gen, Pairing, Paired) {
		l.log.Warn("[LAMP] connection lost while pairing")
		return
	}
	l.log.Info("[LAMP] connected", "name", l.device.Name)

	l.RequestState(ctx)
	l.notify()
}

// logServicesOnce dumps the GATT table of the first connection when debug
// logging is enabled.
func (l *Lamp) logServicesOnce(ctx context.Context, conn ble.Connection) {
	if l.servicesLogged || !l.log.Enabled(ctx, slog.LevelDebug) {
		return
	}
	l.servicesLogged = true
	if err := ble.LogServices(conn, l.log); err != nil {
		l.log.Debug("[LAMP] could not list services", "error", err)
	}
}

// pair sends the pairing signal and moves Unpaired -> Pairing. A write
// error returns the lamp to Unpaired.
func (l *Lamp) pair(gen uint64) bool {
	l.mu.Lock()
	ready := l.state == Unpaired && l.conn != nil && l.char != nil
	char := l.char
	l.mu.Unlock()
	if !ready {
		l.log.Error("[LAMP] cannot pair: not connected")
		return false
	}

	l.log.Debug("[LAMP] requesting pairing")
	if !l.advance(gen, Unpaired, Pairing) {
		return false
	}
	if l.opts.PairFrame == nil {
		return true
	}
	if err := char.Write(l.opts.PairFrame); err != nil {
		l.logRadioError("pair", err)
		l.advance(gen, Pairing, Unpaired)
		return false
	}
	return true
}

// disconnect requires opMu.
func (l *Lamp) disconnect() {
	l.mu.Lock()
	conn := l.conn
	if conn == nil {
		l.mu.Unlock()
		return
	}
	l.conn, l.char = nil, nil
	// Notifications still in flight for conn are now stale.
	l.generation++
	l.mu.Unlock()

	if err := conn.Disconnect(); err != nil {
		l.logRadioError("disconnect", err)
	}
	if l.setState(Disconnected) {
		l.notify()
	}
}

// linkDropped handles an unexpected disconnect reported by the radio for
// the connection established at generation gen.
func (l *Lamp) linkDropped(gen uint64) {
	l.mu.Lock()
	if gen != l.generation || l.conn == nil {
		l.mu.Unlock()
		l.log.Debug("[LAMP] ignoring disconnect from retired connection", "generation", gen)
		return
	}
	l.conn, l.char = nil, nil
	l.generation++
	l.mu.Unlock()

	l.log.Warn("[LAMP] disconnected")
	l.setState(Disconnected)
	l.notify()
}

// sendFrame requires opMu.
func (l *Lamp) sendFrame(ctx context.Context, frame protocol.Frame, postWriteDelay time.Duration) bool {
	l.connect(ctx)

	l.mu.Lock()
	state, conn, char := l.state, l.conn, l.char
	l.mu.Unlock()
	if state != Paired || char == nil {
		l.log.Warn("[LAMP] not available, command dropped", "frame", frame.String())
		return false
	}

	if err := char.Write(frame); err != nil {
		l.logRadioError("send", err)
		if !conn.Connected() {
			l.disconnect()
		}
		return false
	}
	l.log.Debug("[LAMP] frame sent", "frame", frame.String())

	if err := sleepContext(ctx, postWriteDelay); err != nil {
		l.log.Debug("[LAMP] post-write delay cut short", "error", err)
	}
	return true
}

// advance moves from -> to if gen is still the live connection and the
// lamp is in state from.
func (l *Lamp) advance(gen uint64, from, to State) bool {
	l.mu.Lock()
	if gen != l.generation || l.state != from {
		l.mu.Unlock()
		return false
	}
	l.state = to
	hooks := slices.Clone(l.hooks)
	l.mu.Unlock()

	l.fireHooks(hooks, from, to)
	return true
}

// setState sets the state unconditionally and reports whether it changed.
func (l *Lamp) setState(to State) bool {
	l.mu.Lock()
	from := l.state
	l.state = to
	hooks := slices.Clone(l.hooks)
	l.mu.Unlock()

	if from == to {
		return false
	}
	l.fireHooks(hooks, from, to)
	return true
}

func (l *Lamp) fireHooks(hooks []func(State, State), from, to State) {
	l.log.Debug("[LAMP] state transition", "from", from.String(), "to", to.String())
	for _, fn := range hooks {
		fn(from, to)
	}
}

func (l *Lamp) notify() {
	l.mu.Lock()
	observers := slices.Clone(l.observers)
	l.mu.Unlock()
	for _, fn := range observers {
		fn()
	}
}

func (l *Lamp) logRadioError(op string, err error) {
	switch {
	case errors.Is(err, ble.ErrTimeout):
		l.log.Error("[LAMP] "+op+": timeout", "error", err)
	case errors.Is(err, context.Canceled):
		l.log.Warn("[LAMP] "+op+": cancelled", "error", err)
	default:
		l.log.Error("[LAMP] "+op+": link error", "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

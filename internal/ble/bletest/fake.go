// Package bletest provides scriptable in-memory implementations of the ble
// interfaces for tests of packages built on top of the radio link.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chaz8081/fairyctl/internal/ble"
)

// Characteristic records writes. A non-nil write error is returned (once)
// by the next Write instead of recording it.
type Characteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
}

func (c *Characteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeErr; err != nil {
		c.writeErr = nil
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

// FailNextWrite makes the next Write return err.
func (c *Characteristic) FailNextWrite(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// Writes returns a copy of every successful write, oldest first.
func (c *Characteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Connection simulates one BLE connection. Like BlueZ, an explicit
// Disconnect also fires the registered disconnect callback.
type Connection struct {
	Control *Characteristic

	mu             sync.Mutex
	disconnectCb   func()
	down           bool
	disconnects    int
	disconnectErr  error
	discoverErr    error
	dropOnDiscover bool
	listings       int
}

// NewConnection returns a live connection with an empty control characteristic.
func NewConnection() *Connection {
	return &Connection{Control: &Characteristic{}}
}

func (c *Connection) DiscoverCharacteristic(_, charUUID string) (ble.Characteristic, error) {
	c.mu.Lock()
	err, drop := c.discoverErr, c.dropOnDiscover
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if charUUID != ble.ControlCharUUID {
		return nil, fmt.Errorf("bletest: unknown characteristic UUID %q", charUUID)
	}
	if drop {
		c.Drop()
	}
	return c.Control, nil
}

// Services reports the lamp's UART service with the control characteristic,
// which is write-only and so has no readable value.
func (c *Connection) Services() ([]ble.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings++
	return []ble.Service{{
		UUID: ble.ServiceUUID,
		Characteristics: []ble.CharacteristicInfo{{
			UUID:    ble.ControlCharUUID,
			ReadErr: errors.New("bletest: read not permitted"),
		}},
	}}, nil
}

// ServiceListings returns how many times Services was called.
func (c *Connection) ServiceListings() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listings
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	c.disconnects++
	c.down = true
	cb := c.disconnectCb
	err := c.disconnectErr
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
	return err
}

func (c *Connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	c.mu.Unlock()
}

func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.down
}

// Drop simulates an unexpected link loss reported by the stack.
func (c *Connection) Drop() {
	c.mu.Lock()
	c.down = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// GoStale marks the link down without any notification, as when the stack
// misses a disconnect event.
func (c *Connection) GoStale() {
	c.mu.Lock()
	c.down = true
	c.mu.Unlock()
}

// SetDisconnectError makes Disconnect return err.
func (c *Connection) SetDisconnectError(err error) {
	c.mu.Lock()
	c.disconnectErr = err
	c.mu.Unlock()
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Adapter simulates the BLE adapter. Errors queued with FailConnects are
// returned by successive Connect calls before connections succeed.
type Adapter struct {
	mu             sync.Mutex
	devices        []ble.Device
	connectErrs    []error
	discoverErr    error
	dropOnDiscover bool
	writeErr       error
	connects       int
	conns          []*Connection
}

// NewAdapter returns an adapter whose scans report devices.
func NewAdapter(devices ...ble.Device) *Adapter {
	return &Adapter{devices: devices}
}

func (a *Adapter) Enable() error { return nil }

func (a *Adapter) Scan(_ context.Context) ([]ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ble.Device(nil), a.devices...), nil
}

func (a *Adapter) Connect(ctx context.Context, _ string) (ble.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if len(a.connectErrs) > 0 {
		err := a.connectErrs[0]
		a.connectErrs = a.connectErrs[1:]
		return nil, err
	}
	conn := NewConnection()
	conn.discoverErr = a.discoverErr
	conn.dropOnDiscover = a.dropOnDiscover
	conn.Control.writeErr = a.writeErr
	a.conns = append(a.conns, conn)
	return conn, nil
}

// FailConnects queues errors for the next Connect calls.
func (a *Adapter) FailConnects(errs ...error) {
	a.mu.Lock()
	a.connectErrs = append(a.connectErrs, errs...)
	a.mu.Unlock()
}

// FailDiscovery makes characteristic discovery fail on new connections.
func (a *Adapter) FailDiscovery(err error) {
	a.mu.Lock()
	a.discoverErr = err
	a.mu.Unlock()
}

// DropDuringDiscovery makes new connections drop while the control
// characteristic is being discovered. Discovery itself still succeeds.
func (a *Adapter) DropDuringDiscovery(drop bool) {
	a.mu.Lock()
	a.dropOnDiscover = drop
	a.mu.Unlock()
}

// FailFirstWrite makes the first write on each new connection fail with err.
func (a *Adapter) FailFirstWrite(err error) {
	a.mu.Lock()
	a.writeErr = err
	a.mu.Unlock()
}

// Connects returns how many times Connect was called.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// Latest returns the most recently created connection, or nil.
func (a *Adapter) Latest() *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

// Connections returns every connection created so far, oldest first.
func (a *Adapter) Connections() []*Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Connection(nil), a.conns...)
}

var (
	_ ble.Adapter        = (*Adapter)(nil)
	_ ble.Connection     = (*Connection)(nil)
	_ ble.Characteristic = (*Characteristic)(nil)
)

package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth on
// macOS, WinRT on Windows).
// On macOS, BLE device addresses are CoreBluetooth UUIDs (not MAC addresses).
// The Address field in config and Device structs stores this UUID string.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	enableMu sync.Mutex
	enabled  bool

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by normalized address
}

// NewTinyGoAdapter creates a new BLE adapter using the platform default.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.enableMu.Lock()
	defer a.enableMu.Unlock()
	if a.enabled {
		return nil
	}
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable adapter: %w", ErrLink, err)
	}

	// Single adapter-level handler; it fires with connected=false when any
	// peripheral drops and is routed to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		key := normalizeAddress(device.Address.String())
		a.mu.Lock()
		conn, ok := a.connections[key]
		if ok {
			delete(a.connections, key)
		}
		a.mu.Unlock()
		if ok {
			conn.dropped()
		}
	})

	a.enabled = true
	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context) ([]Device, error) {
	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true

		var mfr map[uint16][]byte
		if elems := result.ManufacturerData(); len(elems) > 0 {
			mfr = make(map[uint16][]byte, len(elems))
			for _, e := range elems {
				mfr[e.CompanyID] = append([]byte(nil), e.Data...)
			}
		}
		devices = append(devices, Device{
			Name:             result.LocalName(),
			Address:          addr,
			RSSI:             int(result.RSSI),
			ManufacturerData: mfr,
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: scan: %w", ErrLink, err)
	}
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks internally with its own timeout.
	// We wrap it to also respect our ctx cancellation.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect keeps running until its own timeout; a late
		// success is torn down so the lamp is not left connected.
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", address, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("%w: connect to %s: %w", ErrLink, address, result.err)
		}
		conn := &tinyGoConnection{device: result.device, adapter: a, key: normalizeAddress(address)}
		conn.connected.Store(true)

		a.mu.Lock()
		a.connections[conn.key] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// forget stops routing drop events to conn.
func (a *TinyGoAdapter) forget(conn *tinyGoConnection) {
	a.mu.Lock()
	if a.connections[conn.key] == conn {
		delete(a.connections, conn.key)
	}
	a.mu.Unlock()
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

func normalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

type tinyGoConnection struct {
	device    bluetooth.Device
	adapter   *TinyGoAdapter
	key       string
	connected atomic.Bool

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	want, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse characteristic UUID: %w", err)
	}

	var filter []bluetooth.UUID
	if serviceUUID != "" {
		svcUUID, err := bluetooth.ParseUUID(serviceUUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		filter = []bluetooth.UUID{svcUUID}
	}

	svcs, err := c.device.DiscoverServices(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: discover services: %w", ErrLink, err)
	}
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: discover characteristics: %w", ErrLink, err)
		}
		for i := range chars {
			if chars[i].UUID() == want {
				return &tinyGoCharacteristic{char: chars[i]}, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: characteristic %s not found", ErrLink, charUUID)
}

func (c *tinyGoConnection) Services() ([]Service, error) {
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: discover services: %w", ErrLink, err)
	}
	out := make([]Service, 0, len(svcs))
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: discover characteristics of %s: %w", ErrLink, svc.UUID().String(), err)
		}
		info := Service{UUID: svc.UUID().String()}
		for i := range chars {
			ci := CharacteristicInfo{UUID: chars[i].UUID().String()}
			buf := make([]byte, maxAttrValueLen)
			n, err := chars[i].Read(buf)
			if err != nil {
				ci.ReadErr = err
			} else {
				ci.Value = buf[:n]
			}
			info.Characteristics = append(info.Characteristics, ci)
		}
		out = append(out, info)
	}
	return out, nil
}

// maxAttrValueLen is the largest ATT attribute value.
const maxAttrValueLen = 512

func (c *tinyGoConnection) Disconnect() error {
	c.connected.Store(false)
	c.adapter.forget(c)
	if err := c.device.Disconnect(); err != nil {
		return fmt.Errorf("%w: disconnect: %w", ErrLink, err)
	}
	return nil
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	c.mu.Unlock()
}

func (c *tinyGoConnection) Connected() bool {
	return c.connected.Load()
}

// dropped marks the link down and fires the registered callback.
func (c *tinyGoConnection) dropped() {
	c.connected.Store(false)
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	if _, err := c.char.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("%w: write: %w", ErrLink, err)
	}
	return nil
}

// Package ble provides the radio link to Hello Fairy lamps: adapter and
// connection abstractions, discovery, and bounded-retry connection
// establishment over Bluetooth Low Energy.
package ble

import (
	"context"
	"errors"
)

// Hello Fairy BLE UUIDs
const (
	// ServiceUUID is the transparent UART service exposed by the lamp module.
	ServiceUUID = "49535343-fe7d-4ae5-8fa9-9fafd205e455"
	// ControlCharUUID is the write-without-response characteristic that
	// accepts every command frame.
	ControlCharUUID = "49535343-8841-43f4-a8d4-ecbe34729bb3"
)

// NameFilter is the substring lamps carry in their advertised local name.
const NameFilter = "Hello Fairy"

// Error categories reported by the radio link.
var (
	// ErrTimeout is returned when an operation did not finish in time.
	ErrTimeout = errors.New("ble: timeout")
	// ErrLink is returned for any other transport fault.
	ErrLink = errors.New("ble: link error")
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic without waiting for a response.
	Write(data []byte) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
	// ManufacturerData is keyed by Bluetooth SIG company identifier.
	ManufacturerData map[uint16][]byte
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	// An empty serviceUUID searches every service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
	// Connected reports whether the link is still believed up.
	Connected() bool
	// Services enumerates every GATT service and characteristic, reading
	// each characteristic's value where the peripheral allows it.
	Services() ([]Service, error)
}

// Service describes a discovered GATT service.
type Service struct {
	UUID            string
	Characteristics []CharacteristicInfo
}

// CharacteristicInfo describes a discovered characteristic. ReadErr is set
// when the value could not be read.
type CharacteristicInfo struct {
	UUID    string
	Value   []byte
	ReadErr error
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter. Calling it again is a no-op.
	Enable() error
	// Scan returns the peripherals seen until ctx is done.
	Scan(ctx context.Context) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

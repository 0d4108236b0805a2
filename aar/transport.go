package aar

import (
	"context"
	"strings"

	"github.com/mikoaf/microbit-aar/bluetooth"
)

// UUIDs of the micro:bit UART service. The micro:bit names its
// characteristics from its own side, so the client writes to the one the
// firmware calls RX (…0003) and subscribes to TX (…0002).
var (
	ServiceUUID        = bluetooth.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	WriteCharUUID      = bluetooth.MustParseUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
	NotifyCharUUID     = bluetooth.MustParseUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	defaultFilterUUIDs = []bluetooth.UUID{ServiceUUID}
)

// DeviceFilter narrows which advertising device RequestDevice may return.
type DeviceFilter struct {
	// Services the device must advertise at least one of.
	Services []bluetooth.UUID
	// NamePrefix, if set, must prefix the advertised local name.
	NamePrefix string
	// Address, if set, pins a single device ("AA:BB:CC:DD:EE:FF").
	Address string
}

// DefaultFilter matches any device advertising the UART service, whatever
// its name.
func DefaultFilter() DeviceFilter {
	return DeviceFilter{
		Services: append([]bluetooth.UUID(nil), defaultFilterUUIDs...),
	}
}

// Matches applies the name and address parts of the filter. Services are
// matched by the transport.
func (f DeviceFilter) Matches(name, address string) bool {
	if f.Address != "" && !strings.EqualFold(f.Address, address) {
		return false
	}
	if f.NamePrefix != "" && !strings.HasPrefix(name, f.NamePrefix) {
		return false
	}
	return true
}

// Transport finds devices. It stands in for the platform's Bluetooth stack.
type Transport interface {
	// RequestDevice returns one device matching filter, or ErrNoDevice.
	RequestDevice(ctx context.Context, filter DeviceFilter) (Device, error)
}

type Device interface {
	// Connect opens a GATT session.
	Connect(ctx context.Context) (Server, error)
	// OnDisconnect registers fn to be called once when the session drops.
	OnDisconnect(fn func()) error
	Disconnect() error
}

type Server interface {
	Service(ctx context.Context, uuid bluetooth.UUID) (Service, error)
}

type Service interface {
	Characteristic(ctx context.Context, uuid bluetooth.UUID) (Characteristic, error)
}

type Characteristic interface {
	// WriteValue returns once the write completed or failed.
	WriteValue(ctx context.Context, p []byte) error
	StartNotifications(ctx context.Context, fn func([]byte)) error
	// StopNotifications releases what StartNotifications set up. It is
	// safe to call on a characteristic whose link is already gone.
	StopNotifications() error
}

package bluetooth

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const defaultAdapter = "hci0"

var errAdapterNotEnabled = errors.New("bluetooth: adapter not enabled")

// Adapter is a local BlueZ controller reached over the system bus.
type Adapter struct {
	id                   string
	bus                  *dbus.Conn     //object at /
	bluez                dbus.BusObject //object at /org/bluez/hcix
	adapter              dbus.BusObject
	address              string
	defaultAdvertisement *Advertisement
	log                  *zap.Logger

	connectHandler func(device Device, connected bool)
}

// NewAdapter returns an adapter for the controller id (e.g. "hci0").
// An empty id selects hci0.
func NewAdapter(id string, log *zap.Logger) *Adapter {
	if id == "" {
		id = defaultAdapter
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		id:             id,
		log:            log,
		connectHandler: func(device Device, connected bool) {},
	}
}

// ID returns the controller name.
func (a *Adapter) ID() string {
	return a.id
}

// Enable connects to the system bus, reads the controller address and
// powers the controller on if needed.
func (a *Adapter) Enable() (err error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return err
	}

	a.bus = bus
	a.bluez = a.bus.Object("org.bluez", dbus.ObjectPath("/"))
	a.adapter = a.bus.Object("org.bluez", dbus.ObjectPath("/org/bluez/"+a.id))
	addr, err := a.adapter.GetProperty("org.bluez.Adapter1.Address")
	if err != nil {
		if err, ok := err.(dbus.Error); ok && err.Name == "org.freedesktop.DBus.Error.UnknownObject" {
			return fmt.Errorf("bluetooth: adapter %s does not exist", a.adapter.Path())
		}
		return fmt.Errorf("could not activate BlueZ adapter: %w", err)
	}
	if err := addr.Store(&a.address); err != nil {
		return fmt.Errorf("bluetooth: adapter address: %w", err)
	}

	powered, err := a.adapter.GetProperty("org.bluez.Adapter1.Powered")
	if err == nil {
		if on, ok := powered.Value().(bool); ok && !on {
			if err := a.adapter.SetProperty("org.bluez.Adapter1.Powered", dbus.MakeVariant(true)); err != nil {
				return fmt.Errorf("bluetooth: power on %s: %w", a.id, err)
			}
		}
	}

	a.log.Debug("bluetooth: adapter enabled",
		zap.String("path", string(a.adapter.Path())),
		zap.String("address", a.address),
	)
	return nil
}

// Address returns the controller's own MAC address.
func (a *Adapter) Address() (MACAddress, error) {
	if a.address == "" {
		return MACAddress{}, errAdapterNotEnabled
	}
	mac, err := ParseMAC(a.address)
	if err != nil {
		return MACAddress{}, err
	}
	return MACAddress{MAC: mac}, nil
}

// SetConnectHandler sets the callback invoked when a central connects to or
// disconnects from a service exported by this adapter.
func (a *Adapter) SetConnectHandler(fn func(device Device, connected bool)) {
	if fn == nil {
		fn = func(Device, bool) {}
	}
	a.connectHandler = fn
}

func (a *Adapter) enabled() bool {
	return a.bus != nil
}

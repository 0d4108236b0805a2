package bluetooth

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"go.uber.org/zap"
)

const (
	// Match rule constants for D-Bus signals.
	//
	// See [DBusPropertiesLink] for more information.

	dbusPropertiesChangedInterfaceName = 0
	dbusPropertiesChangedDictionary    = 1
	dbusPropertiesChangedInvalidated   = 2

	dbusInterfacesAddedPath       = 0
	dbusInterfacesAddedDictionary = 1

	dbusSignalInterfacesAdded   = "org.freedesktop.DBus.ObjectManager.InterfacesAdded"
	dbusSignalPropertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"

	bluezDevice1Interface        = "org.bluez.Device1"
	bluezDevice1Address          = "Address"
	bluezDevice1AddressType      = "AddressType"
	bluezDevice1Name             = "Name"
	bluezDevice1Alias            = "Alias"
	bluezDevice1RSSI             = "RSSI"
	bluezDevice1UUIDs            = "UUIDs"
	bluezDevice1Connected        = "Connected"
	bluezDevice1ServicesResolved = "ServicesResolved"
)

var errAdvertisementNotStarted = errors.New("bluetooth: advertisement is not started")
var errAdvertisementAlreadyStarted = errors.New("bluetooth: advertisement is already started")

var advertisementID uint64

var (
	// See [DBusPropertiesLink] for more information.
	matchOptionsPropertiesChanged = []dbus.MatchOption{dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchArg(dbusPropertiesChangedInterfaceName, "org.bluez.Device1")}

	// See [DBusObjectManagerLink] for more information.
	matchOptionsInterfacesAdded = []dbus.MatchOption{dbus.WithMatchInterface("org.freedesktop.DBus.ObjectManager"),
		dbus.WithMatchMember("InterfacesAdded")}
)

// Device is a remote device known to BlueZ, either a peripheral we connected
// to or a central connected to one of our services.
type Device struct {
	Address Address

	device  dbus.BusObject
	adapter *Adapter
	watch   *deviceWatch
}

// deviceWatch tracks the signal subscription behind OnDisconnect.
type deviceWatch struct {
	mu     sync.Mutex
	ch     chan *dbus.Signal
	done   chan struct{}
	opts   []dbus.MatchOption
	closed bool
	once   sync.Once
}

func (a *Adapter) newDevice(path dbus.ObjectPath) Device {
	return Device{
		device:  a.bus.Object("org.bluez", path),
		adapter: a,
		watch:   &deviceWatch{},
	}
}

type Advertisement struct {
	adapter    *Adapter
	properties *prop.Properties
	path       dbus.ObjectPath
	started    bool

	//D-bus signals
	sigCh chan *dbus.Signal
}

// advertisementObject answers BlueZ's LEAdvertisement1.Release call.
type advertisementObject struct{}

func (advertisementObject) Release() *dbus.Error {
	return nil
}

func (a *Adapter) DefaultAdvertisement() *Advertisement {
	if a.defaultAdvertisement == nil {
		a.defaultAdvertisement = &Advertisement{
			adapter: a,
		}
	}
	return a.defaultAdvertisement
}

func (a *Advertisement) Configure(options AdvertisementOptions) error {
	if a.started {
		return errAdvertisementAlreadyStarted
	}

	var serviceUUIDs []string
	for _, uuid := range options.ServiceUUIDs {
		serviceUUIDs = append(serviceUUIDs, uuid.String())
	}
	var serviceData = make(map[string]interface{})
	for _, element := range options.ServiceData {
		serviceData[element.UUID.String()] = element.Data
	}

	manufacturerData := map[uint16]any{}
	for _, element := range options.ManufacturerData {
		manufacturerData[element.CompanyID] = element.Data
	}

	advType := "peripheral"
	if options.AdvertisementType == AdvertisingTypeNonConnInd {
		advType = "broadcast"
	}

	id := atomic.AddUint64(&advertisementID, 1)
	a.path = dbus.ObjectPath(fmt.Sprintf("/org/microbitaar/advertisement%d", id))
	propsSpec := map[string]map[string]*prop.Prop{
		"org.bluez.LEAdvertisement1": {
			"Type":             {Value: advType},
			"ServiceUUIDs":     {Value: serviceUUIDs},
			"ManufacturerData": {Value: manufacturerData},
			"LocalName":        {Value: options.LocalName},
			"ServiceData":      {Value: serviceData, Writable: true},
			"Timeout":          {Value: uint16(0)},
		},
	}
	if options.Interval != 0 {
		ms := options.Interval.milliseconds()
		propsSpec["org.bluez.LEAdvertisement1"]["MinInterval"] = &prop.Prop{Value: ms}
		propsSpec["org.bluez.LEAdvertisement1"]["MaxInterval"] = &prop.Prop{Value: ms}
	}

	props, err := prop.Export(a.adapter.bus, a.path, propsSpec)
	if err != nil {
		return err
	}
	a.properties = props

	if err := a.adapter.bus.Export(advertisementObject{}, a.path, "org.bluez.LEAdvertisement1"); err != nil {
		return fmt.Errorf("bluetooth: export advertisement: %w", err)
	}

	if options.LocalName != "" {
		call := a.adapter.adapter.Call("org.freedesktop.DBus.Properties.Set", 0, "org.bluez.Adapter1", "Alias", dbus.MakeVariant((options.LocalName)))
		if call.Err != nil {
			return fmt.Errorf("set adapter alias: %w", call.Err)
		}
	}

	return nil
}

func (a *Advertisement) handleDBusSignals(sigCh <-chan *dbus.Signal) {
	for sig := range sigCh {
		device := a.adapter.newDevice(sig.Path)

		switch sig.Name {
		case dbusSignalInterfacesAdded:
			interfaces, ok := sig.Body[dbusInterfacesAddedDictionary].(map[string]map[string]dbus.Variant)
			if !ok {
				continue
			}
			if path, ok := sig.Body[dbusInterfacesAddedPath].(dbus.ObjectPath); ok {
				device = a.adapter.newDevice(path)
			}

			props, ok := interfaces[bluezDevice1Interface]
			if !ok {
				continue
			}

			if err := device.parseProperties(&props); err != nil {
				continue
			}

			if connected, ok := props[bluezDevice1Connected].Value().(bool); ok {
				a.adapter.connectHandler(device, connected)
			}
		case dbusSignalPropertiesChanged:
			// Skip any signals that are not the Device1 interface.
			if interfaceName, ok := sig.Body[dbusPropertiesChangedInterfaceName].(string); !ok || interfaceName != bluezDevice1Interface {
				continue
			}

			// Get all changed properties and skip any signals that are not
			// compliant with the Device1 interface.
			changes, ok := sig.Body[dbusPropertiesChangedDictionary].(map[string]dbus.Variant)
			if !ok {
				continue
			}

			// Call the connect handler if the Connected property has changed.
			if connected, ok := changes[bluezDevice1Connected].Value().(bool); ok {
				// The only property received is the changed property "Connected",
				// so we have to get the other properties from D-Bus.
				var props map[string]dbus.Variant
				if err := device.device.Call("org.freedesktop.DBus.Properties.GetAll",
					0,
					bluezDevice1Interface).Store(&props); err != nil {
					continue
				}

				if err := device.parseProperties(&props); err != nil {
					continue
				}

				a.adapter.connectHandler(device, connected)
			}
		}
	}
}

// Start advertisement. May only be called after it has been configured.
func (a *Advertisement) Start() error {
	// Register our advertisement object to start advertising.
	err := a.adapter.adapter.Call("org.bluez.LEAdvertisingManager1.RegisterAdvertisement", 0, a.path, map[string]interface{}{}).Err
	if err != nil {
		if err, ok := err.(dbus.Error); ok && err.Name == "org.bluez.Error.AlreadyExists" {
			return errAdvertisementAlreadyStarted
		}
		return fmt.Errorf("bluetooth: could not start advertisement: %w", err)
	}

	if a.adapter.connectHandler != nil {
		a.sigCh = make(chan *dbus.Signal, 16)
		a.adapter.bus.Signal(a.sigCh)

		if err := a.adapter.bus.AddMatchSignal(matchOptionsPropertiesChanged...); err != nil {
			return fmt.Errorf("bluetooth: add dbus match signal: PropertiesChanged: %w", err)
		}

		if err := a.adapter.bus.AddMatchSignal(matchOptionsInterfacesAdded...); err != nil {
			return fmt.Errorf("bluetooth: add dbus match signal: InterfacesAdded: %w", err)
		}

		go a.handleDBusSignals(a.sigCh)
	}

	// Make us discoverable.
	err = a.adapter.adapter.SetProperty("org.bluez.Adapter1.Discoverable", dbus.MakeVariant(true))
	if err != nil {
		return fmt.Errorf("bluetooth: could not start advertisement: %w", err)
	}
	a.started = true
	a.adapter.log.Info("bluetooth: advertising", zap.String("path", string(a.path)))
	return nil
}

// Stop advertisement. May only be called after it has been started.
func (a *Advertisement) Stop() error {
	err := a.adapter.adapter.Call("org.bluez.LEAdvertisingManager1.UnregisterAdvertisement", 0, a.path).Err
	if err != nil {
		if err, ok := err.(dbus.Error); ok && err.Name == "org.bluez.Error.DoesNotExist" {
			return errAdvertisementNotStarted
		}
		return fmt.Errorf("bluetooth: could not stop advertisement: %w", err)
	}
	a.started = false

	if a.sigCh != nil {
		a.adapter.bus.RemoveSignal(a.sigCh)
		defer func() {
			close(a.sigCh)
			a.sigCh = nil
		}()
		if err := a.adapter.bus.RemoveMatchSignal(matchOptionsPropertiesChanged...); err != nil {
			return fmt.Errorf("bluetooth: remove dbus match signal: PropertiesChanged: %w", err)
		}
		if err := a.adapter.bus.RemoveMatchSignal(matchOptionsInterfacesAdded...); err != nil {
			return fmt.Errorf("bluetooth: remove dbus match signal: InterfacesAdded: %w", err)
		}
	}
	return nil
}

func (d *Device) parseProperties(props *map[string]dbus.Variant) error {
	for prop, v := range *props {
		switch prop {
		case bluezDevice1Address:
			if addrStr, ok := v.Value().(string); ok {
				mac, err := ParseMAC(addrStr)
				if err != nil {
					return fmt.Errorf("ParseMAC: %w", err)
				}
				d.Address.MAC = mac
			}
		case bluezDevice1AddressType:
			if t, ok := v.Value().(string); ok {
				d.Address.isRandom = t == "random"
			}
		}
	}

	return nil
}

// Disconnect drops the link to the device and stops any disconnect watch.
func (d *Device) Disconnect() error {
	d.stopWatch()
	if err := d.device.Call("org.bluez.Device1.Disconnect", 0).Err; err != nil {
		return fmt.Errorf("bluetooth: disconnect %s: %w", d.Address, err)
	}
	return nil
}

// OnDisconnect arranges for fn to be called once, from a separate goroutine,
// when BlueZ reports the device as no longer connected. A link that is
// already down when the watch is armed is reported as well.
func (d *Device) OnDisconnect(fn func()) error {
	if err := d.armWatch(fn); err != nil {
		return err
	}
	v, err := d.device.GetProperty(bluezDevice1Interface + "." + bluezDevice1Connected)
	if err != nil {
		// the object is gone with the link
		go d.lost(fn)
		return nil
	}
	if connected, ok := v.Value().(bool); ok && !connected {
		go d.lost(fn)
	}
	return nil
}

func (d *Device) armWatch(fn func()) error {
	w := d.watch
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ch != nil {
		return errors.New("bluetooth: disconnect handler already set")
	}

	bus := d.adapter.bus
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(d.device.Path()),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	}
	if err := bus.AddMatchSignal(opts...); err != nil {
		return fmt.Errorf("bluetooth: add dbus match signal: PropertiesChanged: %w", err)
	}
	w.ch = make(chan *dbus.Signal, 16)
	w.done = make(chan struct{})
	w.opts = opts
	bus.Signal(w.ch)

	go d.watchDisconnect(w.ch, w.done, fn)
	return nil
}

func (d *Device) watchDisconnect(ch <-chan *dbus.Signal, done <-chan struct{}, fn func()) {
	path := d.device.Path()
	for {
		select {
		case <-done:
			return
		case sig := <-ch:
			if sig == nil || sig.Path != path || sig.Name != dbusSignalPropertiesChanged {
				continue
			}
			if iface, ok := sig.Body[dbusPropertiesChangedInterfaceName].(string); !ok || iface != bluezDevice1Interface {
				continue
			}
			changes, ok := sig.Body[dbusPropertiesChangedDictionary].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			if connected, ok := changes[bluezDevice1Connected].Value().(bool); ok && !connected {
				d.lost(fn)
				return
			}
		}
	}
}

// lost tears the watch down and calls fn, at most once per watch.
func (d *Device) lost(fn func()) {
	d.watch.once.Do(func() {
		d.adapter.log.Debug("bluetooth: device disconnected", zap.Stringer("address", d.Address))
		d.stopWatch()
		fn()
	})
}

func (d *Device) stopWatch() {
	w := d.watch
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ch == nil || w.closed {
		return
	}
	w.closed = true
	d.adapter.bus.RemoveSignal(w.ch)
	_ = d.adapter.bus.RemoveMatchSignal(w.opts...)
	close(w.done)
}

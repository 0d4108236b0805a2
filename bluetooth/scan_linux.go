package bluetooth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const servicesResolvedPoll = 50 * time.Millisecond

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Scan runs LE discovery until fn returns true or ctx is done. Only devices
// advertising one of the filter services are reported; an empty filter
// reports everything. Devices BlueZ already knows about are reported first.
//
// Scan returns nil when fn stopped it and ctx.Err() otherwise.
func (a *Adapter) Scan(ctx context.Context, filter []UUID, fn func(ScanResult) bool) error {
	if !a.enabled() {
		return errAdapterNotEnabled
	}

	uuids := make([]string, 0, len(filter))
	for _, u := range filter {
		uuids = append(uuids, u.String())
	}
	discoveryFilter := map[string]interface{}{
		"Transport": "le",
	}
	if len(uuids) > 0 {
		discoveryFilter["UUIDs"] = uuids
	}
	if err := a.adapter.CallWithContext(ctx, "org.bluez.Adapter1.SetDiscoveryFilter", 0, discoveryFilter).Err; err != nil {
		return fmt.Errorf("bluetooth: set discovery filter: %w", err)
	}

	sigCh := make(chan *dbus.Signal, 32)
	a.bus.Signal(sigCh)
	defer a.bus.RemoveSignal(sigCh)

	if err := a.bus.AddMatchSignal(matchOptionsInterfacesAdded...); err != nil {
		return fmt.Errorf("bluetooth: add dbus match signal: InterfacesAdded: %w", err)
	}
	defer a.bus.RemoveMatchSignal(matchOptionsInterfacesAdded...)
	if err := a.bus.AddMatchSignal(matchOptionsPropertiesChanged...); err != nil {
		return fmt.Errorf("bluetooth: add dbus match signal: PropertiesChanged: %w", err)
	}
	defer a.bus.RemoveMatchSignal(matchOptionsPropertiesChanged...)

	objects, err := a.managedObjects(ctx)
	if err != nil {
		return err
	}
	devices := make(map[dbus.ObjectPath]map[string]dbus.Variant)
	for path, interfaces := range objects {
		props, ok := interfaces[bluezDevice1Interface]
		if !ok || !a.owns(path) {
			continue
		}
		devices[path] = props
		if r := makeScanResult(props); r.matches(filter) && fn(r) {
			return nil
		}
	}

	if err := a.adapter.CallWithContext(ctx, "org.bluez.Adapter1.StartDiscovery", 0).Err; err != nil {
		return fmt.Errorf("bluetooth: start discovery: %w", err)
	}
	a.log.Debug("bluetooth: discovery started", zap.Strings("services", uuids))
	defer func() {
		if err := a.adapter.Call("org.bluez.Adapter1.StopDiscovery", 0).Err; err != nil {
			a.log.Debug("bluetooth: stop discovery", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			var props map[string]dbus.Variant
			switch sig.Name {
			case dbusSignalInterfacesAdded:
				path, ok := sig.Body[dbusInterfacesAddedPath].(dbus.ObjectPath)
				if !ok || !a.owns(path) {
					continue
				}
				interfaces, ok := sig.Body[dbusInterfacesAddedDictionary].(map[string]map[string]dbus.Variant)
				if !ok {
					continue
				}
				props, ok = interfaces[bluezDevice1Interface]
				if !ok {
					continue
				}
				devices[path] = props
			case dbusSignalPropertiesChanged:
				if iface, ok := sig.Body[dbusPropertiesChangedInterfaceName].(string); !ok || iface != bluezDevice1Interface {
					continue
				}
				changes, ok := sig.Body[dbusPropertiesChangedDictionary].(map[string]dbus.Variant)
				if !ok {
					continue
				}
				props, ok = devices[sig.Path]
				if !ok {
					continue
				}
				for k, v := range changes {
					props[k] = v
				}
			default:
				continue
			}
			if r := makeScanResult(props); r.matches(filter) && fn(r) {
				return nil
			}
		}
	}
}

// Connect opens a link to the device at addr and waits until BlueZ has
// resolved its GATT services. The device must have been seen by Scan.
func (a *Adapter) Connect(ctx context.Context, addr Address) (*Device, error) {
	if !a.enabled() {
		return nil, errAdapterNotEnabled
	}
	path := a.adapter.Path() + dbus.ObjectPath("/dev_"+strings.ReplaceAll(addr.String(), ":", "_"))
	d := a.newDevice(path)
	d.Address = addr

	if err := d.device.CallWithContext(ctx, "org.bluez.Device1.Connect", 0).Err; err != nil {
		if err, ok := err.(dbus.Error); ok && err.Name == "org.freedesktop.DBus.Error.UnknownObject" {
			return nil, fmt.Errorf("bluetooth: device %s is unknown to %s", addr, a.id)
		}
		return nil, fmt.Errorf("bluetooth: connect %s: %w", addr, err)
	}
	if err := d.waitServicesResolved(ctx); err != nil {
		_ = d.Disconnect()
		return nil, err
	}
	a.log.Info("bluetooth: connected", zap.Stringer("address", addr))
	return &d, nil
}

func (d *Device) waitServicesResolved(ctx context.Context) error {
	ticker := time.NewTicker(servicesResolvedPoll)
	defer ticker.Stop()
	for {
		v, err := d.device.GetProperty(bluezDevice1Interface + "." + bluezDevice1ServicesResolved)
		if err != nil {
			return fmt.Errorf("bluetooth: services resolved %s: %w", d.Address, err)
		}
		if resolved, ok := v.Value().(bool); ok && resolved {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("bluetooth: services resolved %s: %w", d.Address, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (a *Adapter) managedObjects(ctx context.Context) (managedObjects, error) {
	var objects managedObjects
	err := a.bluez.CallWithContext(ctx, "org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("bluetooth: get managed objects: %w", err)
	}
	return objects, nil
}

// owns reports whether path lives below this adapter's object.
func (a *Adapter) owns(path dbus.ObjectPath) bool {
	return strings.HasPrefix(string(path), string(a.adapter.Path())+"/")
}

func makeScanResult(props map[string]dbus.Variant) ScanResult {
	var r ScanResult
	if s, ok := props[bluezDevice1Address].Value().(string); ok {
		if mac, err := ParseMAC(s); err == nil {
			r.Address.MAC = mac
		}
	}
	if t, ok := props[bluezDevice1AddressType].Value().(string); ok {
		r.Address.isRandom = t == "random"
	}
	if name, ok := props[bluezDevice1Name].Value().(string); ok {
		r.LocalName = name
	} else if alias, ok := props[bluezDevice1Alias].Value().(string); ok {
		r.LocalName = alias
	}
	if rssi, ok := props[bluezDevice1RSSI].Value().(int16); ok {
		r.RSSI = rssi
	}
	if uuids, ok := props[bluezDevice1UUIDs].Value().([]string); ok {
		for _, s := range uuids {
			if u, err := ParseUUID(s); err == nil {
				r.ServiceUUIDs = append(r.ServiceUUIDs, u)
			}
		}
	}
	return r
}

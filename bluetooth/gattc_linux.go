package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	bluezGattService1        = "org.bluez.GattService1"
	bluezGattCharacteristic1 = "org.bluez.GattCharacteristic1"
)

var (
	ErrServiceNotFound        = errors.New("bluetooth: service not found")
	ErrCharacteristicNotFound = errors.New("bluetooth: characteristic not found")

	errNotificationsEnabled = errors.New("bluetooth: notifications already enabled")
)

// DeviceService is a GATT service on a connected peripheral.
type DeviceService struct {
	UUID

	device *Device
	path   dbus.ObjectPath
}

// DeviceCharacteristic is a GATT characteristic on a connected peripheral.
type DeviceCharacteristic struct {
	UUID

	service *DeviceService
	char    dbus.BusObject

	mu       sync.Mutex
	notifyCh chan *dbus.Signal
	opts     []dbus.MatchOption
}

// DiscoverService looks up the primary service uuid among the services
// BlueZ resolved for d.
func (d *Device) DiscoverService(ctx context.Context, uuid UUID) (*DeviceService, error) {
	objects, err := d.adapter.managedObjects(ctx)
	if err != nil {
		return nil, err
	}
	prefix := string(d.device.Path()) + "/"
	for path, interfaces := range objects {
		props, ok := interfaces[bluezGattService1]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if !uuidProperty(props, uuid) {
			continue
		}
		return &DeviceService{UUID: uuid, device: d, path: path}, nil
	}
	return nil, fmt.Errorf("%w: %s on %s", ErrServiceNotFound, uuid, d.Address)
}

// Characteristic looks up the characteristic uuid within s.
func (s *DeviceService) Characteristic(ctx context.Context, uuid UUID) (*DeviceCharacteristic, error) {
	a := s.device.adapter
	objects, err := a.managedObjects(ctx)
	if err != nil {
		return nil, err
	}
	for path, interfaces := range objects {
		props, ok := interfaces[bluezGattCharacteristic1]
		if !ok {
			continue
		}
		if svc, ok := props["Service"].Value().(dbus.ObjectPath); !ok || svc != s.path {
			continue
		}
		if !uuidProperty(props, uuid) {
			continue
		}
		return &DeviceCharacteristic{
			UUID:    uuid,
			service: s,
			char:    a.bus.Object("org.bluez", path),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s in service %s", ErrCharacteristicNotFound, uuid, s.UUID)
}

// WriteValue writes p with a write request and returns once the peripheral
// acknowledged it.
func (c *DeviceCharacteristic) WriteValue(ctx context.Context, p []byte) error {
	return c.write(ctx, p, "request")
}

// WriteWithoutResponse writes p as a write command. BlueZ returns as soon as
// the packet is queued.
func (c *DeviceCharacteristic) WriteWithoutResponse(ctx context.Context, p []byte) error {
	return c.write(ctx, p, "command")
}

func (c *DeviceCharacteristic) write(ctx context.Context, p []byte, kind string) error {
	if len(p) == 0 {
		return nil //nothing to do
	}
	options := map[string]dbus.Variant{"type": dbus.MakeVariant(kind)}
	if err := c.char.CallWithContext(ctx, "org.bluez.GattCharacteristic1.WriteValue", 0, p, options).Err; err != nil {
		return fmt.Errorf("bluetooth: write %s: %w", c.UUID, err)
	}
	return nil
}

// StartNotifications subscribes to value changes. fn runs on a dedicated
// goroutine, once per notification or indication.
func (c *DeviceCharacteristic) StartNotifications(ctx context.Context, fn func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notifyCh != nil {
		return errNotificationsEnabled
	}

	bus := c.service.device.adapter.bus
	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(c.char.Path()),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	}
	if err := bus.AddMatchSignal(opts...); err != nil {
		return fmt.Errorf("bluetooth: add dbus match signal: PropertiesChanged: %w", err)
	}
	ch := make(chan *dbus.Signal, 32)
	bus.Signal(ch)

	if err := c.char.CallWithContext(ctx, "org.bluez.GattCharacteristic1.StartNotify", 0).Err; err != nil {
		bus.RemoveSignal(ch)
		_ = bus.RemoveMatchSignal(opts...)
		return fmt.Errorf("bluetooth: start notify %s: %w", c.UUID, err)
	}

	c.notifyCh = ch
	c.opts = opts
	go c.dispatchNotifications(ch, fn)
	return nil
}

// StopNotifications undoes StartNotifications.
func (c *DeviceCharacteristic) StopNotifications() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notifyCh == nil {
		return nil
	}
	bus := c.service.device.adapter.bus
	bus.RemoveSignal(c.notifyCh)
	_ = bus.RemoveMatchSignal(c.opts...)
	close(c.notifyCh)
	c.notifyCh = nil

	if err := c.char.Call("org.bluez.GattCharacteristic1.StopNotify", 0).Err; err != nil {
		return fmt.Errorf("bluetooth: stop notify %s: %w", c.UUID, err)
	}
	return nil
}

func (c *DeviceCharacteristic) dispatchNotifications(ch <-chan *dbus.Signal, fn func([]byte)) {
	path := c.char.Path()
	for sig := range ch {
		if sig.Path != path || sig.Name != dbusSignalPropertiesChanged {
			continue
		}
		if iface, ok := sig.Body[dbusPropertiesChangedInterfaceName].(string); !ok || iface != bluezGattCharacteristic1 {
			continue
		}
		changes, ok := sig.Body[dbusPropertiesChangedDictionary].(map[string]dbus.Variant)
		if !ok {
			continue
		}
		value, ok := changes["Value"].Value().([]byte)
		if !ok {
			continue
		}
		c.service.device.adapter.log.Debug("bluetooth: notification",
			zap.Stringer("characteristic", c.UUID),
			zap.Int("len", len(value)),
		)
		fn(value)
	}
}

func uuidProperty(props map[string]dbus.Variant, uuid UUID) bool {
	s, ok := props["UUID"].Value().(string)
	if !ok {
		return false
	}
	parsed, err := ParseUUID(s)
	return err == nil && parsed == uuid
}

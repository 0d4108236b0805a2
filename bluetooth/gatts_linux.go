package bluetooth

import (
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"go.uber.org/zap"
)

var serviceID uint64

// Characteristic is a handle to a characteristic exported with AddService.
type Characteristic struct {
	char        *blueZChar
	permissions CharacteristicPermissions
}

type blueZChar struct {
	uuid       UUID
	props      *prop.Properties
	writeEvent func(client Connection, offset int, value []byte)
	notifying  atomic.Bool
	log        *zap.Logger
}

type exportedObject struct {
	iface string
	props *prop.Properties
}

type objectManager struct {
	objects map[dbus.ObjectPath]exportedObject
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager for the
// application BlueZ reads when the service is registered.
func (om *objectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, len(om.objects))
	for path, obj := range om.objects {
		values, err := obj.props.GetAll(obj.iface)
		if err != nil {
			return nil, err
		}
		out[path] = map[string]map[string]dbus.Variant{obj.iface: values}
	}
	return out, nil
}

// AddService exports s on the bus and registers it with BlueZ.
func (a *Adapter) AddService(s *Service) error {
	if !a.enabled() {
		return errAdapterNotEnabled
	}
	id := atomic.AddUint64(&serviceID, 1)
	path := dbus.ObjectPath(fmt.Sprintf("/org/microbitaar/service%d", id))
	svcPath := path + "/service0"

	objects := map[dbus.ObjectPath]exportedObject{}

	serviceSpec := map[string]map[string]*prop.Prop{
		"org.bluez.GattService1": {
			"UUID":    {Value: s.UUID.String()},
			"Primary": {Value: true},
		},
	}
	svcProps, err := prop.Export(a.bus, svcPath, serviceSpec)
	if err != nil {
		return err
	}
	objects[svcPath] = exportedObject{iface: "org.bluez.GattService1", props: svcProps}

	for i, char := range s.Characteristics {
		charPath := svcPath + dbus.ObjectPath("/char"+strconv.Itoa(i))
		value := char.Value
		if value == nil {
			value = []byte{}
		}
		propSpec := map[string]map[string]*prop.Prop{
			"org.bluez.GattCharacteristic1": {
				"UUID":    {Value: char.UUID.String()},
				"Service": {Value: svcPath},
				"Flags":   {Value: char.Flags.flags()},
				"Value":   {Value: value, Writable: true, Emit: prop.EmitTrue},
			},
		}

		props, err := prop.Export(a.bus, charPath, propSpec)
		if err != nil {
			return err
		}
		objects[charPath] = exportedObject{iface: "org.bluez.GattCharacteristic1", props: props}

		obj := &blueZChar{
			uuid:       char.UUID,
			props:      props,
			writeEvent: char.WriteEvent,
			log:        a.log,
		}

		err = a.bus.Export(obj, charPath, "org.bluez.GattCharacteristic1")
		if err != nil {
			return err
		}

		if char.Handle != nil {
			char.Handle.permissions = char.Flags
			char.Handle.char = obj
		}
	}

	om := &objectManager{
		objects: objects,
	}
	err = a.bus.Export(om, path, "org.freedesktop.DBus.ObjectManager")
	if err != nil {
		return err
	}
	if err := a.adapter.Call("org.bluez.GattManager1.RegisterApplication", 0, path, map[string]dbus.Variant{}).Err; err != nil {
		return fmt.Errorf("bluetooth: register application: %w", err)
	}
	a.log.Info("bluetooth: service registered", zap.Stringer("uuid", s.UUID), zap.String("path", string(path)))
	return nil
}

func (c *blueZChar) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	v, err := c.props.Get("org.bluez.GattCharacteristic1", "Value")
	if err != nil {
		return nil, err
	}
	value, _ := v.Value().([]byte)
	return value, nil
}

func (c *blueZChar) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	offset := 0
	if v, ok := options["offset"]; ok {
		if o, ok := v.Value().(uint16); ok {
			offset = int(o)
		}
	}
	if c.writeEvent != nil {
		c.writeEvent(0, offset, value)
	}
	return nil
}

func (c *blueZChar) StartNotify() *dbus.Error {
	c.notifying.Store(true)
	c.log.Debug("bluetooth: notify started", zap.Stringer("uuid", c.uuid))
	return nil
}

func (c *blueZChar) StopNotify() *dbus.Error {
	c.notifying.Store(false)
	return nil
}

// Write updates the characteristic value, which notifies subscribed centrals.
func (c *Characteristic) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil //nothing to do
	}
	if c.char == nil {
		return 0, errAdapterNotEnabled
	}

	if derr := c.char.props.Set("org.bluez.GattCharacteristic1", "Value", dbus.MakeVariant(p)); derr != nil {
		return 0, derr
	}
	return len(p), nil
}

// Notifying reports whether a central subscribed to value changes.
func (c *Characteristic) Notifying() bool {
	return c.char != nil && c.char.notifying.Load()
}

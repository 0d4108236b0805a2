package bluetooth

import (
	"math"
	"time"
)

type MACAddress struct {
	MAC
	isRandom bool
}

// IsRandom reports whether BlueZ announced a random (rather than public) address.
func (m MACAddress) IsRandom() bool {
	return m.isRandom
}

// Address identifies a remote device.
type Address struct {
	MACAddress
}

func (a Address) String() string {
	return a.MAC.String()
}

// ParseAddress parses an "AA:BB:CC:DD:EE:FF" address.
func ParseAddress(s string) (Address, error) {
	mac, err := ParseMAC(s)
	if err != nil {
		return Address{}, err
	}
	return Address{MACAddress: MACAddress{MAC: mac}}, nil
}

type Connection uint16

type AdvertisingType int

const (
	AdvertisingTypeInd AdvertisingType = iota

	AdvertisingTypeDirectInd

	AdvertisingTypeScanInd

	AdvertisingTypeNonConnInd
)

type AdvertisementOptions struct {
	AdvertisementType AdvertisingType

	LocalName string

	ServiceUUIDs []UUID

	Interval Duration

	ManufacturerData []ManufacturerDataElement

	ServiceData []ServiceDataElement
}

// Duration is an advertising interval in units of 0.625 ms.
type Duration uint16

// NewDuration converts interval, saturating at the largest Duration.
func NewDuration(interval time.Duration) Duration {
	n := interval / (625 * time.Microsecond)
	if n > math.MaxUint16 {
		return math.MaxUint16
	}
	if n < 0 {
		return 0
	}
	return Duration(n)
}

func (d Duration) AsTimeDuration() time.Duration {
	return time.Duration(d) * 625 * time.Microsecond
}

// milliseconds is the unit BlueZ takes for MinInterval and MaxInterval.
func (d Duration) milliseconds() uint32 {
	return uint32(d.AsTimeDuration() / time.Millisecond)
}

type ManufacturerDataElement struct {
	CompanyID uint16
	Data      []byte
}

type ServiceDataElement struct {
	UUID UUID
	Data []byte
}

// ScanResult is a device seen while scanning.
type ScanResult struct {
	Address      Address
	LocalName    string
	RSSI         int16
	ServiceUUIDs []UUID
}

// HasServiceUUID reports whether the device advertised uuid.
func (r ScanResult) HasServiceUUID(uuid UUID) bool {
	for _, u := range r.ServiceUUIDs {
		if u == uuid {
			return true
		}
	}
	return false
}

// matches reports whether the result passes a service filter. BlueZ applies
// the same filter to fresh advertisements, but devices cached from earlier
// discoveries are reported regardless of it.
func (r ScanResult) matches(filter []UUID) bool {
	if len(filter) == 0 {
		return true
	}
	for _, u := range filter {
		if r.HasServiceUUID(u) {
			return true
		}
	}
	return false
}

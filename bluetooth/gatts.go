package bluetooth

type CharacteristicPermissions uint8

// Service is a GATT service exported by this adapter.
type Service struct {
	handle uint16
	UUID
	Characteristics []CharacteristicConfig
}

type WriteEvent = func(client Connection, offset int, value []byte)

type CharacteristicConfig struct {
	Handle *Characteristic
	UUID
	Value      []byte
	Flags      CharacteristicPermissions
	WriteEvent WriteEvent
}

const (
	CharacteristicBroadcastPermission CharacteristicPermissions = 1 << iota
	CharacteristicReadPermission
	CharacteristicWriteWithoutResponsePermission
	CharacteristicWritePermission
	CharacteristicNotifyPermission
	CharacteristicIndicatePermission
)

// bluezCharFlags names each permission bit, in bit order, as BlueZ expects.
var bluezCharFlags = [...]string{
	"broadcast",
	"read",
	"write-without-response",
	"write",
	"notify",
	"indicate",
}

// flags converts p to BlueZ characteristic flag strings.
func (p CharacteristicPermissions) flags() []string {
	var flags []string
	for i := 0; i < len(bluezCharFlags); i++ {
		if (p>>i)&1 != 0 {
			flags = append(flags, bluezCharFlags[i])
		}
	}
	return flags
}

func (p CharacteristicPermissions) Broadcast() bool {
	return p&CharacteristicBroadcastPermission != 0
}

func (p CharacteristicPermissions) Read() bool {
	return p&CharacteristicReadPermission != 0
}

func (p CharacteristicPermissions) Write() bool {
	return p&CharacteristicWritePermission != 0
}

func (p CharacteristicPermissions) WriteWithoutResponse() bool {
	return p&CharacteristicWriteWithoutResponsePermission != 0
}

func (p CharacteristicPermissions) Notify() bool {
	return p&CharacteristicNotifyPermission != 0
}

func (p CharacteristicPermissions) Indicate() bool {
	return p&CharacteristicIndicatePermission != 0
}

package bluetooth

import "errors"

// MAC is a 48-bit device address, least significant byte first.
type MAC [6]byte

var ErrInvalidMAC = errors.New("bluetooth: failed to parse MAC address")

func ParseMAC(s string) (mac MAC, err error) {
	err = (&mac).UnmarshalText([]byte(s))
	return
}

func (mac *MAC) UnmarshalText(s []byte) error {
	*mac = MAC{}
	macIndex := 11
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ':' || c == '_' {
			continue
		}
		var nibble byte
		switch {
		case c >= '0' && c <= '9':
			nibble = c - '0'
		case c >= 'A' && c <= 'F':
			nibble = c - 'A' + 0xA
		case c >= 'a' && c <= 'f':
			nibble = c - 'a' + 0xA
		default:
			return ErrInvalidMAC
		}
		if macIndex < 0 {
			return ErrInvalidMAC
		}
		if macIndex%2 == 0 {
			mac[macIndex/2] |= nibble
		} else {
			mac[macIndex/2] |= nibble << 4
		}
		macIndex--
	}
	if macIndex != -1 {
		return ErrInvalidMAC
	}
	return nil
}

// String returns the address in the colon separated upper-case form BlueZ uses.
func (mac MAC) String() string {
	buf, _ := mac.MarshalText()
	return string(buf)
}

func (mac MAC) MarshalText() ([]byte, error) {
	const hexDigitUpper = "0123456789ABCDEF"
	buf := make([]byte, 0, 17)
	for i := 5; i >= 0; i-- {
		buf = append(buf, hexDigitUpper[mac[i]>>4], hexDigitUpper[mac[i]&0xF])
		if i != 0 {
			buf = append(buf, ':')
		}
	}
	return buf, nil
}

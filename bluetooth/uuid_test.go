package bluetooth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUUIDRoundTrip(t *testing.T) {
	const s = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	u, err := ParseUUID(s)
	require.NoError(t, err)
	assert.Equal(t, s, u.String())
}

func TestParseUUIDUpperCaseAndNoHyphens(t *testing.T) {
	a, err := ParseUUID("6E400003-B5A3-F393-E0A9-E50E24DCCA9E")
	require.NoError(t, err)
	b, err := ParseUUID("6e400003b5a3f393e0a9e50e24dcca9e")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseUUIDMatchesNewUUID(t *testing.T) {
	u, err := ParseUUID("12345678-1234-5678-1234-56789abcdef0")
	require.NoError(t, err)
	want := NewUUID([16]byte{0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78, 0x12, 0x34, 0x56, 0x78, 0x9a, 0xbc, 0xde, 0xf0})
	assert.Equal(t, want, u)
}

func TestParseUUIDInvalid(t *testing.T) {
	for _, s := range []string{
		"",
		"6e400001",
		"6e400001-b5a3-f393-e0a9-e50e24dcca9e00",
		"zz400001-b5a3-f393-e0a9-e50e24dcca9e",
	} {
		_, err := ParseUUID(s)
		assert.ErrorIs(t, err, ErrInvalidUUID, s)
	}
}

func TestMustParseUUIDPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseUUID("nope") })
}

func TestUUIDTextMarshaling(t *testing.T) {
	u := MustParseUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	text, err := u.MarshalText()
	require.NoError(t, err)

	var back UUID
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, u, back)
}

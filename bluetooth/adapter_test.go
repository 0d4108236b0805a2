package bluetooth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAdapterDefaults(t *testing.T) {
	a := NewAdapter("", nil)
	assert.Equal(t, "hci0", a.ID())
	assert.False(t, a.enabled())
}

func TestAdapterAddress(t *testing.T) {
	a := NewAdapter("hci1", nil)
	_, err := a.Address()
	assert.ErrorIs(t, err, errAdapterNotEnabled)

	a.address = "c0:ff:ee:00:11:22"
	addr, err := a.Address()
	require.NoError(t, err)
	assert.Equal(t, "C0:FF:EE:00:11:22", addr.String())
}

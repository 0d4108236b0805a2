//go:build linux

package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikoaf/microbit-aar/aar"
)

type fakeController struct {
	calls []string
	err   error
}

func (c *fakeController) State() aar.State { return aar.StateConnected }
func (c *fakeController) Pending() int     { return 2 }

func (c *fakeController) Discover(context.Context) error {
	c.calls = append(c.calls, "discover")
	return c.err
}

func (c *fakeController) Disconnect() error {
	c.calls = append(c.calls, "disconnect")
	return c.err
}

func (c *fakeController) StartMotor(m aar.Motor) error {
	c.calls = append(c.calls, fmt.Sprintf("start %s", m))
	return c.err
}

func (c *fakeController) StopMotor(m aar.Motor) error {
	c.calls = append(c.calls, fmt.Sprintf("stop %s", m))
	return c.err
}

func (c *fakeController) SetMotorPower(m aar.Motor, p float64) error {
	c.calls = append(c.calls, fmt.Sprintf("power %s %g", m, p))
	return c.err
}

func (c *fakeController) SetMotorDirection(m aar.Motor, d aar.Direction) error {
	c.calls = append(c.calls, fmt.Sprintf("dir %s %s", m, d))
	return c.err
}

func TestExecute(t *testing.T) {
	tests := []struct {
		line string
		call string
	}{
		{"start 1", "start m1"},
		{"STOP both", "stop both"},
		{"power both 40", "power both 40"},
		{"power 2 72.5", "power m2 72.5"},
		{"dir 2 reverse", "dir m2 reverse"},
		{"direction 1 this", "dir m1 forward"},
		{"discover", "discover"},
		{"disconnect", "disconnect"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ctl := &fakeController{}
			_, err := execute(context.Background(), ctl, tt.line)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.call}, ctl.calls)
		})
	}
}

func TestExecuteRejectsBadInput(t *testing.T) {
	tests := []struct {
		line string
		want error
	}{
		{"start", nil},
		{"start 4", aar.ErrInvalidMotor},
		{"power 1", nil},
		{"power 1 lots", aar.ErrInvalidPower},
		{"dir 1 up", aar.ErrInvalidDirection},
		{"jump 1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ctl := &fakeController{}
			_, err := execute(context.Background(), ctl, tt.line)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.Empty(t, ctl.calls)
		})
	}
}

func TestExecuteStatusAndQuit(t *testing.T) {
	ctl := &fakeController{}

	out, err := execute(context.Background(), ctl, "status")
	require.NoError(t, err)
	assert.Equal(t, "connected, 2 frame(s) pending", out)

	out, err = execute(context.Background(), ctl, "   ")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = execute(context.Background(), ctl, "quit")
	assert.ErrorIs(t, err, errQuit)
}

func TestExecutePassesAdapterErrors(t *testing.T) {
	ctl := &fakeController{err: aar.ErrNotConnected}
	_, err := execute(context.Background(), ctl, "start both")
	assert.ErrorIs(t, err, aar.ErrNotConnected)
}

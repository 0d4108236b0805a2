//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mikoaf/microbit-aar/aar"
)

// controller is what the console drives; *aar.Adapter satisfies it.
type controller interface {
	State() aar.State
	Pending() int
	Discover(ctx context.Context) error
	Disconnect() error
	StartMotor(m aar.Motor) error
	StopMotor(m aar.Motor) error
	SetMotorPower(m aar.Motor, power float64) error
	SetMotorDirection(m aar.Motor, d aar.Direction) error
}

var errQuit = errors.New("quit")

const usage = `commands:
  start <motor>              motor is both|1|2
  stop <motor>
  power <motor> <0-100>
  dir <motor> <forward|backward|reverse>
  discover
  disconnect
  status
  quit`

// execute runs one console line and returns the text to print.
func execute(ctx context.Context, ctl controller, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return "", errQuit
	case "help", "?":
		return usage, nil
	case "status":
		return fmt.Sprintf("%s, %d frame(s) pending", ctl.State(), ctl.Pending()), nil
	case "discover":
		if err := ctl.Discover(ctx); err != nil {
			return "", err
		}
		return "connected", nil
	case "disconnect":
		if err := ctl.Disconnect(); err != nil {
			return "", err
		}
		return "disconnected", nil
	}

	if len(args) == 0 {
		return "", fmt.Errorf("%s: motor required", cmd)
	}
	m, err := aar.ParseMotor(args[0])
	if err != nil {
		return "", err
	}

	switch cmd {
	case "start":
		err = ctl.StartMotor(m)
	case "stop":
		err = ctl.StopMotor(m)
	case "power":
		if len(args) != 2 {
			return "", fmt.Errorf("power: usage: power <motor> <0-100>")
		}
		var p float64
		if p, err = aar.ParsePower(args[1]); err != nil {
			return "", err
		}
		err = ctl.SetMotorPower(m, p)
	case "dir", "direction":
		if len(args) != 2 {
			return "", fmt.Errorf("dir: usage: dir <motor> <forward|backward|reverse>")
		}
		var d aar.Direction
		if d, err = aar.ParseDirection(args[1]); err != nil {
			return "", err
		}
		err = ctl.SetMotorDirection(m, d)
	default:
		return "", fmt.Errorf("unknown command %q, try help", cmd)
	}
	if err != nil {
		return "", err
	}
	return "queued", nil
}

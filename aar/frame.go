package aar

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Opcodes understood by the motor firmware. Each frame is the opcode
// followed by one or two single-byte parameters.
const (
	OpStopMotor    byte = 0xF0
	OpStartMotor   byte = 0xF1
	OpSetPower     byte = 0xF2
	OpSetDirection byte = 0xF3
)

const (
	MinPower = 0
	MaxPower = 100
)

// Motor selects which motor(s) a command targets.
type Motor byte

const (
	MotorBoth Motor = 0
	Motor1    Motor = 1
	Motor2    Motor = 2
)

func (m Motor) Valid() bool {
	return m == MotorBoth || m == Motor1 || m == Motor2
}

func (m Motor) String() string {
	switch m {
	case MotorBoth:
		return "both"
	case Motor1:
		return "m1"
	case Motor2:
		return "m2"
	default:
		return "motor(" + strconv.Itoa(int(m)) + ")"
	}
}

// Direction is the polarity a motor is driven with.
type Direction byte

const (
	Forward  Direction = 0
	Backward Direction = 1
	Reverse  Direction = 2
)

func (d Direction) Valid() bool {
	return d == Forward || d == Backward || d == Reverse
}

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	case Reverse:
		return "reverse"
	default:
		return "direction(" + strconv.Itoa(int(d)) + ")"
	}
}

// Frame is one encoded command as written to the UART characteristic.
type Frame []byte

func StartFrame(m Motor) (Frame, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMotor, m)
	}
	return Frame{OpStartMotor, byte(m)}, nil
}

func StopFrame(m Motor) (Frame, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMotor, m)
	}
	return Frame{OpStopMotor, byte(m)}, nil
}

// PowerFrame encodes a power change. power is a percentage; see ClampPower.
func PowerFrame(m Motor, power float64) (Frame, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMotor, m)
	}
	p, err := ClampPower(power)
	if err != nil {
		return nil, err
	}
	return Frame{OpSetPower, byte(m), p}, nil
}

func DirectionFrame(m Motor, d Direction) (Frame, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMotor, m)
	}
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDirection, d)
	}
	return Frame{OpSetDirection, byte(m), byte(d)}, nil
}

// ClampPower rounds p to the nearest integer and clamps it into
// [MinPower, MaxPower]. NaN is rejected.
func ClampPower(p float64) (byte, error) {
	if math.IsNaN(p) {
		return 0, fmt.Errorf("%w: NaN", ErrInvalidPower)
	}
	p = math.Round(p)
	switch {
	case p < MinPower:
		p = MinPower
	case p > MaxPower:
		p = MaxPower
	}
	return byte(p), nil
}

// Command is a decoded frame.
type Command struct {
	Op    byte
	Motor Motor
	// Value is the power for OpSetPower and the direction for OpSetDirection.
	Value byte
}

func (c Command) String() string {
	switch c.Op {
	case OpStartMotor:
		return "start " + c.Motor.String()
	case OpStopMotor:
		return "stop " + c.Motor.String()
	case OpSetPower:
		return fmt.Sprintf("power %s %d", c.Motor, c.Value)
	case OpSetDirection:
		return fmt.Sprintf("direction %s %s", c.Motor, Direction(c.Value))
	default:
		return fmt.Sprintf("op(%#02x)", c.Op)
	}
}

// DecodeFrame parses a frame written by an Adapter. It applies the same
// validation as the encoders, so every frame they produce decodes.
func DecodeFrame(b []byte) (Command, error) {
	if len(b) < 2 {
		return Command{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(b))
	}
	c := Command{Op: b[0], Motor: Motor(b[1])}
	if !c.Motor.Valid() {
		return Command{}, fmt.Errorf("%w: %d", ErrInvalidMotor, b[1])
	}
	switch c.Op {
	case OpStartMotor, OpStopMotor:
		if len(b) != 2 {
			return Command{}, fmt.Errorf("%w: %d bytes for %#02x", ErrMalformedFrame, len(b), c.Op)
		}
	case OpSetPower, OpSetDirection:
		if len(b) != 3 {
			return Command{}, fmt.Errorf("%w: %d bytes for %#02x", ErrMalformedFrame, len(b), c.Op)
		}
		c.Value = b[2]
		if c.Op == OpSetPower && c.Value > MaxPower {
			return Command{}, fmt.Errorf("%w: %d", ErrInvalidPower, c.Value)
		}
		if c.Op == OpSetDirection && !Direction(c.Value).Valid() {
			return Command{}, fmt.Errorf("%w: %d", ErrInvalidDirection, c.Value)
		}
	default:
		return Command{}, fmt.Errorf("%w: unknown opcode %#02x", ErrMalformedFrame, c.Op)
	}
	return c, nil
}

// ParseMotor accepts 0, 1, 2, "both", "m1" and "m2".
func ParseMotor(s string) (Motor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "both":
		return MotorBoth, nil
	case "1", "m1":
		return Motor1, nil
	case "2", "m2":
		return Motor2, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMotor, s)
}

// ParsePower parses a numeric power. Out of range values are accepted here
// and clamped when the frame is built.
func ParsePower(s string) (float64, error) {
	p, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(p) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPower, s)
	}
	return p, nil
}

// ParseDirection accepts 0, 1, 2 and their names. "this" and "that" are the
// firmware's names for forward and backward.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "forward", "this":
		return Forward, nil
	case "1", "backward", "that":
		return Backward, nil
	case "2", "reverse":
		return Reverse, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
}

//go:build linux

package main

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mikoaf/microbit-aar/aar"
)

type motorState struct {
	Running   bool
	Power     byte
	Direction aar.Direction
}

// board mimics the motor driver on the micro:bit: it applies decoded
// commands to two motors and reports what it did.
type board struct {
	log *zap.Logger

	mu     sync.Mutex
	motors [2]motorState
}

func newBoard(log *zap.Logger) *board {
	return &board{log: log}
}

// apply decodes one UART write. The returned text is echoed back to the
// central; malformed frames are logged and answered with an error line.
func (b *board) apply(p []byte) string {
	cmd, err := aar.DecodeFrame(p)
	if err != nil {
		b.log.Warn("aarsim: bad frame", zap.Binary("frame", p), zap.Error(err))
		return "err " + err.Error()
	}

	b.mu.Lock()
	for i := range b.motors {
		if cmd.Motor != aar.MotorBoth && int(cmd.Motor) != i+1 {
			continue
		}
		m := &b.motors[i]
		switch cmd.Op {
		case aar.OpStartMotor:
			m.Running = true
		case aar.OpStopMotor:
			m.Running = false
		case aar.OpSetPower:
			m.Power = cmd.Value
		case aar.OpSetDirection:
			m.Direction = aar.Direction(cmd.Value)
		}
	}
	b.mu.Unlock()

	b.log.Info("aarsim: command", zap.Stringer("command", cmd))
	return fmt.Sprintf("ok %s", cmd)
}

func (b *board) state() [2]motorState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.motors
}

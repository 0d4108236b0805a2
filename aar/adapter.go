package aar

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikoaf/microbit-aar/bluetooth"
)

// State is the connection state of an Adapter.
type State int

const (
	StateDisconnected State = iota
	StateConnected
)

func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

type Options struct {
	// Filter selects the device Discover connects to. Zero value means DefaultFilter().
	Filter DeviceFilter
	// SendSpacing is the minimum time between two writes. Zero means DefaultSendSpacing.
	SendSpacing time.Duration
	Logger      *zap.Logger
}

// Adapter talks to one micro:bit. All methods are safe for concurrent use.
// Listeners run on the goroutine that caused the event and must not block.
type Adapter struct {
	transport Transport
	filter    DeviceFilter
	spacing   time.Duration
	log       *zap.Logger

	mu         sync.Mutex
	state      State
	connecting bool
	listeners  [numEvents]listenerSet
	gen        uint64 // session whose disconnect report is honoured
	nextGen    uint64
	lostGen    uint64 // session that dropped before setup finished
	device     Device
	writeChar  Characteristic
	notifyChar Characteristic
	queue      *sendQueue
	stopQueue  context.CancelFunc
}

func New(t Transport, opts Options) *Adapter {
	a := &Adapter{
		transport: t,
		filter:    opts.Filter,
		spacing:   opts.SendSpacing,
		log:       opts.Logger,
	}
	if a.filter.Services == nil && a.filter.NamePrefix == "" && a.filter.Address == "" {
		a.filter = DefaultFilter()
	}
	if a.spacing == 0 {
		a.spacing = DefaultSendSpacing
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	for i := range a.listeners {
		a.listeners[i] = make(listenerSet)
	}
	return a
}

// On registers l for e. Registering the same listener again is a no-op.
// It panics if e is not a known Event.
func (a *Adapter) On(e Event, l *Listener) {
	if !e.valid() {
		panic("aar: unknown event " + e.String())
	}
	if l == nil {
		return
	}
	a.mu.Lock()
	a.listeners[e][l] = struct{}{}
	a.mu.Unlock()
}

// OnFunc registers fn for e and returns the listener to pass to Off.
func (a *Adapter) OnFunc(e Event, fn func()) *Listener {
	l := NewListener(fn)
	a.On(e, l)
	return l
}

// Off removes l from e. It panics if e is not a known Event.
func (a *Adapter) Off(e Event, l *Listener) {
	if !e.valid() {
		panic("aar: unknown event " + e.String())
	}
	a.mu.Lock()
	delete(a.listeners[e], l)
	a.mu.Unlock()
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) Connected() bool {
	return a.State() == StateConnected
}

// Pending returns the number of frames waiting to be written.
func (a *Adapter) Pending() int {
	a.mu.Lock()
	q := a.queue
	a.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.pending()
}

// Idle reports whether no frame is queued or being written.
func (a *Adapter) Idle() bool {
	a.mu.Lock()
	q := a.queue
	a.mu.Unlock()
	return q == nil || !q.busy()
}

// Discover asks the transport for a device matching the adapter's filter
// and connects to it.
func (a *Adapter) Discover(ctx context.Context) error {
	if a.busy() {
		return ErrAlreadyConnected
	}
	dev, err := a.transport.RequestDevice(ctx, a.filter)
	if err != nil {
		if errors.Is(err, ErrNoDevice) {
			a.log.Warn("aar: no device selected")
			return err
		}
		return fmt.Errorf("aar: request device: %w", err)
	}
	if dev == nil {
		a.log.Warn("aar: no device selected")
		return ErrNoDevice
	}
	return a.Connect(ctx, dev)
}

// busy reports whether a session exists or is being set up.
func (a *Adapter) busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == StateConnected || a.connecting
}

// Connect opens a session with dev, resolves the UART service and both
// characteristics, and arms notifications. Only when every step succeeded
// does the adapter become connected and fire EventConnected. On failure the
// session is torn down and the state is left unchanged. Only one Connect
// runs at a time; a concurrent call gets ErrAlreadyConnected without
// touching its device.
func (a *Adapter) Connect(ctx context.Context, dev Device) error {
	a.mu.Lock()
	if a.state == StateConnected || a.connecting {
		a.mu.Unlock()
		return ErrAlreadyConnected
	}
	a.connecting = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.connecting = false
		a.mu.Unlock()
	}()

	server, err := dev.Connect(ctx)
	if err != nil {
		return fmt.Errorf("aar: connect: %w", err)
	}

	writeChar, notifyChar, err := a.resolve(ctx, server)
	if err != nil {
		a.abort(dev, nil, err)
		return err
	}
	if err := notifyChar.StartNotifications(ctx, a.handleInput); err != nil {
		err = fmt.Errorf("aar: start notifications: %w", err)
		a.abort(dev, nil, err)
		return err
	}

	a.mu.Lock()
	a.nextGen++
	gen := a.nextGen
	a.mu.Unlock()

	// The watch may report a link already lost; handleDisconnect records
	// that in lostGen because gen is not committed yet.
	if err := dev.OnDisconnect(func() { a.handleDisconnect(gen) }); err != nil {
		err = fmt.Errorf("aar: watch disconnect: %w", err)
		a.abort(dev, notifyChar, err)
		return err
	}

	qctx, stop := context.WithCancel(context.Background())
	q := newSendQueue(writeChar.WriteValue, a.spacing, a.log)

	a.mu.Lock()
	if a.lostGen == gen {
		a.mu.Unlock()
		stop()
		err := fmt.Errorf("aar: link lost during setup: %w", ErrNotConnected)
		a.abort(dev, notifyChar, err)
		return err
	}
	a.gen = gen
	a.device = dev
	a.writeChar = writeChar
	a.notifyChar = notifyChar
	a.queue = q
	a.stopQueue = stop
	a.state = StateConnected
	listeners := a.listeners[EventConnected].snapshot()
	a.mu.Unlock()

	go q.run(qctx)

	a.log.Info("aar: connected")
	for _, l := range listeners {
		l.fn()
	}
	return nil
}

func (a *Adapter) resolve(ctx context.Context, server Server) (write, notify Characteristic, err error) {
	svc, err := server.Service(ctx, ServiceUUID)
	if err != nil || svc == nil {
		return nil, nil, notFound(ErrServiceNotFound, ServiceUUID, err)
	}
	write, err = svc.Characteristic(ctx, WriteCharUUID)
	if err != nil || write == nil {
		return nil, nil, notFound(ErrCharacteristicNotFound, WriteCharUUID, err)
	}
	notify, err = svc.Characteristic(ctx, NotifyCharUUID)
	if err != nil || notify == nil {
		return nil, nil, notFound(ErrCharacteristicNotFound, NotifyCharUUID, err)
	}
	return write, notify, nil
}

func notFound(sentinel error, uuid bluetooth.UUID, cause error) error {
	switch {
	case cause == nil:
		return fmt.Errorf("%w: %s", sentinel, uuid)
	case errors.Is(cause, sentinel):
		return cause
	default:
		return fmt.Errorf("%w: %s: %w", sentinel, uuid, cause)
	}
}

// abort tears down a session that never became current. notify is the
// characteristic whose notifications were already armed, if any.
func (a *Adapter) abort(dev Device, notify Characteristic, cause error) {
	a.log.Error("aar: connection setup failed", zap.Error(cause))
	if notify != nil {
		a.stopNotifications(notify)
	}
	if err := dev.Disconnect(); err != nil {
		a.log.Debug("aar: disconnect after failed setup", zap.Error(err))
	}
}

func (a *Adapter) stopNotifications(c Characteristic) {
	if err := c.StopNotifications(); err != nil {
		a.log.Debug("aar: stop notifications", zap.Error(err))
	}
}

// Disconnect closes the current session. The adapter fires
// EventDisconnected itself, so it does not depend on the transport
// reporting the drop.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	dev, gen := a.device, a.gen
	connected := a.state == StateConnected
	a.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	err := dev.Disconnect()
	a.handleDisconnect(gen)
	if err != nil {
		return fmt.Errorf("aar: disconnect: %w", err)
	}
	return nil
}

// Close disconnects if connected.
func (a *Adapter) Close() error {
	if err := a.Disconnect(); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// handleDisconnect moves to StateDisconnected, drops frames still queued
// for the old channel, releases the notification subscription and fires
// EventDisconnected. Reports for an older
// session, or a repeated report, are ignored.
func (a *Adapter) handleDisconnect(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.state != StateConnected {
		if gen > a.gen {
			a.lostGen = gen
		}
		a.mu.Unlock()
		return
	}
	a.state = StateDisconnected
	dropped := 0
	if a.queue != nil {
		dropped = a.queue.clear()
	}
	if a.stopQueue != nil {
		a.stopQueue()
	}
	notify := a.notifyChar
	a.device, a.writeChar, a.notifyChar = nil, nil, nil
	a.queue, a.stopQueue = nil, nil
	listeners := a.listeners[EventDisconnected].snapshot()
	a.mu.Unlock()

	if notify != nil {
		a.stopNotifications(notify)
	}

	a.log.Warn("aar: disconnected", zap.Int("dropped_frames", dropped))
	for _, l := range listeners {
		l.fn()
	}
}

// handleInput receives notifications from the micro:bit. The firmware does
// not send anything meaningful yet, so the payload is only logged.
func (a *Adapter) handleInput(p []byte) {
	a.log.Debug("aar: inbound data ignored", zap.Binary("data", p))
}

func (a *Adapter) StartMotor(m Motor) error {
	f, err := StartFrame(m)
	if err != nil {
		return a.invalid("start motor", err)
	}
	return a.send(f)
}

func (a *Adapter) StopMotor(m Motor) error {
	f, err := StopFrame(m)
	if err != nil {
		return a.invalid("stop motor", err)
	}
	return a.send(f)
}

// SetMotorPower sets the power of m as a percentage. power is rounded and
// clamped into [0, 100]; NaN is rejected.
func (a *Adapter) SetMotorPower(m Motor, power float64) error {
	f, err := PowerFrame(m, power)
	if err != nil {
		return a.invalid("set motor power", err)
	}
	return a.send(f)
}

func (a *Adapter) SetMotorDirection(m Motor, d Direction) error {
	f, err := DirectionFrame(m, d)
	if err != nil {
		return a.invalid("set motor direction", err)
	}
	return a.send(f)
}

func (a *Adapter) invalid(op string, err error) error {
	a.log.Error("aar: "+op, zap.Error(err))
	return err
}

// send queues f for the current session. It never blocks on the write.
func (a *Adapter) send(f Frame) error {
	a.mu.Lock()
	q := a.queue
	connected := a.state == StateConnected && a.writeChar != nil
	if connected {
		q.push(f)
	}
	a.mu.Unlock()

	if !connected {
		a.log.Error("aar: send", zap.Binary("frame", f), zap.Error(ErrNotConnected))
		return ErrNotConnected
	}
	return nil
}

package aar

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mikoaf/microbit-aar/bluetooth"
)

// fakeChar records writes. When gate is set each write blocks until gate is
// closed or the write's context ends. Every finished write reports its
// result on returned.
type fakeChar struct {
	mu        sync.Mutex
	writes    [][]byte
	times     []time.Time
	gate      chan struct{}
	entered   chan struct{}
	returned  chan error
	err       error
	notifyErr error
	notify    func([]byte)
	stops     int
}

func newFakeChar() *fakeChar {
	return &fakeChar{
		entered:  make(chan struct{}, 64),
		returned: make(chan error, 64),
	}
}

func (c *fakeChar) WriteValue(ctx context.Context, p []byte) (err error) {
	defer func() {
		select {
		case c.returned <- err:
		default:
		}
	}()
	select {
	case c.entered <- struct{}{}:
	default:
	}
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	c.times = append(c.times, time.Now())
	return c.err
}

func (c *fakeChar) StartNotifications(_ context.Context, fn func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notifyErr != nil {
		return c.notifyErr
	}
	c.notify = fn
	return nil
}

func (c *fakeChar) StopNotifications() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.notify = nil
	return nil
}

func (c *fakeChar) stopCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

func (c *fakeChar) notifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notify != nil
}

func (c *fakeChar) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *fakeChar) writeTimes() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Time(nil), c.times...)
}

type fakeService struct {
	chars map[bluetooth.UUID]*fakeChar
}

func (s *fakeService) Characteristic(_ context.Context, uuid bluetooth.UUID) (Characteristic, error) {
	if c, ok := s.chars[uuid]; ok {
		return c, nil
	}
	return nil, nil
}

type fakeServer struct {
	services map[bluetooth.UUID]*fakeService
	err      error
}

func (s *fakeServer) Service(_ context.Context, uuid bluetooth.UUID) (Service, error) {
	if s.err != nil {
		return nil, s.err
	}
	if svc, ok := s.services[uuid]; ok {
		return svc, nil
	}
	return nil, nil
}

type fakeDevice struct {
	server     *fakeServer
	connectErr error
	// connectGate, when set, holds Connect until it is closed.
	connectGate    chan struct{}
	connectEntered chan struct{}
	// lostBeforeWatch makes OnDisconnect report the link as already gone.
	lostBeforeWatch bool

	mu           sync.Mutex
	onDisconnect func()
	disconnects  int
	connects     int
}

// newFakeDevice returns a device exposing the micro:bit UART layout.
func newFakeDevice() *fakeDevice {
	svc := &fakeService{chars: map[bluetooth.UUID]*fakeChar{
		WriteCharUUID:  newFakeChar(),
		NotifyCharUUID: newFakeChar(),
	}}
	return &fakeDevice{
		server:         &fakeServer{services: map[bluetooth.UUID]*fakeService{ServiceUUID: svc}},
		connectEntered: make(chan struct{}, 8),
	}
}

func (d *fakeDevice) Connect(ctx context.Context) (Server, error) {
	d.mu.Lock()
	d.connects++
	d.mu.Unlock()
	select {
	case d.connectEntered <- struct{}{}:
	default:
	}
	if d.connectGate != nil {
		select {
		case <-d.connectGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.connectErr != nil {
		return nil, d.connectErr
	}
	return d.server, nil
}

func (d *fakeDevice) OnDisconnect(fn func()) error {
	d.mu.Lock()
	d.onDisconnect = fn
	lost := d.lostBeforeWatch
	d.mu.Unlock()
	if lost {
		fn()
	}
	return nil
}

func (d *fakeDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
	return nil
}

// drop simulates the peripheral going away.
func (d *fakeDevice) drop() {
	d.mu.Lock()
	fn := d.onDisconnect
	d.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (d *fakeDevice) connectCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects
}

func (d *fakeDevice) disconnectCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnects
}

func (d *fakeDevice) service() *fakeService {
	return d.server.services[ServiceUUID]
}

func (d *fakeDevice) writeChar() *fakeChar {
	return d.service().chars[WriteCharUUID]
}

func (d *fakeDevice) notifyChar() *fakeChar {
	return d.service().chars[NotifyCharUUID]
}

type fakeTransport struct {
	device  *fakeDevice
	err     error
	filters []DeviceFilter
}

func (t *fakeTransport) RequestDevice(_ context.Context, filter DeviceFilter) (Device, error) {
	t.filters = append(t.filters, filter)
	if t.err != nil {
		return nil, t.err
	}
	if t.device == nil {
		return nil, nil
	}
	return t.device, nil
}

var errBoom = errors.New("boom")

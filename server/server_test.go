package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikoaf/microbit-aar/aar"
)

type call struct {
	op    string
	motor aar.Motor
	power float64
	dir   aar.Direction
}

type fakeController struct {
	mu          sync.Mutex
	state       aar.State
	pending     int
	err         error
	calls       []call
	discoverCtx context.Context
	listeners   map[aar.Event]map[*aar.Listener]func()
}

func newFakeController() *fakeController {
	return &fakeController{listeners: map[aar.Event]map[*aar.Listener]func(){
		aar.EventConnected:    {},
		aar.EventDisconnected: {},
	}}
}

func (c *fakeController) record(cl call) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, cl)
	return c.err
}

func (c *fakeController) State() aar.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeController) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *fakeController) Discover(ctx context.Context) error {
	c.mu.Lock()
	c.discoverCtx = ctx
	c.mu.Unlock()
	return c.record(call{op: "discover"})
}

func (c *fakeController) Disconnect() error { return c.record(call{op: "disconnect"}) }

func (c *fakeController) StartMotor(m aar.Motor) error {
	return c.record(call{op: "start", motor: m})
}

func (c *fakeController) StopMotor(m aar.Motor) error {
	return c.record(call{op: "stop", motor: m})
}

func (c *fakeController) SetMotorPower(m aar.Motor, p float64) error {
	return c.record(call{op: "power", motor: m, power: p})
}

func (c *fakeController) SetMotorDirection(m aar.Motor, d aar.Direction) error {
	return c.record(call{op: "direction", motor: m, dir: d})
}

func (c *fakeController) OnFunc(e aar.Event, fn func()) *aar.Listener {
	l := aar.NewListener(fn)
	c.mu.Lock()
	c.listeners[e][l] = fn
	c.mu.Unlock()
	return l
}

func (c *fakeController) Off(e aar.Event, l *aar.Listener) {
	c.mu.Lock()
	delete(c.listeners[e], l)
	c.mu.Unlock()
}

func (c *fakeController) fire(e aar.Event) {
	c.mu.Lock()
	fns := make([]func(), 0, len(c.listeners[e]))
	for _, fn := range c.listeners[e] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *fakeController) listenerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[aar.EventConnected]) + len(c.listeners[aar.EventDisconnected])
}

func (c *fakeController) recorded() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	ctl := newFakeController()
	ctl.state = aar.StateConnected
	ctl.pending = 3
	h := NewRouter(ctl, 0, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"state":"connected","pending":3}`, rec.Body.String())
}

func TestDiscoverHasDeadline(t *testing.T) {
	ctl := newFakeController()
	h := NewRouter(ctl, 5*time.Second, nil)

	rec := post(t, h, "/api/v1/discover", "")
	require.Equal(t, http.StatusOK, rec.Code)

	ctl.mu.Lock()
	_, ok := ctl.discoverCtx.Deadline()
	ctl.mu.Unlock()
	assert.True(t, ok)
}

func TestMotorRoutes(t *testing.T) {
	tests := []struct {
		path string
		body string
		want call
	}{
		{"/api/v1/motors/1/start", "", call{op: "start", motor: aar.Motor1}},
		{"/api/v1/motors/both/stop", "", call{op: "stop", motor: aar.MotorBoth}},
		{"/api/v1/motors/m2/power", `{"power": 55}`, call{op: "power", motor: aar.Motor2, power: 55}},
		{"/api/v1/motors/2/power", `{"power": 140.5}`, call{op: "power", motor: aar.Motor2, power: 140.5}},
		{"/api/v1/motors/1/direction", `{"direction": "reverse"}`, call{op: "direction", motor: aar.Motor1, dir: aar.Reverse}},
		{"/api/v1/motors/0/direction", `{"direction": "that"}`, call{op: "direction", motor: aar.MotorBoth, dir: aar.Backward}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			ctl := newFakeController()
			rec := post(t, NewRouter(ctl, 0, nil), tt.path, tt.body)

			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
			assert.Equal(t, []call{tt.want}, ctl.recorded())
		})
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
	}{
		{"unknown motor", "/api/v1/motors/3/start", ""},
		{"power not json", "/api/v1/motors/1/power", "fast"},
		{"power missing", "/api/v1/motors/1/power", `{}`},
		{"unknown direction", "/api/v1/motors/1/direction", `{"direction": "sideways"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := newFakeController()
			rec := post(t, NewRouter(ctl, 0, nil), tt.path, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, ctl.recorded())
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{aar.ErrNotConnected, http.StatusConflict},
		{aar.ErrAlreadyConnected, http.StatusConflict},
		{aar.ErrNoDevice, http.StatusNotFound},
		{aar.ErrInvalidPower, http.StatusBadRequest},
		{aar.ErrServiceNotFound, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ctl := newFakeController()
			ctl.err = tt.err
			rec := post(t, NewRouter(ctl, 0, nil), "/api/v1/discover", "")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestWrongMethod(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(newFakeController(), 0, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/motors/1/start", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEventStream(t *testing.T) {
	ctl := newFakeController()
	srv := httptest.NewServer(NewRouter(ctl, 0, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "status", msg["event"])
	assert.Equal(t, "disconnected", msg["state"])

	// listeners are registered before the status message is written
	assert.Equal(t, 2, ctl.listenerCount())

	ctl.mu.Lock()
	ctl.state = aar.StateConnected
	ctl.mu.Unlock()
	ctl.fire(aar.EventConnected)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "connected", msg["event"])

	ctl.fire(aar.EventDisconnected)
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "disconnected", msg["event"])

	conn.Close()
	assert.Eventually(t, func() bool { return ctl.listenerCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// Package server exposes an aar.Adapter over HTTP.
//
// Routes:
//
//	GET  /api/v1/status                     connection state and queue depth
//	POST /api/v1/discover                   scan for a micro:bit and connect
//	POST /api/v1/disconnect                 drop the current session
//	POST /api/v1/motors/{motor}/start       start a motor
//	POST /api/v1/motors/{motor}/stop        stop a motor
//	POST /api/v1/motors/{motor}/power       body {"power": 55}
//	POST /api/v1/motors/{motor}/direction   body {"direction": "reverse"}
//	GET  /api/v1/events                     WebSocket stream of connection events
//
// {motor} is "both", "1" or "2" (also "0", "m1", "m2").
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mikoaf/microbit-aar/aar"
)

// Controller is the part of *aar.Adapter the API drives.
type Controller interface {
	State() aar.State
	Pending() int
	Discover(ctx context.Context) error
	Disconnect() error
	StartMotor(m aar.Motor) error
	StopMotor(m aar.Motor) error
	SetMotorPower(m aar.Motor, power float64) error
	SetMotorDirection(m aar.Motor, d aar.Direction) error
	OnFunc(e aar.Event, fn func()) *aar.Listener
	Off(e aar.Event, l *aar.Listener)
}

// DefaultDiscoverTimeout bounds POST /api/v1/discover when no timeout is given.
const DefaultDiscoverTimeout = 30 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

type Server struct {
	ctl             Controller
	discoverTimeout time.Duration
	pingInterval    time.Duration
	log             *zap.Logger
}

// NewRouter wires all /api/v1/* routes and returns a http.Handler.
func NewRouter(ctl Controller, discoverTimeout time.Duration, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if discoverTimeout <= 0 {
		discoverTimeout = DefaultDiscoverTimeout
	}
	s := &Server{ctl: ctl, discoverTimeout: discoverTimeout, pingInterval: 20 * time.Second, log: log}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.status)
	mux.HandleFunc("POST /api/v1/discover", s.discover)
	mux.HandleFunc("POST /api/v1/disconnect", s.disconnect)

	mux.HandleFunc("POST /api/v1/motors/{motor}/start", s.motorCommand(Controller.StartMotor))
	mux.HandleFunc("POST /api/v1/motors/{motor}/stop", s.motorCommand(Controller.StopMotor))
	mux.HandleFunc("POST /api/v1/motors/{motor}/power", s.setPower)
	mux.HandleFunc("POST /api/v1/motors/{motor}/direction", s.setDirection)

	mux.HandleFunc("GET /api/v1/events", s.eventStream)

	return withLogging(s.log, mux)
}

type statusResponse struct {
	State   string `json:"state"`
	Pending int    `json:"pending"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) snapshot() statusResponse {
	return statusResponse{State: s.ctl.State().String(), Pending: s.ctl.Pending()}
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.discoverTimeout)
	defer cancel()
	if err := s.ctl.Discover(ctx); err != nil {
		s.fail(w, "discover", err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) disconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.ctl.Disconnect(); err != nil {
		s.fail(w, "disconnect", err)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) motorCommand(cmd func(Controller, aar.Motor) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.motor(w, r)
		if !ok {
			return
		}
		if err := cmd(s.ctl, m); err != nil {
			s.fail(w, "motor command", err)
			return
		}
		writeJSON(w, http.StatusAccepted, s.snapshot())
	}
}

type powerRequest struct {
	Power *float64 `json:"power"`
}

func (s *Server) setPower(w http.ResponseWriter, r *http.Request) {
	m, ok := s.motor(w, r)
	if !ok {
		return
	}
	var req powerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Power == nil {
		http.Error(w, "power required", http.StatusBadRequest)
		return
	}
	if err := s.ctl.SetMotorPower(m, *req.Power); err != nil {
		s.fail(w, "set power", err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.snapshot())
}

type directionRequest struct {
	Direction string `json:"direction"`
}

func (s *Server) setDirection(w http.ResponseWriter, r *http.Request) {
	m, ok := s.motor(w, r)
	if !ok {
		return
	}
	var req directionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	d, err := aar.ParseDirection(req.Direction)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.ctl.SetMotorDirection(m, d); err != nil {
		s.fail(w, "set direction", err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.snapshot())
}

func (s *Server) motor(w http.ResponseWriter, r *http.Request) (aar.Motor, bool) {
	m, err := aar.ParseMotor(r.PathValue("motor"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return m, true
}

// fail maps adapter errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("server: "+op, zap.Error(err))
	}
	http.Error(w, err.Error(), code)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, aar.ErrInvalidMotor),
		errors.Is(err, aar.ErrInvalidPower),
		errors.Is(err, aar.ErrInvalidDirection):
		return http.StatusBadRequest
	case errors.Is(err, aar.ErrNotConnected),
		errors.Is(err, aar.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, aar.ErrNoDevice):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

// ── WebSocket event stream ────────────────────────────────────────────────

type eventMessage struct {
	Event   string    `json:"event"`
	State   string    `json:"state,omitempty"`
	Pending *int      `json:"pending,omitempty"`
	Time    time.Time `json:"time"`
}

// eventStream sends a status message on open, then one message per
// connection event. Events that arrive while the client is slow are dropped.
func (s *Server) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("server: ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	events := make(chan aar.Event, 16)
	push := func(e aar.Event) func() {
		return func() {
			select {
			case events <- e:
			default:
			}
		}
	}
	onConnected := s.ctl.OnFunc(aar.EventConnected, push(aar.EventConnected))
	onDisconnected := s.ctl.OnFunc(aar.EventDisconnected, push(aar.EventDisconnected))
	defer s.ctl.Off(aar.EventConnected, onConnected)
	defer s.ctl.Off(aar.EventDisconnected, onDisconnected)

	// reader goroutine only notices the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	st := s.snapshot()
	hello := eventMessage{Event: "status", State: st.State, Pending: &st.Pending, Time: time.Now().UTC()}
	if err := conn.WriteJSON(hello); err != nil {
		s.log.Debug("server: ws write", zap.Error(err))
		return
	}

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case e := <-events:
			msg := eventMessage{Event: e.String(), State: s.ctl.State().String(), Time: time.Now().UTC()}
			if err := conn.WriteJSON(msg); err != nil {
				s.log.Debug("server: ws write", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// ── Middleware ────────────────────────────────────────────────────────────

func withLogging(log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("server",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.code),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	code int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the wrapped connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(rw.ResponseWriter).Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

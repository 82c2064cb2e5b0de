// Package server hosts the framed websocket endpoint the companion apps talk
// to. It owns connection lifecycle and the envelope protocol; request
// semantics live in the route package.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/modular"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ezbook/autoserver/route"
)

// DefaultAddr is where the daemon listens when no address is configured.
// Loopback only: the companion apps live on the same device.
const DefaultAddr = "127.0.0.1:52045"

// writeTimeout bounds every frame write. We don't use websocket's ping-pong
// mechanism, instead relying on TCP keep-alive.
const writeTimeout = 10 * time.Second

// ErrTooManyConnections means the connection cap was exceeded. The supervisor
// treats it as a configuration fault and does not restart the worker.
var ErrTooManyConnections = errors.New("too many connections")

// ErrBind means the listener could not be established, usually because the
// port is taken. Also fatal to the supervisor.
var ErrBind = errors.New("bind failed")

// Envelope is the wire frame: a request carries an opaque id, a
// "module/function" type and an object payload.
type Envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type reply struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Metrics receives transport-level counters. A nil value disables them.
type Metrics interface {
	RecordRequest(module, function, status string)
	ConnectionOpened()
	ConnectionClosed()
}

// Server accepts companion connections and dispatches their envelopes
// through the route registry. One goroutine per connection; frames on a
// connection are processed and answered in order.
type Server struct {
	addr        string
	maxConns    int
	registry    *route.Registry
	deps        *route.Deps
	logger      modular.Logger
	metrics     Metrics
	metricsPage http.Handler

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	ln       net.Listener

	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	fatal chan error
}

// Option customizes a Server.
type Option func(*Server)

// WithMaxConnections caps simultaneous connections; 0 means unlimited.
func WithMaxConnections(n int) Option {
	return func(s *Server) { s.maxConns = n }
}

// WithMetrics wires the transport counters.
func WithMetrics(m Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMetricsPage mounts h at /metrics on the same listener.
func WithMetricsPage(h http.Handler) Option {
	return func(s *Server) { s.metricsPage = h }
}

// New builds a Server bound to addr once Start is called.
func New(addr string, registry *route.Registry, deps *route.Deps, logger modular.Logger, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		registry: registry,
		deps:     deps,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*websocket.Conn]bool),
		fatal: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and begins serving. A bind failure is returned to
// the caller; everything after that is reported through Fatal.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBind, err)
	}
	s.ln = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveWS)
	if s.metricsPage != nil {
		mux.Handle("/metrics", s.metricsPage)
	}
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("serve stopped", "error", err)
		}
	}()
	s.logger.Info("listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// Fatal delivers conditions the process must not survive, such as the
// connection cap being exceeded.
func (s *Server) Fatal() <-chan error {
	return s.fatal
}

// Stop closes every live connection and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// A response has already been sent to the client by the upgrader.
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	if !s.track(conn) {
		s.logger.Error("connection limit exceeded", "limit", s.maxConns)
		_ = conn.Close()
		s.reportFatal(ErrTooManyConnections)
		return
	}
	defer func() {
		s.drop(conn)
		_ = conn.Close()
	}()
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
		defer s.metrics.ConnectionClosed()
	}
	connID := uuid.NewString()
	s.logger.Info("connection opened", "conn", connID, "remote", conn.RemoteAddr().String())

	// The client waits for this prompt before it sends login.
	if err := s.send(conn, map[string]string{"type": "auth"}); err != nil {
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Warn("read failed", "conn", connID, "error", err)
			} else {
				s.logger.Debug("connection closed", "conn", connID)
			}
			return
		}
		if !s.dispatch(conn, connID, payload) {
			return
		}
	}
}

// dispatch answers one frame. The false return tells the read loop to drop
// the connection.
func (s *Server) dispatch(conn *websocket.Conn, connID string, payload []byte) bool {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.logger.Warn("malformed envelope", "conn", connID, "error", err)
		s.reply(conn, env.ID, env.Type, "error")
		return true
	}
	module, function, ok := strings.Cut(env.Type, "/")
	if !ok {
		s.logger.Warn("envelope type lacks function", "conn", connID, "type", env.Type)
		s.reply(conn, env.ID, env.Type, "error")
		return true
	}

	if module != "login" && !s.authenticated(conn) {
		s.logger.Warn("request before login", "conn", connID, "type", env.Type)
		s.reply(conn, env.ID, env.Type, "Unauthorized")
		return false
	}

	result := s.invoke(module, function, decodeData(env.Data))
	if module == "login" {
		if m, ok := result.(map[string]any); ok {
			if status, ok := m["status"].(int); ok && status == route.LoginOK {
				s.markAuthenticated(conn)
			}
		}
	}
	s.reply(conn, env.ID, env.Type, result)
	return true
}

// invoke runs the handler with panic containment: whatever escapes becomes
// the reply payload and the loop keeps going.
func (s *Server) invoke(module, function string, data map[string]any) (result any) {
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", "module", module, "function", function, "panic", r)
			result = fmt.Sprint(r)
			status = "panic"
		}
		if s.metrics != nil {
			s.metrics.RecordRequest(module, function, status)
		}
	}()

	h, ok := s.registry.New(module, s.deps)
	if !ok {
		s.logger.Warn("unknown module", "module", module)
		status = "unknown"
		return "error"
	}
	return h.Handle(function, data)
}

func (s *Server) reply(conn *websocket.Conn, id, typ string, data any) {
	_ = s.send(conn, reply{ID: id, Type: typ, Data: data})
}

func (s *Server) send(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(v); err != nil {
		s.logger.Warn("write failed", "remote", conn.RemoteAddr().String(), "error", err)
		return err
	}
	return nil
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxConns > 0 && len(s.conns) >= s.maxConns {
		return false
	}
	s.conns[conn] = false
	return true
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) authenticated(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[conn]
}

func (s *Server) markAuthenticated(conn *websocket.Conn) {
	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()
}

func (s *Server) reportFatal(err error) {
	select {
	case s.fatal <- err:
	default:
	}
}

// decodeData unpacks the envelope payload keeping numbers verbatim. Missing
// or non-object payloads become an empty map so handlers never see nil.
func decodeData(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

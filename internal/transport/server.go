package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/codefionn/workbench/internal/event"
	"github.com/codefionn/workbench/internal/messaging"
)

// Router decides who takes an inbound connection.
type Router interface {
	RouteConnection(ctx context.Context, sessionID, path string, conn messaging.Connection) (bool, error)
}

// Server is the http.Handler of the backend socket endpoint.
type Server struct {
	router   Router
	opts     Options
	upgrader websocket.Upgrader

	// ctx outlives single requests and ends with Close.
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	conns map[string]*socketConn
}

// NewServer creates a socket endpoint routing connections through router.
func NewServer(router Router, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:    ctx,
		cancel: cancel,
		router: router,
		opts:   opts.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns: make(map[string]*socketConn),
	}
}

// ServeHTTP upgrades the request and runs the connect handshake.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("Failed to upgrade WebSocket: %v", err)
		return
	}
	ws.SetReadLimit(s.opts.MaxMessageSize)

	hs, err := readHandshake(ws, s.opts.PongWait)
	if err != nil {
		log.Warn("Rejecting socket from %s: %v", r.RemoteAddr, err)
		s.reject(ws, err.Error())
		return
	}
	if hs.Type != typeConnect {
		s.reject(ws, "expected connect handshake")
		return
	}
	sessionID := hs.sessionID()
	if sessionID == "" {
		log.Warn("Rejecting socket for %s: %v", hs.Path, ErrMissingSessionID)
		s.reject(ws, ErrMissingSessionID.Error())
		return
	}

	conn := newSocketConn(ws, hs.Path, s.opts)
	// Handlers may keep the context for the connection's lifetime, which
	// exceeds the upgrade request.
	handled, err := s.router.RouteConnection(s.ctx, sessionID, hs.Path, conn)
	if err != nil || !handled {
		msg := msgUnhandled
		if err != nil {
			msg = err.Error()
		}
		log.Warn("Rejecting connection %s for %s: %s", conn.ID(), hs.Path, msg)
		_ = writeHandshake(ws, handshake{Type: typeConnectError, Message: msg}, s.opts.WriteWait)
		conn.abort()
		return
	}

	if err := writeHandshake(ws, handshake{Type: typeConnected}, s.opts.WriteWait); err != nil {
		log.Error("Failed to confirm connection %s: %v", conn.ID(), err)
		conn.abort()
		return
	}

	s.track(conn)
	conn.release()
	conn.start()
	log.Debug("Opened connection %s for %s (session %s)", conn.ID(), hs.Path, sessionID)
}

func (s *Server) reject(ws *websocket.Conn, message string) {
	_ = writeHandshake(ws, handshake{Type: typeConnectError, Message: message}, s.opts.WriteWait)
	_ = ws.Close()
}

func (s *Server) track(conn *socketConn) {
	s.mu.Lock()
	s.conns[conn.ID()] = conn
	s.mu.Unlock()

	event.Once(conn.OnClose(), func(struct{}) {
		s.mu.Lock()
		delete(s.conns, conn.ID())
		s.mu.Unlock()
	})
}

// Len returns the number of open connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close starts closing every open connection and cancels the context handed
// to connection handlers.
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	conns := make([]*socketConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/workbench/internal/messaging"
)

// ConnectionProvider opens logical connections to the backend.
type ConnectionProvider interface {
	GetConnection(ctx context.Context, path string) (messaging.Connection, error)
}

// Dialer opens connections to a backend socket endpoint on behalf of one
// frontend session.
type Dialer struct {
	// URL of the socket endpoint, e.g. ws://localhost:3000/socket.
	URL string
	// SessionID is sent with every handshake.
	SessionID string
	// Header is added to the upgrade request.
	Header http.Header
	// Options tune the pumps; zero values use DefaultOptions.
	Options Options
	// WebSocket overrides the dialer; nil uses websocket.DefaultDialer.
	WebSocket *websocket.Dialer
}

// GetConnection dials the endpoint and performs the connect handshake for
// path. A refused handshake is returned as *ConnectError.
func (d *Dialer) GetConnection(ctx context.Context, path string) (messaging.Connection, error) {
	opts := d.Options.withDefaults()
	dialer := d.WebSocket
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	ws.SetReadLimit(opts.MaxMessageSize)

	// Unblock the handshake read if ctx ends first.
	stop := context.AfterFunc(ctx, func() {
		_ = ws.SetReadDeadline(time.Now())
	})
	defer stop()

	hello := handshake{
		Type: typeConnect,
		Path: path,
		Auth: map[string]string{FrontendSessionIDKey: d.SessionID},
	}
	if err := writeHandshake(ws, hello, opts.WriteWait); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send handshake: %w", err)
	}

	reply, err := readHandshake(ws, opts.PongWait)
	if err != nil {
		_ = ws.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	switch reply.Type {
	case typeConnected:
	case typeConnectError:
		_ = ws.Close()
		return nil, &ConnectError{Path: path, Message: reply.Message}
	default:
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected handshake reply %q", reply.Type)
	}

	if !stop() {
		_ = ws.Close()
		return nil, ctx.Err()
	}

	conn := newSocketConn(ws, path, opts)
	conn.start()
	log.Debug("Connected %s to %s", conn.ID(), path)
	return conn, nil
}

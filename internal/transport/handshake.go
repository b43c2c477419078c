package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// FrontendSessionIDKey is the handshake auth key carrying the session id.
const FrontendSessionIDKey = "sessionId"

const (
	typeConnect      = "connect"
	typeConnected    = "connected"
	typeConnectError = "connect_error"

	msgUnhandled = "unhandled connection"
)

// ErrMissingSessionID rejects a handshake without a usable session id.
var ErrMissingSessionID = errors.New("missing auth." + FrontendSessionIDKey)

// ConnectError is returned by the client when the server refused a
// connection.
type ConnectError struct {
	Path    string
	Message string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s", e.Path, e.Message)
}

type handshake struct {
	Type    string            `json:"type"`
	Path    string            `json:"path,omitempty"`
	Auth    map[string]string `json:"auth,omitempty"`
	Message string            `json:"message,omitempty"`
}

func (h *handshake) sessionID() string {
	return strings.TrimSpace(h.Auth[FrontendSessionIDKey])
}

func writeHandshake(ws *websocket.Conn, h handshake, wait time.Duration) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(wait))
	return ws.WriteMessage(websocket.TextMessage, data)
}

func readHandshake(ws *websocket.Conn, wait time.Duration) (*handshake, error) {
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	kind, data, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if kind != websocket.TextMessage {
		return nil, errors.New("handshake must be a text frame")
	}
	var h handshake
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}
	return &h, nil
}
